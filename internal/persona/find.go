package persona

import (
	"strings"
	"unicode"

	"github.com/sahilm/fuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s and strips diacritics, so "matematica" matches "Matemática".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// searchSource implements fuzzy.Source over "id name" keys.
type searchSource []Persona

func (s searchSource) String(i int) string {
	return s[i].ID + " " + fold(s[i].Name)
}

func (s searchSource) Len() int {
	return len(s)
}

// Find resolves a user query to a persona: exact id, then exact name
// ignoring case and accents, then the best fuzzy match.
func (c *Catalog) Find(query string) (Persona, bool) {
	q := fold(query)
	if q == "" {
		return Persona{}, false
	}
	if p, ok := c.Get(q); ok {
		return p, true
	}
	for _, p := range c.personas {
		if fold(p.Name) == q {
			return p, true
		}
	}

	matches := fuzzy.FindFrom(q, searchSource(c.personas))
	if len(matches) == 0 {
		return Persona{}, false
	}
	return c.personas[matches[0].Index], true
}
