// Package persona holds the catalog of subject tutors a chat can be started
// with.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona is a named system-instruction profile.
type Persona struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Color        string `yaml:"color,omitempty"`
	Description  string `yaml:"description,omitempty"`
	SystemPrompt string `yaml:"system_prompt"`
	// ThinkingBudget is a reasoning-effort hint; zero means unset.
	ThinkingBudget int `yaml:"thinking_budget,omitempty"`
}

// Greeting is the first assistant line shown when the persona is selected.
func (p Persona) Greeting() string {
	return fmt.Sprintf("Olá! Eu sou sua assistente de **%s**. Como posso te ajudar hoje?", p.Name)
}

// DefaultID is the persona used when none is requested.
const DefaultID = "general"

// Catalog is an ordered, read-only set of personas.
type Catalog struct {
	personas []Persona
	byID     map[string]int
}

// NewCatalog validates personas and builds a catalog preserving their order.
func NewCatalog(personas []Persona) (*Catalog, error) {
	if len(personas) == 0 {
		return nil, errors.New("persona catalog is empty")
	}
	c := &Catalog{byID: make(map[string]int, len(personas))}
	for i, p := range personas {
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.ID == "" {
			return nil, fmt.Errorf("persona %d: missing id", i+1)
		}
		if strings.TrimSpace(p.SystemPrompt) == "" {
			return nil, fmt.Errorf("persona %q: missing system_prompt", p.ID)
		}
		if p.ThinkingBudget < 0 {
			return nil, fmt.Errorf("persona %q: thinking_budget must not be negative", p.ID)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("persona %q: duplicate id", p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		c.byID[p.ID] = len(c.personas)
		c.personas = append(c.personas, p)
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(defaultPersonas)
	if err != nil {
		panic(fmt.Sprintf("built-in persona catalog: %v", err))
	}
	return c
}

type catalogFile struct {
	Subjects []Persona `yaml:"subjects"`
}

// LoadFile reads a YAML catalog with a top-level "subjects" list.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personas file: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse personas file %s: %w", path, err)
	}
	c, err := NewCatalog(file.Subjects)
	if err != nil {
		return nil, fmt.Errorf("personas file %s: %w", path, err)
	}
	return c, nil
}

// Load returns the catalog in path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// All returns the personas in catalog order.
func (c *Catalog) All() []Persona {
	return append([]Persona(nil), c.personas...)
}

// Get returns the persona with the given id.
func (c *Catalog) Get(id string) (Persona, bool) {
	i, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Persona{}, false
	}
	return c.personas[i], true
}

// First returns the default persona if present, else the first one.
func (c *Catalog) First() Persona {
	if p, ok := c.Get(DefaultID); ok {
		return p
	}
	return c.personas[0]
}

var defaultPersonas = []Persona{
	{
		ID:           "general",
		Name:         "Assistente Geral",
		Color:        "#6366f1",
		Description:  "Tire dúvidas gerais, organize estudos ou peça dicas.",
		SystemPrompt: "Você é a EduIA, uma assistente escolar amigável e encorajadora. Seu objetivo é ajudar estudantes a aprender. Responda de forma clara, concisa e, se possível, divertida. Use emojis ocasionalmente. Para perguntas gerais, forneça respostas diretas mas educativas.",
	},
	{
		ID:             "math",
		Name:           "Matemática",
		Color:          "#ef4444",
		Description:    "Álgebra, Geometria, Cálculos e Lógica.",
		ThinkingBudget: 8192,
		SystemPrompt:   "Você é um tutor de Matemática especialista. IMPORTANTE: Não dê apenas a resposta final. Explique o problema passo a passo. Ajude o aluno a entender o raciocínio lógico por trás da solução. Se o aluno enviar uma foto de uma equação, resolva-a metodicamente. Use Markdown para formatar fórmulas e números.",
	},
	{
		ID:           "history",
		Name:         "História",
		Color:        "#d97706",
		Description:  "Eventos históricos, datas e contextos sociais.",
		SystemPrompt: "Você é um professor de História apaixonado. Ao responder, forneça contexto histórico, datas importantes e conexões entre eventos. Incentive o pensamento crítico sobre causas e consequências. Conte a história como uma narrativa envolvente.",
	},
	{
		ID:             "science",
		Name:           "Ciências",
		Color:          "#10b981",
		Description:    "Biologia, Física, Química e Natureza.",
		ThinkingBudget: 4096,
		SystemPrompt:   "Você é um guia científico. Explique fenômenos naturais, leis da física, reações químicas ou processos biológicos de maneira acessível. Use analogias do mundo real para explicar conceitos complexos.",
	},
	{
		ID:           "language",
		Name:         "Português",
		Color:        "#ec4899",
		Description:  "Gramática, Redação e Literatura.",
		SystemPrompt: "Você é um professor de Língua Portuguesa e Literatura. Ajude com gramática, ortografia, análise sintática e interpretação de texto. Dê dicas de como escrever melhores redações. Corrija erros gentilmente explicando a regra gramatical.",
	},
	{
		ID:             "coding",
		Name:           "Programação",
		Color:          "#2563eb",
		Description:    "Lógica, Python, JavaScript e Algoritmos.",
		ThinkingBudget: 8192,
		SystemPrompt:   "Você é um mentor de programação experiente. Ajude a depurar código, explicar algoritmos e ensinar lógica de programação. Forneça exemplos de código claros e bem comentados em blocos de código Markdown.",
	},
}
