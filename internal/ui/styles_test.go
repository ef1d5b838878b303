package ui

import (
	"bytes"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestPersonaLabel(t *testing.T) {
	s := NewStyles(&bytes.Buffer{})
	assert.Contains(t, s.PersonaLabel("Matemática", "#ef4444"), "Matemática")
	assert.Contains(t, s.PersonaLabel("Geral", ""), "Geral")
}

func TestFormatResult(t *testing.T) {
	s := NewStyles(&bytes.Buffer{})
	assert.Contains(t, s.FormatResult(true, "saved"), SuccessIcon)
	assert.Contains(t, s.FormatResult(true, "saved"), "saved")
	assert.Contains(t, s.FormatResult(false, "failed"), FailIcon)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"curto", 10, "curto"},
		{"Explique o problema passo a passo", 12, "Explique ..."},
		{"Programação", 5, "Pr..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.max), tt.in)
	}
}

func TestColorOverride(t *testing.T) {
	env := func(vars map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			v, ok := vars[k]
			return v, ok
		}
	}

	tests := []struct {
		name    string
		vars    map[string]string
		want    termenv.Profile
		wantSet bool
	}{
		{"unset", nil, termenv.Ascii, false},
		{"no color", map[string]string{"NO_COLOR": "1", "EDUIA_COLOR": "yes"}, termenv.Ascii, true},
		{"empty no color ignored", map[string]string{"NO_COLOR": ""}, termenv.Ascii, false},
		{"forced on", map[string]string{"EDUIA_COLOR": "On"}, termenv.ANSI256, true},
		{"forced off", map[string]string{"EDUIA_COLOR": "0"}, termenv.Ascii, true},
		{"unknown is off", map[string]string{"EDUIA_COLOR": "maybe"}, termenv.Ascii, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := colorOverride(env(tt.vars))
			assert.Equal(t, tt.wantSet, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvBool(t *testing.T) {
	for _, v := range []string{"1", "true", " YES ", "on", "y"} {
		assert.True(t, envBool(v, false), v)
	}
	for _, v := range []string{"0", "false", "No", "off", "n"} {
		assert.False(t, envBool(v, true), v)
	}
	assert.True(t, envBool("", true))
	assert.False(t, envBool("perhaps", false))
}
