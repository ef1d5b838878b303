package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	id := NewID()

	// Should be in format YYYYMMDD-HHMMSS-RANDOM
	assert.Len(t, id, 22)
	assert.True(t, strings.HasPrefix(id, "20"), id)
	assert.Equal(t, byte('-'), id[8])
	assert.Equal(t, byte('-'), id[15])
}

func TestNewIDAt(t *testing.T) {
	at := time.Date(2025, 3, 9, 7, 5, 1, 0, time.UTC)
	id := newIDAt(at)
	assert.True(t, strings.HasPrefix(id, "20250309-070501-"), id)
	assert.Equal(t, at, ParseIDTime(id))
}

func TestParseIDTime(t *testing.T) {
	tests := []struct {
		id       string
		wantYear int
		wantOK   bool
	}{
		{"20240115-143052-a1b2c3", 2024, true},
		{"20231225-000000-ffffff", 2023, true},
		{"short", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got := ParseIDTime(tt.id)
		if tt.wantOK {
			assert.Equal(t, tt.wantYear, got.Year(), tt.id)
		} else {
			assert.True(t, got.IsZero(), tt.id)
		}
	}
}

func TestShortID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"20240115-143052-a1b2c3", "240115-1430"},
		{"20231225-000000-ffffff", "231225-0000"},
		{"short", "short"}, // Too short, returned as-is
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ShortID(tt.input), tt.input)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.False(t, ids[id], "duplicate ID %s", id)
		ids[id] = true
	}
}
