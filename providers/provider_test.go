package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeID(t *testing.T) {
	tests := map[string]string{
		"PMC1234567":  "1234567",
		"pmc42":       "42",
		" 1234567 \n": "1234567",
		"PMC":         "PMC",
		"":            "",
		"Unknown":     "Unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeID(in), "input %q", in)
	}
}
