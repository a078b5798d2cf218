package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskAPIKey(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Long API Key",
			input:    "sk-proj-1234567890abcdefghij",
			expected: "sk-p...ghij",
		},
		{
			name:     "Short API Key",
			input:    "short",
			expected: "****",
		},
		{
			name:     "Exactly 8 Characters",
			input:    "12345678",
			expected: "****",
		},
		{
			name:     "9 Characters",
			input:    "123456789",
			expected: "1234...6789",
		},
		{
			name:     "Empty String",
			input:    "",
			expected: "****",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := MaskAPIKey(tc.input)
			assert.Equal(t, tc.expected, result)

			if len(tc.input) > 8 {
				assert.NotEqual(t, tc.input, result)
				assert.Contains(t, result, "...")
			}
		})
	}
}
