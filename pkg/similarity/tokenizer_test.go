package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "keeps order and lower-cases",
			input:    "Explain TCP handshake process",
			expected: []string{"explain", "tcp", "handshake", "process"},
		},
		{
			name:     "drops stop words and punctuation",
			input:    "What is the TCP handshake?",
			expected: []string{"tcp", "handshake"},
		},
		{
			name:     "only stop words",
			input:    "How are YOU??",
			expected: []string{},
		},
		{
			name:     "drops tokens of two runes or fewer",
			input:    "Go vs C++ in a VM",
			expected: []string{},
		},
		{
			name:     "punctuation splits words",
			input:    "client-server/peer-to-peer",
			expected: []string{"client", "server", "peer", "peer"},
		},
		{
			name:     "underscore and digits are word characters",
			input:    "snake_case ipv6 2024",
			expected: []string{"snake_case", "ipv6", "2024"},
		},
		{
			name:     "collapses whitespace runs",
			input:    "  recursion\t\n  stack   ",
			expected: []string{"recursion", "stack"},
		},
		{
			name:     "non-ascii letters split words",
			input:    "résumé naïve café",
			expected: []string{"sum", "caf"},
		},
		{
			name:     "non-latin scripts are dropped",
			input:    "מה זה פרוטוקול TCP",
			expected: []string{"tcp"},
		},
		{
			name:     "cyrillic only",
			input:    "Что такое рекурсия?",
			expected: []string{},
		},
		{
			name:     "empty",
			input:    "",
			expected: []string{},
		},
		{
			name:     "only punctuation",
			input:    "?!...",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.input))
		})
	}
}

func TestTokenize_RepeatedTokensKept(t *testing.T) {
	assert.Equal(t, []string{"loop", "loop", "loop"}, Tokenize("loop LOOP Loop"))
}

func TestIsStopWord(t *testing.T) {
	for _, w := range []string{"how", "what", "the", "their", "could"} {
		assert.True(t, IsStopWord(w), w)
	}
	for _, w := range []string{"tcp", "explain", "What"} {
		assert.False(t, IsStopWord(w), w)
	}
}
