package wildcard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		want    bool
	}{
		{"empty pattern matches everything", "", "anything", true},
		{"bare star matches everything", "*", "", true},
		{"exact literal", "api-key", "api-key", true},
		{"literal mismatch", "api-key", "api-key2", false},
		{"prefix star", "*-key", "api-key", true},
		{"suffix star", "api-*", "api-key", true},
		{"interior star", "a*z", "abcz", true},
		{"interior star empty span", "a*z", "az", true},
		{"star backtracks", "a*bc", "abxbc", true},
		{"multiple stars", "*a*b*", "xaybz", true},
		{"question marks one char", "ke?", "key", true},
		{"question needs a char", "ke?", "ke", false},
		{"class match", "secret[0-9]", "secret7", true},
		{"class miss", "secret[0-9]", "secretx", false},
		{"negated class", "secret[^0-9]", "secretx", true},
		{"negated class miss", "secret[^0-9]", "secret7", false},
		{"bang negation", "secret[!ab]", "secretc", true},
		{"class with literals", "[abc]ey", "key", false},
		{"range and literal mixed", "[a-cx]ey", "xey", true},
		{"unclosed class never matches", "secret[0-9", "secret7", false},
		{"star consumes whole name", "*", "whatever", true},
		{"trailing star after match", "api*", "api", true},
		{"pattern longer than name", "api-key-extra", "api-key", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.input),
				"pattern=%q input=%q", tt.pattern, tt.input)
		})
	}
}

func TestEscape(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain name", "api-key"},
		{"star in name", "weird*name"},
		{"question in name", "who?"},
		{"bracket in name", "arr[0]"},
		{"everything at once", "a*b?c[d]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped := Escape(tt.input)
			assert.True(t, Match(escaped, tt.input), "escaped pattern must match the literal")
		})
	}

	// An escaped pattern must not behave as a wildcard.
	assert.False(t, Match(Escape("a*"), "abc"))
	assert.False(t, Match(Escape("k?y"), "key"))
}
