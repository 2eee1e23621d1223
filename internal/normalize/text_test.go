package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForMatch(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"legal suffix", "Acme Widgets Limited", "ACME WIDGETS"},
		{"ltd suffix", "Acme Widgets Ltd", "ACME WIDGETS"},
		{"llp suffix", "Smith & Jones LLP", "SMITH JONES"},
		{"the prefix", "The Red Lion Ltd", "RED LION"},
		{"diacritics", "Bánh Mì Kitchen Ltd", "BANH MI KITCHEN"},
		{"punctuation", "A.B.C. Trading (UK) Ltd", "A B C TRADING"},
		{"group holdings", "Acme Group Holdings Limited", "ACME"},
		{"whitespace", "  Acme   Widgets  ", "ACME WIDGETS"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ForMatch(tt.in))
		})
	}
}

func TestForKey(t *testing.T) {
	assert.Equal(t, "ACME WIDGETS LTD", ForKey("Acme. Widgets, Ltd"))
	assert.Equal(t, "BANH MI KITCHEN LTD", ForKey("Bánh Mì Kitchen Ltd"))
	// Suffixes survive, unlike ForMatch.
	assert.NotEqual(t, ForKey("Acme Ltd"), ForKey("Acme Group"))
	assert.Equal(t, ForMatch("Acme Ltd"), ForMatch("Acme Group"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Acme Widgets Ltd", DisplayName(`"*Acme Widgets Ltd`))
	assert.Equal(t, "Acme Widgets Ltd", DisplayName("  Acme   Widgets Ltd "))
	assert.Equal(t, "", DisplayName("***"))
}

func TestNameVariants(t *testing.T) {
	variants := NameVariants("Smith & Jones Trading Limited")
	assert.LessOrEqual(t, len(variants), 4)
	assert.Equal(t, "Smith & Jones Trading Limited", variants[0])
	assert.Contains(t, variants, "SMITH JONES TRADING")
	assert.Contains(t, variants, "SMITH AND JONES TRADING")

	// The reverse substitution kicks in for "and" spellings.
	assert.Contains(t, NameVariants("Smith and Jones Ltd"), "SMITH & JONES")

	// No duplicates when substitutions change nothing.
	plain := NameVariants("Acme Widgets Ltd")
	assert.Equal(t, []string{"Acme Widgets Ltd", "ACME WIDGETS"}, plain)
}

func TestTokenSetRatio(t *testing.T) {
	// Identical after normalization.
	assert.Equal(t, 100, TokenSetRatio("Acme Widgets Ltd", "ACME WIDGETS LIMITED"))

	// Token order does not matter.
	assert.Equal(t, 100, TokenSetRatio("Widgets Acme", "Acme Widgets"))

	// Subset scores high via the intersection comparison.
	assert.GreaterOrEqual(t, TokenSetRatio("Acme Widgets", "Acme Widgets Manufacturing"), 90)

	// Unrelated names score low.
	assert.Less(t, TokenSetRatio("Acme Widgets", "Globex Trading"), 50)

	// Empty input.
	assert.Equal(t, 0, TokenSetRatio("", "Acme"))
	assert.Equal(t, 0, TokenSetRatio("Acme", ""))
}

func TestNonAlnumRatio(t *testing.T) {
	assert.Equal(t, 1.0, NonAlnumRatio(""))
	assert.Equal(t, 0.0, NonAlnumRatio("Acme Widgets 123"))
	assert.Equal(t, 1.0, NonAlnumRatio("***"))
	assert.InDelta(t, 0.25, NonAlnumRatio("ab c!"), 0.11)
}

func TestIsDomestic(t *testing.T) {
	domestic := []string{"United Kingdom", "England", "Scotland", "Wales", "Northern Ireland", "Great Britain", "UK"}

	assert.True(t, IsDomestic("United Kingdom", domestic))
	assert.True(t, IsDomestic("england", domestic))
	// Missing data is never treated as foreign.
	assert.True(t, IsDomestic("", domestic))
	assert.False(t, IsDomestic("United States", domestic))
	assert.False(t, IsDomestic("India", domestic))
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "www.acmewidgets.co.uk", Domain("https://www.acmewidgets.co.uk/contact"))
	assert.Equal(t, "acmewidgets.co.uk", Domain("acmewidgets.co.uk"))
	assert.Equal(t, "", Domain(""))
}
