// Package normalize canonicalizes free-text organization names, countries
// and addresses into comparable forms. Everything here is pure: no I/O, and
// nil/empty input yields an empty result rather than an error.
package normalize

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	spaceRe       = regexp.MustCompile(`\s+`)
	leadingJunkRe = regexp.MustCompile("^[\\s\"'`*@\\[\\](){}<>#!$%^&=+;:,.\\-/\\\\]+")
	nonAlnumRe    = regexp.MustCompile(`[^A-Z0-9 ]+`)
)

// legalSuffixes are removed from entity-normalized names before comparison.
// Longer forms come first so "LIMITED" is stripped before "LTD" would
// partially match.
var legalSuffixes = []string{
	" LIMITED", " LTD", " L.T.D", " LLP", " PLC",
	" (UK)", " UK", " GROUP", " HOLDINGS", " HOLDING",
	" INTERNATIONAL", " INTL",
}

// foldDiacritics maps accented characters to their ASCII base form.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Clean collapses whitespace and trims the string.
func Clean(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// CleanUpper is Clean followed by upper-casing.
func CleanUpper(s string) string {
	return strings.ToUpper(Clean(s))
}

// DisplayName strips leading punctuation noise from a raw organization name
// and collapses whitespace, preserving case for display.
func DisplayName(name string) string {
	return Clean(leadingJunkRe.ReplaceAllString(Clean(name), ""))
}

// ForMatch produces the entity-normalized form of a name: diacritics folded,
// upper-cased, punctuation stripped, common legal suffixes removed, and a
// leading "THE " dropped. Suitable for token-set comparison and key
// derivation.
func ForMatch(name string) string {
	s, _, err := transform.String(foldDiacritics, name)
	if err != nil {
		s = name
	}
	s = CleanUpper(s)
	s = Clean(nonAlnumRe.ReplaceAllString(s, " "))
	for _, suf := range legalSuffixes {
		s = strings.ReplaceAll(s, suf, "")
	}
	s = Clean(s)
	s = strings.TrimPrefix(s, "THE ")
	return s
}

// ForKey is the dedup-key form of a name: diacritics folded, upper-cased,
// punctuation collapsed to spaces. Legal suffixes stay, so "ACME LTD" and
// "ACME GROUP" remain distinct register entries.
func ForKey(name string) string {
	s, _, err := transform.String(foldDiacritics, name)
	if err != nil {
		s = name
	}
	return Clean(nonAlnumRe.ReplaceAllString(CleanUpper(s), " "))
}

// NameVariants generates up to four search query variants for a name, in
// preference order: the cleaned raw name, the suffix-stripped form, and
// "&"/"and" substitutions. Duplicates are removed.
func NameVariants(name string) []string {
	raw := DisplayName(name)
	stripped := ForMatch(raw)

	candidates := []string{
		raw,
		stripped,
		ForMatch(strings.ReplaceAll(raw, "&", " and ")),
		Clean(strings.ReplaceAll(stripped, " AND ", " & ")),
	}

	var out []string
	for _, v := range candidates {
		v = Clean(v)
		if v == "" {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == v {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	if len(out) > 4 {
		out = out[:4]
	}
	return out
}

// NonAlnumRatio returns the fraction of characters that are neither
// alphanumeric nor spaces. Empty input counts as all-noise.
func NonAlnumRatio(s string) float64 {
	if s == "" {
		return 1.0
	}
	non := 0
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' {
			non++
		}
	}
	return float64(non) / float64(len([]rune(s)))
}

// TokenSetRatio computes a 0..100 token-set similarity between two strings.
// Both sides are entity-normalized, tokenized, and compared as the sorted
// intersection against each side's sorted full token set, taking the best
// pairwise similarity. Order and duplicate tokens do not affect the result.
func TokenSetRatio(a, b string) int {
	ta := tokenSet(ForMatch(a))
	tb := tokenSet(ForMatch(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var inter, onlyA, onlyB []string
	for tok := range ta {
		if tb[tok] {
			inter = append(inter, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range tb {
		if !ta[tok] {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(inter, " ")
	full1 := Clean(sect + " " + strings.Join(onlyA, " "))
	full2 := Clean(sect + " " + strings.Join(onlyB, " "))

	best := levenshtein.Similarity(full1, full2, nil)
	if sect != "" {
		if s := levenshtein.Similarity(sect, full1, nil); s > best {
			best = s
		}
		if s := levenshtein.Similarity(sect, full2, nil); s > best {
			best = s
		}
	}
	return int(best*100 + 0.5)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

// IsDomestic reports whether a country string refers to a domestic
// jurisdiction. An empty string is treated as domestic so that missing data
// is never penalized as foreign.
func IsDomestic(country string, domestic []string) bool {
	c := CleanUpper(country)
	if c == "" {
		return true
	}
	for _, d := range domestic {
		if c == strings.ToUpper(d) {
			return true
		}
	}
	return false
}

// Domain extracts the lower-cased host from a URL, tolerating scheme-less
// input. Returns "" when the URL cannot be parsed.
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
