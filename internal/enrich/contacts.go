package enrich

import (
	"regexp"
	"sort"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// UK-style numbers: +44 or 0 prefix, then digit groups with optional
	// spaces, parens or dashes.
	phoneRe = regexp.MustCompile(`(?:\+44[\s\-]?|\(?0\d{2,4}\)?[\s\-]?)\d{3,4}(?:[\s\-]?\d{3,4}){1,2}`)

	freeMailDomains = []string{"gmail.com", "hotmail.com", "hotmail.co.uk", "yahoo.com", "yahoo.co.uk", "outlook.com", "aol.com", "icloud.com"}
)

// extractEmails pulls distinct addresses from page text, keeping only role
// mailboxes unless personal addresses are explicitly allowed, ranked by the
// configured prefix order. Capped at five.
func (e *Enricher) extractEmails(text string) []string {
	type ranked struct {
		addr string
		rank int
	}

	seen := map[string]bool{}
	var out []ranked

	for _, raw := range emailRe.FindAllString(text, -1) {
		addr := strings.ToLower(strings.Trim(raw, "."))
		if seen[addr] {
			continue
		}
		seen[addr] = true

		local, domain, ok := splitEmail(addr)
		if !ok {
			continue
		}
		if isFreeMail(domain) && !e.cfg.IncludePersonalEmails {
			continue
		}

		rank := e.rolePrefixRank(local)
		if rank < 0 && !e.cfg.IncludePersonalEmails {
			continue
		}
		if rank < 0 {
			rank = len(e.cfg.RolePrefixes)
		}
		out = append(out, ranked{addr: addr, rank: rank})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].rank < out[j].rank })
	if len(out) > 5 {
		out = out[:5]
	}

	emails := make([]string, len(out))
	for i, r := range out {
		emails[i] = r.addr
	}
	return emails
}

// rolePrefixRank returns the index of the first configured role prefix the
// local part starts with, or -1 for a personal-looking address.
func (e *Enricher) rolePrefixRank(local string) int {
	local = strings.ToLower(local)
	for i, p := range e.cfg.RolePrefixes {
		if strings.HasPrefix(local, strings.ToLower(p)) {
			return i
		}
	}
	return -1
}

func splitEmail(addr string) (local, domain string, ok bool) {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}

func isFreeMail(domain string) bool {
	for _, d := range freeMailDomains {
		if domain == d {
			return true
		}
	}
	return false
}

// extractPhones pulls distinct phone numbers from page text, deduplicating
// by digit sequence. Capped at three.
func extractPhones(text string) []string {
	seen := map[string]bool{}
	var out []string

	for _, raw := range phoneRe.FindAllString(text, -1) {
		digits := digitsOnly(raw)
		if len(digits) < 10 {
			continue
		}
		if seen[digits] {
			continue
		}
		seen[digits] = true
		out = append(out, strings.TrimSpace(raw))
		if len(out) >= 3 {
			break
		}
	}
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
