package fetch

import "net/http"

// Profile is an extra header set used for hybrid re-fetches of pages that
// came back truncated. Empty fields are not sent.
type Profile struct {
	Referer        string
	AcceptLanguage string
}

func (p Profile) apply(h http.Header) {
	if p.Referer != "" {
		h.Set("Referer", p.Referer)
	}
	if p.AcceptLanguage != "" {
		h.Set("Accept-Language", p.AcceptLanguage)
	}
}

// IsZero reports whether p adds no headers.
func (p Profile) IsZero() bool { return p == Profile{} }

// HeaderProfiles returns the deterministic hybrid profiles: every referer
// crossed with every language, then each language alone, then each referer
// alone. Duplicates are dropped and the list is capped at
// HybridProfileLimit (default 6, negative disables).
func (c *Client) HeaderProfiles() []Profile {
	limit := c.HybridProfileLimit
	if limit == 0 {
		limit = 6
	}
	if limit < 0 {
		return nil
	}
	languages := orDefault(c.AcceptLanguages, DefaultAcceptLanguages)
	referers := c.Referers
	if referers == nil {
		referers = DefaultReferers
	}

	var all []Profile
	for _, r := range referers {
		for _, l := range languages {
			all = append(all, Profile{Referer: r, AcceptLanguage: l})
		}
	}
	for _, l := range languages {
		all = append(all, Profile{AcceptLanguage: l})
	}
	for _, r := range referers {
		all = append(all, Profile{Referer: r})
	}

	seen := make(map[Profile]bool, len(all))
	out := make([]Profile, 0, limit)
	for _, p := range all {
		if seen[p] || p.IsZero() {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out
}
