package storage

// Cookie is the subset of browser cookie fields persisted in dump artifacts.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// GroupCookiesByDomain buckets cookies for the one-file-per-domain layout.
func GroupCookiesByDomain(cookies []Cookie) map[string][]Cookie {
	out := make(map[string][]Cookie)
	for _, c := range cookies {
		key := SanitizeDomain(c.Domain)
		out[key] = append(out[key], c)
	}
	return out
}
