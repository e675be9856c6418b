// Package identity derives stable work-item keys from page addresses.
package identity

import (
	"net/url"
	"strings"
)

// Platform describes the hosts that serve generation-eligible pages.
type Platform struct {
	// WatchHosts serve /watch?v=KEY and /shorts|embed|live/KEY pages.
	// Subdomains of a listed host match too.
	WatchHosts []string
	// ShortHosts serve path-embedded /KEY links.
	ShortHosts []string
}

// YouTube is the default platform.
var YouTube = Platform{
	WatchHosts: []string{"youtube.com", "youtube-nocookie.com"},
	ShortHosts: []string{"youtu.be"},
}

// pathPrefixes are the path-embedded forms served by watch hosts.
var pathPrefixes = []string{"/shorts/", "/embed/", "/live/", "/v/"}

// Resolver maps addresses to work-item keys. The zero value resolves nothing.
type Resolver struct {
	watch []string
	short []string
}

// New builds a Resolver for p.
func New(p Platform) *Resolver {
	return &Resolver{watch: normalizeHosts(p.WatchHosts), short: normalizeHosts(p.ShortHosts)}
}

// Resolve returns the work-item key referenced by address. ok is false when
// the address does not point at a generation-eligible subject.
func (r *Resolver) Resolve(address string) (key string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case matchHost(host, r.short):
		key = firstSegment(u.Path)
	case matchHost(host, r.watch):
		if u.Path == "/watch" || u.Path == "/watch/" {
			key = u.Query().Get("v")
			break
		}
		for _, prefix := range pathPrefixes {
			if strings.HasPrefix(u.Path, prefix) {
				key = firstSegment(strings.TrimPrefix(u.Path, prefix[:len(prefix)-1]))
				break
			}
		}
	default:
		return "", false
	}

	if !validKey(key) {
		return "", false
	}
	return key, true
}

// Eligible reports whether address is served by the platform at all, video
// page or not.
func (r *Resolver) Eligible(address string) bool {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return matchHost(host, r.watch) || matchHost(host, r.short)
}

// SameSubject reports whether both addresses resolve to the same key.
func (r *Resolver) SameSubject(a, b string) bool {
	ka, ok := r.Resolve(a)
	if !ok {
		return false
	}
	kb, ok := r.Resolve(b)
	return ok && ka == kb
}

func firstSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}

func matchHost(host string, hosts []string) bool {
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, "www.")
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}
