package policy

import (
	"net/netip"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// Whitelist é somente leitura em tempo de avaliação.
type Whitelist struct {
	ips        map[netip.Addr]struct{}
	prefixes   []netip.Prefix
	userAgents map[string]struct{}
	paths      map[string]struct{}
	pathPrefix []string
}

// NewWhitelist aceita IPs exatos ou CIDR, user agents (comparação sem caixa)
// e paths exatos ou terminados em "*" (prefixo).
func NewWhitelist(ips, userAgents, paths []string) (*Whitelist, error) {
	w := &Whitelist{
		ips:        make(map[netip.Addr]struct{}),
		userAgents: make(map[string]struct{}),
		paths:      make(map[string]struct{}),
	}
	for _, raw := range ips {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, &domain.ConfigurationError{Field: "whitelist.ips", Reason: "invalid CIDR " + v}
			}
			w.prefixes = append(w.prefixes, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, &domain.ConfigurationError{Field: "whitelist.ips", Reason: "invalid IP " + v}
		}
		w.ips[a.Unmap()] = struct{}{}
	}
	for _, ua := range userAgents {
		if v := strings.ToLower(strings.TrimSpace(ua)); v != "" {
			w.userAgents[v] = struct{}{}
		}
	}
	for _, p := range paths {
		v := strings.TrimSpace(p)
		switch {
		case v == "":
		case strings.HasSuffix(v, "*"):
			w.pathPrefix = append(w.pathPrefix, strings.TrimSuffix(v, "*"))
		default:
			w.paths[v] = struct{}{}
		}
	}
	return w, nil
}

// Match verifica, nessa ordem, IP, user agent e path. Retorna o motivo da isenção.
func (w *Whitelist) Match(req domain.Request) (string, bool) {
	if w == nil {
		return "", false
	}
	if w.matchIP(req.SourceIP) {
		return "ip", true
	}
	if _, ok := w.userAgents[strings.ToLower(req.UserAgent)]; ok && req.UserAgent != "" {
		return "user_agent", true
	}
	if req.Path != "" {
		if _, ok := w.paths[req.Path]; ok {
			return "path", true
		}
		for _, p := range w.pathPrefix {
			if strings.HasPrefix(req.Path, p) {
				return "path", true
			}
		}
	}
	return "", false
}

func (w *Whitelist) matchIP(ip string) bool {
	if len(w.ips) == 0 && len(w.prefixes) == 0 {
		return false
	}
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	if _, ok := w.ips[a]; ok {
		return true
	}
	for _, p := range w.prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func (w *Whitelist) Size() int {
	if w == nil {
		return 0
	}
	return len(w.ips) + len(w.prefixes) + len(w.userAgents) + len(w.paths) + len(w.pathPrefix)
}
