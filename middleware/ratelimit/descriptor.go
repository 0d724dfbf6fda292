package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// DescriptorFunc extrai o descritor de admissão de uma requisição HTTP.
type DescriptorFunc func(r *http.Request) domain.Request

// DescriptorOptions controla DefaultDescriptorFunc.
type DescriptorOptions struct {
	TrustXForwardedFor bool
	UserHeader         string // default X-User-ID
	RoleHeader         string // default X-User-Role

	// EndpointFor mapeia path -> id de endpoint. Vazio cai no próprio path.
	EndpointFor func(path string) string
}

// ClientIP devolve o IP do cliente. X-Forwarded-For só é lido quando o gateway
// está atrás de um proxy confiável; senão qualquer cliente forja o próprio IP.
func ClientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				ip := strings.TrimSpace(parts[0])
				if ip != "" {
					return ip
				}
			}
		}
	}

	// fallback: RemoteAddr
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return domain.UnknownIP
}

func DefaultDescriptorFunc(opts DescriptorOptions) DescriptorFunc {
	if opts.UserHeader == "" {
		opts.UserHeader = "X-User-ID"
	}
	if opts.RoleHeader == "" {
		opts.RoleHeader = "X-User-Role"
	}

	return func(r *http.Request) domain.Request {
		path := r.URL.Path
		endpoint := ""
		if opts.EndpointFor != nil {
			endpoint = opts.EndpointFor(path)
		}
		if endpoint == "" {
			endpoint = path
		}
		return domain.Request{
			SourceIP:   ClientIP(r, opts.TrustXForwardedFor),
			UserID:     strings.TrimSpace(r.Header.Get(opts.UserHeader)),
			Role:       r.Header.Get(opts.RoleHeader),
			EndpointID: endpoint,
			Path:       path,
			UserAgent:  r.UserAgent(),
		}.Normalize()
	}
}
