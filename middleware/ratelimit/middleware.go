package ratelimit

import (
	"net/http"

	"admission-gateway/middleware/ratelimit/application"

	"go.uber.org/zap"
)

type Options struct {
	Engine              *application.Engine
	DescriptorFn        DescriptorFunc
	TrustXForwardedFor  bool
	UserHeader          string
	RoleHeader          string
	RejectStatus        int
	AddRateLimitHeaders bool
	Logger              *zap.Logger
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DescriptorFn == nil {
		d := DescriptorOptions{
			TrustXForwardedFor: opts.TrustXForwardedFor,
			UserHeader:         opts.UserHeader,
			RoleHeader:         opts.RoleHeader,
		}
		if opts.Engine != nil {
			// consulta o catálogo corrente a cada requisição: troca de política vale na hora
			d.EndpointFor = func(path string) string { return opts.Engine.Policy().EndpointFor(path) }
		}
		opts.DescriptorFn = DefaultDescriptorFunc(d)
	}

	return func(next http.Handler) http.Handler {
		if opts.Engine == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := opts.DescriptorFn(r)
			v := opts.Engine.Evaluate(r.Context(), req)

			// negação sempre leva os headers, inclusive a do portão de penalidade
			if opts.AddRateLimitHeaders && (v.Limit > 0 || !v.Allowed) {
				w.Header().Set("X-RateLimit-Limit", formatInt(v.Limit))
				w.Header().Set("X-RateLimit-Remaining", formatInt(v.Remaining))
				w.Header().Set("X-RateLimit-Reset", formatInt64(v.ResetAt.Unix()))
			}

			if !v.Allowed {
				w.Header().Set("Retry-After", formatInt(int(v.RetryAfter.Seconds())))
				fields := []zap.Field{
					zap.String("ip", req.SourceIP),
					zap.String("user", req.UserID),
					zap.String("endpoint", req.EndpointID),
					zap.Bool("penalized", v.Penalized),
					zap.Duration("retry_after", v.RetryAfter),
				}
				if v.LimitingRule != nil {
					fields = append(fields, zap.String("rule", v.LimitingRule.Name))
				}
				opts.Logger.Debug("request rejected", fields...)
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
