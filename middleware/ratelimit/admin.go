package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/policy"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxPolicyBody = 1 << 20

type AdminOptions struct {
	Admin *application.Admin

	// LoadPolicy transforma o corpo YAML do PUT em catálogo validado.
	// Sem ele o PUT responde 501.
	LoadPolicy func(body []byte) (*policy.Catalog, error)

	// Gatherer expõe /metrics. Opcional.
	Gatherer prometheus.Gatherer

	// Health é consultado em /healthz (ex.: ping no Redis). Opcional.
	Health func(ctx context.Context) error

	Logger *zap.Logger
}

type adminHandler struct {
	opts AdminOptions
}

// AdminHandler monta as rotas administrativas. Deve ficar num listener separado
// do tráfego público.
func AdminHandler(opts AdminOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &adminHandler{opts: opts}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := router.PathPrefix("/admin/v1").Subrouter()
	v1.HandleFunc("/subjects", h.inspect).Methods(http.MethodGet)
	v1.HandleFunc("/violations/{scope}/{id}", h.clearViolations).Methods(http.MethodDelete)
	v1.HandleFunc("/policy", h.getPolicy).Methods(http.MethodGet)
	v1.HandleFunc("/policy", h.putPolicy).Methods(http.MethodPut)
	return router
}

type errorResponse struct {
	Error string `json:"error"`
}

type ruleView struct {
	Name          string `json:"name"`
	Scope         string `json:"scope"`
	Category      string `json:"category"`
	Requests      int    `json:"requests"`
	WindowSeconds int    `json:"window_seconds"`
	Fingerprint   string `json:"fingerprint"`
}

type penaltyView struct {
	Enabled                bool    `json:"enabled"`
	BasePenaltySeconds     int     `json:"base_penalty_seconds"`
	Multiplier             float64 `json:"multiplier"`
	MaxPenaltySeconds      int     `json:"max_penalty_seconds"`
	ViolationWindowSeconds int     `json:"violation_window_seconds"`
}

type policyView struct {
	Enabled        bool        `json:"enabled"`
	KeyPrefix      string      `json:"key_prefix"`
	Rules          []ruleView  `json:"rules"`
	Penalties      penaltyView `json:"penalties"`
	WhitelistRules int         `json:"whitelist_rules"`
}

func (h *adminHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.opts.Logger.Warn("admin response encode failed", zap.Error(err))
	}
}

func (h *adminHandler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *adminHandler) health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := h.opts.Health(ctx); err != nil {
			// degradado continua servindo (fallback local), só sinaliza
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *adminHandler) inspect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := domain.Request{
		SourceIP:   q.Get("ip"),
		UserID:     q.Get("user"),
		Role:       q.Get("role"),
		EndpointID: q.Get("endpoint"),
		Path:       q.Get("path"),
		UserAgent:  q.Get("user_agent"),
	}
	if req.EndpointID == "" && req.Path != "" {
		req.EndpointID = h.opts.Admin.Policy().EndpointFor(req.Path)
	}

	snap, err := h.opts.Admin.Inspect(r.Context(), req)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *adminHandler) clearViolations(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	subject := domain.Subject{Scope: domain.Scope(vars["scope"]), ID: vars["id"]}

	err := h.opts.Admin.ClearViolations(r.Context(), subject)
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case err != nil:
		h.opts.Logger.Error("clear violations failed", zap.String("subject", subject.String()), zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *adminHandler) getPolicy(w http.ResponseWriter, _ *http.Request) {
	cat := h.opts.Admin.Policy()
	pen := cat.Penalties()
	view := policyView{
		Enabled:   cat.Enabled(),
		KeyPrefix: cat.KeyPrefix(),
		Penalties: penaltyView{
			Enabled:                pen.Enabled,
			BasePenaltySeconds:     int(pen.Base / time.Second),
			Multiplier:             pen.Multiplier,
			MaxPenaltySeconds:      int(pen.Max / time.Second),
			ViolationWindowSeconds: int(pen.ViolationWindow / time.Second),
		},
		WhitelistRules: cat.Whitelist().Size(),
	}
	for _, rule := range cat.Rules() {
		view.Rules = append(view.Rules, ruleView{
			Name:          rule.Name,
			Scope:         string(rule.Scope),
			Category:      string(rule.Category),
			Requests:      rule.Requests,
			WindowSeconds: int(rule.Window / time.Second),
			Fingerprint:   rule.Fingerprint(),
		})
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *adminHandler) putPolicy(w http.ResponseWriter, r *http.Request) {
	if h.opts.LoadPolicy == nil {
		h.writeError(w, http.StatusNotImplemented, errors.New("policy reload not configured"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPolicyBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	cat, err := h.opts.LoadPolicy(body)
	if err != nil {
		status := http.StatusInternalServerError
		if domain.IsConfigurationError(err) {
			status = http.StatusBadRequest
		}
		h.writeError(w, status, err)
		return
	}
	if err := h.opts.Admin.ReplacePolicy(cat); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.getPolicy(w, r)
}
