package config

import (
	"errors"
	"sort"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/policy"
)

type RedisSettings struct {
	Addr          string
	Password      string
	DB            int
	Timeout       time.Duration
	RetryInterval time.Duration
}

type AlertSettings struct {
	Threshold           int
	Window              time.Duration
	PerSubjectPerMinute float64
}

type TelemetrySettings struct {
	QueueSize   int
	Workers     int
	SinkTimeout time.Duration
	RedisStats  bool
}

// Settings é a configuração já validada e convertida para tipos do domínio.
type Settings struct {
	Catalog   *policy.Catalog
	Redis     RedisSettings
	Alerts    AlertSettings
	Telemetry TelemetrySettings
	Geo       bool
	Anomaly   bool
}

func invalid(field, reason string) error {
	return &domain.ConfigurationError{Field: field, Reason: reason}
}

func buildRule(field, name string, scope domain.Scope, category domain.Category, spec *RuleSpec) (*domain.Rule, error) {
	if spec == nil {
		return nil, nil
	}
	r, err := domain.NewRule(name, scope, category, spec.Requests, spec.WindowSeconds)
	if err != nil {
		var ce *domain.ConfigurationError
		if errors.As(err, &ce) {
			return nil, invalid(field+strings.TrimPrefix(ce.Field, "rule "+name), ce.Reason)
		}
		return nil, err
	}
	return &r, nil
}

func (c Config) penaltyPolicy() (domain.PenaltyPolicy, error) {
	p := c.Penalties
	if !p.Enabled {
		return domain.PenaltyPolicy{}, nil
	}
	switch {
	case p.BasePenaltySeconds <= 0:
		return domain.PenaltyPolicy{}, invalid("penalties.base_penalty_seconds", "must be > 0")
	case p.Multiplier < 1:
		return domain.PenaltyPolicy{}, invalid("penalties.multiplier", "must be >= 1")
	case p.MaxPenaltySeconds < p.BasePenaltySeconds:
		return domain.PenaltyPolicy{}, invalid("penalties.max_penalty_seconds", "must be >= base_penalty_seconds")
	case p.ViolationWindowSeconds <= 0:
		return domain.PenaltyPolicy{}, invalid("penalties.violation_window_seconds", "must be > 0")
	}
	return domain.PenaltyPolicy{
		Enabled:         true,
		Base:            time.Duration(p.BasePenaltySeconds) * time.Second,
		Multiplier:      p.Multiplier,
		Max:             time.Duration(p.MaxPenaltySeconds) * time.Second,
		ViolationWindow: time.Duration(p.ViolationWindowSeconds) * time.Second,
	}, nil
}

// Catalog valida a parte de política e monta o catálogo imutável.
func (c Config) Catalog() (*policy.Catalog, error) {
	var (
		t   policy.Tiers
		err error
	)
	t.Enabled = c.Enabled
	t.KeyPrefix = strings.Trim(strings.TrimSpace(c.KeyPrefix), ":")

	type ruleArg struct {
		dst      **domain.Rule
		field    string
		name     string
		scope    domain.Scope
		category domain.Category
		spec     *RuleSpec
	}
	args := []ruleArg{
		{&t.Global.Default, "defaults.global", "global", domain.ScopeGlobal, domain.CategoryDefault, c.Defaults.Global},
		{&t.IP.Default, "defaults.ip", "ip", domain.ScopeIP, domain.CategoryDefault, c.Defaults.IP},
		{&t.User.Default, "defaults.user", "user", domain.ScopeUser, domain.CategoryDefault, c.Defaults.User},
		{&t.Endpoint, "defaults.endpoint", "endpoint", domain.ScopeEndpoint, domain.CategoryDefault, c.Defaults.Endpoint},
		{&t.Global.Burst, "burst.global", "global.burst", domain.ScopeGlobal, domain.CategoryBurst, c.Burst.Global},
		{&t.IP.Burst, "burst.ip", "ip.burst", domain.ScopeIP, domain.CategoryBurst, c.Burst.IP},
		{&t.User.Burst, "burst.user", "user.burst", domain.ScopeUser, domain.CategoryBurst, c.Burst.User},
	}
	for _, a := range args {
		if *a.dst, err = buildRule(a.field, a.name, a.scope, a.category, a.spec); err != nil {
			return nil, err
		}
	}

	t.Roles = make(map[string]policy.Pair, len(c.Roles))
	for name, spec := range c.Roles {
		role := strings.ToLower(strings.TrimSpace(name))
		if role == "" {
			return nil, invalid("roles", "role name is required")
		}
		var p policy.Pair
		if p.Default, err = buildRule("roles."+name+".default", "role:"+role, domain.ScopeRole, domain.CategoryRole, spec.Default); err != nil {
			return nil, err
		}
		if p.Burst, err = buildRule("roles."+name+".burst", "role:"+role+".burst", domain.ScopeRole, domain.CategoryBurst, spec.Burst); err != nil {
			return nil, err
		}
		t.Roles[role] = p
	}

	t.Sensitive = make(map[string]domain.Rule, len(c.Sensitive))
	for cat, spec := range c.Sensitive {
		r, err := buildRule("sensitive."+cat, "sensitive."+cat, domain.ScopeEndpoint, domain.CategorySensitive, &spec)
		if err != nil {
			return nil, err
		}
		t.Sensitive[cat] = *r
	}

	ids := make([]string, 0, len(c.Endpoints))
	for id := range c.Endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		spec := c.Endpoints[id]
		ep := policy.Endpoint{ID: id, Path: strings.TrimSpace(spec.Path), Category: strings.ToLower(strings.TrimSpace(spec.Category))}
		if ep.Override, err = buildRule("endpoints."+id+".limit", "endpoint:"+id, domain.ScopeEndpoint, domain.CategoryEndpoint, spec.Limit); err != nil {
			return nil, err
		}
		t.Endpoints = append(t.Endpoints, ep)
	}

	if t.Penalties, err = c.penaltyPolicy(); err != nil {
		return nil, err
	}
	if t.Whitelist, err = policy.NewWhitelist(c.Whitelist.IPs, c.Whitelist.UserAgents, c.Whitelist.Paths); err != nil {
		return nil, err
	}
	return policy.New(t)
}

// Build valida tudo e devolve Settings prontos para o wiring.
func (c Config) Build() (*Settings, error) {
	cat, err := c.Catalog()
	if err != nil {
		return nil, err
	}

	switch {
	case strings.TrimSpace(c.Redis.Addr) == "":
		return nil, invalid("redis.addr", "is required")
	case c.Redis.DB < 0:
		return nil, invalid("redis.db", "must be >= 0")
	case c.Redis.TimeoutMS <= 0:
		return nil, invalid("redis.timeout_ms", "must be > 0")
	case c.Redis.RetryIntervalMS <= 0:
		return nil, invalid("redis.retry_interval_ms", "must be > 0")
	case c.Alerts.Threshold < 0:
		return nil, invalid("alerts.threshold", "must be >= 0")
	case c.Alerts.Threshold > 0 && c.Alerts.WindowSeconds <= 0:
		return nil, invalid("alerts.window_seconds", "must be > 0")
	case c.Alerts.PerSubjectPerMinute < 0:
		return nil, invalid("alerts.per_subject_per_minute", "must be >= 0")
	case c.Telemetry.QueueSize <= 0:
		return nil, invalid("telemetry.queue_size", "must be > 0")
	case c.Telemetry.Workers <= 0:
		return nil, invalid("telemetry.workers", "must be > 0")
	case c.Telemetry.SinkTimeoutMS <= 0:
		return nil, invalid("telemetry.sink_timeout_ms", "must be > 0")
	}

	return &Settings{
		Catalog: cat,
		Redis: RedisSettings{
			Addr:          c.Redis.Addr,
			Password:      c.Redis.Password,
			DB:            c.Redis.DB,
			Timeout:       time.Duration(c.Redis.TimeoutMS) * time.Millisecond,
			RetryInterval: time.Duration(c.Redis.RetryIntervalMS) * time.Millisecond,
		},
		Alerts: AlertSettings{
			Threshold:           c.Alerts.Threshold,
			Window:              time.Duration(c.Alerts.WindowSeconds) * time.Second,
			PerSubjectPerMinute: c.Alerts.PerSubjectPerMinute,
		},
		Telemetry: TelemetrySettings{
			QueueSize:   c.Telemetry.QueueSize,
			Workers:     c.Telemetry.Workers,
			SinkTimeout: time.Duration(c.Telemetry.SinkTimeoutMS) * time.Millisecond,
			RedisStats:  c.Telemetry.RedisStats,
		},
		Geo:     c.Geo.Enabled,
		Anomaly: c.Anomaly.Enabled,
	}, nil
}

// ParsePolicy é o caminho do PUT administrativo: YAML -> catálogo validado.
// Só a parte de política é considerada; redis/telemetria exigem reinício.
func ParsePolicy(body []byte) (*policy.Catalog, error) {
	cfg, err := Parse(body)
	if err != nil {
		return nil, err
	}
	return cfg.Catalog()
}
