package policy

import (
	"sort"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// Categorias sensíveis aceitas na marcação de endpoints.
var SensitiveCategories = []string{"auth", "upload", "admin", "ml", "search"}

func isSensitive(category string) bool {
	for _, c := range SensitiveCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Pair agrupa a camada longa (default) e a rajada (burst) de um escopo.
type Pair struct {
	Default *domain.Rule
	Burst   *domain.Rule
}

// Endpoint descreve um endpoint conhecido.
type Endpoint struct {
	ID       string
	Path     string
	Category string
	// Override substitui o teto genérico e a categoria sensível deste endpoint.
	Override *domain.Rule
}

// Tiers é a entrada de New. Regras já chegam validadas por domain.NewRule.
type Tiers struct {
	Global    Pair
	IP        Pair
	User      Pair
	Endpoint  *domain.Rule
	Roles     map[string]Pair
	Sensitive map[string]domain.Rule
	Endpoints []Endpoint
	Whitelist *Whitelist
	Penalties domain.PenaltyPolicy
	Enabled   bool
	KeyPrefix string
}

// Catalog é a política imutável compartilhada por referência.
type Catalog struct {
	tiers     Tiers
	roles     map[string]Pair
	sensitive map[string]domain.Rule
	endpoints map[string]Endpoint
	byPath    map[string]string
	prefixes  []pathPrefix
}

type pathPrefix struct {
	prefix string
	id     string
}

func New(t Tiers) (*Catalog, error) {
	c := &Catalog{
		tiers:     t,
		roles:     make(map[string]Pair, len(t.Roles)),
		sensitive: make(map[string]domain.Rule, len(t.Sensitive)),
		endpoints: make(map[string]Endpoint, len(t.Endpoints)),
		byPath:    make(map[string]string),
	}
	if c.tiers.KeyPrefix == "" {
		c.tiers.KeyPrefix = "rl"
	}
	for role, p := range t.Roles {
		c.roles[strings.ToLower(strings.TrimSpace(role))] = p
	}
	for cat, r := range t.Sensitive {
		if !isSensitive(cat) {
			return nil, &domain.ConfigurationError{Field: "sensitive." + cat, Reason: "unknown sensitive category"}
		}
		c.sensitive[cat] = r
	}
	for _, ep := range t.Endpoints {
		if ep.ID == "" {
			return nil, &domain.ConfigurationError{Field: "endpoints", Reason: "endpoint id is required"}
		}
		if _, dup := c.endpoints[ep.ID]; dup {
			return nil, &domain.ConfigurationError{Field: "endpoints." + ep.ID, Reason: "duplicated endpoint"}
		}
		if ep.Category != "" && !isSensitive(ep.Category) {
			return nil, &domain.ConfigurationError{Field: "endpoints." + ep.ID + ".category", Reason: "unknown sensitive category " + ep.Category}
		}
		c.endpoints[ep.ID] = ep
		switch {
		case ep.Path == "":
		case strings.HasSuffix(ep.Path, "*"):
			c.prefixes = append(c.prefixes, pathPrefix{prefix: strings.TrimSuffix(ep.Path, "*"), id: ep.ID})
		default:
			c.byPath[ep.Path] = ep.ID
		}
	}
	// prefixo mais longo ganha
	sort.SliceStable(c.prefixes, func(i, j int) bool { return len(c.prefixes[i].prefix) > len(c.prefixes[j].prefix) })
	return c, nil
}

func (c *Catalog) Enabled() bool { return c != nil && c.tiers.Enabled }

func (c *Catalog) KeyPrefix() string {
	if c == nil {
		return ""
	}
	return c.tiers.KeyPrefix
}

func (c *Catalog) Penalties() domain.PenaltyPolicy {
	if c == nil {
		return domain.PenaltyPolicy{}
	}
	return c.tiers.Penalties
}

func (c *Catalog) Whitelist() *Whitelist {
	if c == nil {
		return nil
	}
	return c.tiers.Whitelist
}

// Exempt aplica o filtro de isenção (whitelist).
func (c *Catalog) Exempt(req domain.Request) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.tiers.Whitelist.Match(req)
}

// EndpointFor mapeia um path para o id de endpoint configurado: match exato e
// depois o prefixo mais longo. Vazio quando não há mapeamento.
func (c *Catalog) EndpointFor(path string) string {
	if c == nil {
		return ""
	}
	if id, ok := c.byPath[path]; ok {
		return id
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(path, p.prefix) {
			return p.id
		}
	}
	return ""
}

// Resolve devolve as regras aplicáveis em ordem estável (global primeiro).
// A avaliação é conjuntiva: qualquer regra estourada nega a requisição.
//
// Precedência: override específico > categoria sensível > teto genérico do
// endpoint; regra de papel substitui o default do chamador (ip anônimo ou
// usuário). Rajadas são sempre adicionais.
func (c *Catalog) Resolve(req domain.Request) []domain.Binding {
	if c == nil {
		return nil
	}
	out := make([]domain.Binding, 0, 8)
	add := func(r *domain.Rule, subject, offender domain.Subject) {
		if r != nil {
			out = append(out, domain.Binding{Rule: *r, Subject: subject, Offender: offender})
		}
	}

	role, hasRole := c.roles[req.Role]
	ip := req.IPSubject()

	add(c.tiers.Global.Default, domain.GlobalSubject, domain.Subject{})

	if !req.Authenticated() && hasRole && role.Default != nil {
		add(role.Default, ip, ip)
	} else {
		add(c.tiers.IP.Default, ip, ip)
	}

	if req.Authenticated() {
		user := req.UserSubject()
		if hasRole && role.Default != nil {
			add(role.Default, user, user)
		} else {
			add(c.tiers.User.Default, user, user)
		}
	}

	c.resolveEndpoint(req, add)

	add(c.tiers.Global.Burst, domain.GlobalSubject, domain.Subject{})
	if !req.Authenticated() && hasRole && role.Burst != nil {
		add(role.Burst, ip, ip)
	} else {
		add(c.tiers.IP.Burst, ip, ip)
	}
	if req.Authenticated() {
		user := req.UserSubject()
		if hasRole && role.Burst != nil {
			add(role.Burst, user, user)
		} else {
			add(c.tiers.User.Burst, user, user)
		}
	}
	return out
}

func (c *Catalog) resolveEndpoint(req domain.Request, add func(*domain.Rule, domain.Subject, domain.Subject)) {
	if req.EndpointID == "" {
		return
	}
	caller := req.Caller()
	perCaller := domain.Subject{Scope: domain.ScopeEndpoint, ID: req.EndpointID + "|" + caller.String()}

	ep, known := c.endpoints[req.EndpointID]
	if known && ep.Override != nil {
		add(ep.Override, perCaller, caller)
		return
	}

	add(c.tiers.Endpoint, domain.Subject{Scope: domain.ScopeEndpoint, ID: req.EndpointID}, domain.Subject{})
	if known && ep.Category != "" {
		if r, ok := c.sensitive[ep.Category]; ok {
			add(&r, perCaller, caller)
		}
	}
}

// Rules lista todas as regras configuradas (visão administrativa).
func (c *Catalog) Rules() []domain.Rule {
	if c == nil {
		return nil
	}
	var out []domain.Rule
	push := func(r *domain.Rule) {
		if r != nil {
			out = append(out, *r)
		}
	}
	push(c.tiers.Global.Default)
	push(c.tiers.IP.Default)
	push(c.tiers.User.Default)
	push(c.tiers.Endpoint)
	push(c.tiers.Global.Burst)
	push(c.tiers.IP.Burst)
	push(c.tiers.User.Burst)

	roles := make([]string, 0, len(c.roles))
	for name := range c.roles {
		roles = append(roles, name)
	}
	sort.Strings(roles)
	for _, name := range roles {
		push(c.roles[name].Default)
		push(c.roles[name].Burst)
	}
	for _, cat := range SensitiveCategories {
		if r, ok := c.sensitive[cat]; ok {
			push(&r)
		}
	}
	ids := make([]string, 0, len(c.endpoints))
	for id := range c.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		push(c.endpoints[id].Override)
	}
	return out
}
