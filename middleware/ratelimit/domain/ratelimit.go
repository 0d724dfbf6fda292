package domain

// Camada de domínio da admissão.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

type Key string

// Limiter representa algo que pode decidir se uma ação é permitida agora.
//
// Usado pelo throttle de alertas (token bucket via golang.org/x/time/rate na infra).
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave (ex: sujeito de um alerta).
// A implementação pode manter cache, TTL, etc.
type LimiterStore interface {
	Get(Key) Limiter
}

// Scope identifica o tipo de sujeito avaliado.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeIP       Scope = "ip"
	ScopeUser     Scope = "user"
	ScopeRole     Scope = "role"
	ScopeEndpoint Scope = "endpoint"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeIP, ScopeUser, ScopeRole, ScopeEndpoint:
		return true
	}
	return false
}

// Category indica de qual camada de política a regra veio.
type Category string

const (
	CategoryDefault   Category = "default"
	CategorySensitive Category = "sensitive"
	CategoryBurst     Category = "burst"
	CategoryRole      Category = "role"
	CategoryEndpoint  Category = "endpoint"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryDefault, CategorySensitive, CategoryBurst, CategoryRole, CategoryEndpoint:
		return true
	}
	return false
}

// Subject é a identidade sob avaliação. Uma requisição gera vários sujeitos
// ao mesmo tempo (ip, user, endpoint, global).
type Subject struct {
	Scope Scope
	ID    string
}

// GlobalSubject é o sujeito compartilhado por todas as requisições.
var GlobalSubject = Subject{Scope: ScopeGlobal, ID: "*"}

func (s Subject) String() string { return string(s.Scope) + ":" + s.ID }

func (s Subject) IsZero() bool { return s.Scope == "" && s.ID == "" }

// ParseSubject converte "scope:id" de volta em Subject.
func ParseSubject(v string) (Subject, bool) {
	scope, id, ok := strings.Cut(v, ":")
	if !ok || id == "" || !Scope(scope).Valid() {
		return Subject{}, false
	}
	return Subject{Scope: Scope(scope), ID: id}, true
}

// Rule é imutável depois de construída por NewRule.
type Rule struct {
	Name     string
	Scope    Scope
	Category Category
	Requests int
	Window   time.Duration
}

// NewRule valida e constrói uma regra. windowSeconds é em segundos inteiros
// porque as janelas são alinhadas em segundos.
func NewRule(name string, scope Scope, category Category, requests, windowSeconds int) (Rule, error) {
	field := "rule " + name
	if !scope.Valid() {
		return Rule{}, &ConfigurationError{Field: field, Reason: "unknown scope " + strconv.Quote(string(scope))}
	}
	if !category.Valid() {
		return Rule{}, &ConfigurationError{Field: field, Reason: "unknown category " + strconv.Quote(string(category))}
	}
	if requests <= 0 {
		return Rule{}, &ConfigurationError{Field: field + ".requests", Reason: "must be > 0"}
	}
	if windowSeconds <= 0 {
		return Rule{}, &ConfigurationError{Field: field + ".window_seconds", Reason: "must be > 0"}
	}
	return Rule{
		Name:     name,
		Scope:    scope,
		Category: category,
		Requests: requests,
		Window:   time.Duration(windowSeconds) * time.Second,
	}, nil
}

// Fingerprint identifica a regra nas chaves de contador. Mudar limite ou janela
// gera contadores novos.
func (r Rule) Fingerprint() string {
	var b strings.Builder
	b.WriteString(r.Name)
	b.WriteByte('|')
	b.WriteString(string(r.Scope))
	b.WriteByte('|')
	b.WriteString(string(r.Category))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(r.Requests))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(int64(r.Window/time.Second), 10))
	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

// Binding é uma regra aplicada a um sujeito contado.
//
// Offender é quem leva a penalidade quando a regra estoura. Fica vazio em
// camadas compartilhadas (global, teto do endpoint): estourar um teto coletivo
// nega a requisição mas não pune quem calhou de ser a requisição N+1.
type Binding struct {
	Rule     Rule
	Subject  Subject
	Offender Subject
}

// CounterKey monta a chave base (sem janela) do contador. O trecho entre
// chaves é a hash tag do Redis Cluster, então a chave janelada cai no mesmo slot.
func (b Binding) CounterKey(prefix string) string {
	return prefix + ":c:{" + b.Subject.String() + ":" + b.Rule.Fingerprint() + "}"
}

const (
	RoleAnonymous = "anonymous"
	UnknownIP     = "unknown"
)

// Request é o descritor que a camada web entrega ao motor.
type Request struct {
	SourceIP   string
	UserID     string
	Role       string
	EndpointID string
	Path       string
	UserAgent  string
}

// Normalize nunca falha: sem identidade a requisição vira anônima.
func (r Request) Normalize() Request {
	r.SourceIP = strings.TrimSpace(r.SourceIP)
	r.UserID = strings.TrimSpace(r.UserID)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	r.EndpointID = strings.TrimSpace(r.EndpointID)
	r.Path = strings.TrimSpace(r.Path)
	r.UserAgent = strings.TrimSpace(r.UserAgent)

	if r.SourceIP == "" {
		r.SourceIP = UnknownIP
	}
	if r.UserID == "" {
		r.Role = RoleAnonymous
	}
	if r.EndpointID == "" {
		r.EndpointID = r.Path
	}
	return r
}

func (r Request) Authenticated() bool { return r.UserID != "" }

func (r Request) IPSubject() Subject { return Subject{Scope: ScopeIP, ID: r.SourceIP} }

func (r Request) UserSubject() Subject { return Subject{Scope: ScopeUser, ID: r.UserID} }

// Caller é o sujeito que responde pela requisição: o usuário quando autenticado,
// senão o IP.
func (r Request) Caller() Subject {
	if r.Authenticated() {
		return r.UserSubject()
	}
	return r.IPSubject()
}

// Callers lista os sujeitos checados no portão de penalidade.
func (r Request) Callers() []Subject {
	if r.Authenticated() {
		return []Subject{r.IPSubject(), r.UserSubject()}
	}
	return []Subject{r.IPSubject()}
}

// Verdict é produzido por requisição e não é persistido.
type Verdict struct {
	Allowed      bool
	LimitingRule *Rule
	// Limit/Remaining refletem a camada mais apertada avaliada.
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Penalized  bool
	Exempt     bool
	// Degraded indica que ao menos um contador veio do fallback local.
	Degraded bool
}
