package domain

import "errors"

var (
	// ErrBackendUnavailable indica que o store (Redis ou fallback) não respondeu.
	// Nunca vira negação: o motor registra telemetria e admite a requisição.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")

	// ErrInvalidRequest é usado apenas internamente; descritores incompletos
	// são normalizados para o papel anonymous.
	ErrInvalidRequest = errors.New("invalid request descriptor")
)

// ConfigurationError é fatal na inicialização e nunca aparece em tempo de requisição.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Field + ": " + e.Reason
}

func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
