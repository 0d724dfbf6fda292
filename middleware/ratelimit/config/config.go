package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"admission-gateway/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

type RuleSpec struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

type PairSpec struct {
	Default *RuleSpec `yaml:"default"`
	Burst   *RuleSpec `yaml:"burst"`
}

type DefaultsConfig struct {
	Global   *RuleSpec `yaml:"global"`
	IP       *RuleSpec `yaml:"ip"`
	User     *RuleSpec `yaml:"user"`
	Endpoint *RuleSpec `yaml:"endpoint"`
}

type BurstConfig struct {
	Global *RuleSpec `yaml:"global"`
	IP     *RuleSpec `yaml:"ip"`
	User   *RuleSpec `yaml:"user"`
}

type EndpointSpec struct {
	Path     string    `yaml:"path"`
	Category string    `yaml:"category"`
	Limit    *RuleSpec `yaml:"limit"`
}

type RedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	TimeoutMS       int    `yaml:"timeout_ms"`
	RetryIntervalMS int    `yaml:"retry_interval_ms"`
}

type PenaltyConfig struct {
	Enabled                bool    `yaml:"enabled"`
	BasePenaltySeconds     int     `yaml:"base_penalty_seconds"`
	Multiplier             float64 `yaml:"multiplier"`
	MaxPenaltySeconds      int     `yaml:"max_penalty_seconds"`
	ViolationWindowSeconds int     `yaml:"violation_window_seconds"`
}

type WhitelistConfig struct {
	IPs        []string `yaml:"ips"`
	UserAgents []string `yaml:"user_agents"`
	Paths      []string `yaml:"paths"`
}

type AlertConfig struct {
	Threshold           int     `yaml:"threshold"`
	WindowSeconds       int     `yaml:"window_seconds"`
	PerSubjectPerMinute float64 `yaml:"per_subject_per_minute"`
}

type TelemetryConfig struct {
	QueueSize     int  `yaml:"queue_size"`
	Workers       int  `yaml:"workers"`
	SinkTimeoutMS int  `yaml:"sink_timeout_ms"`
	RedisStats    bool `yaml:"redis_stats"`
}

// ToggleConfig cobre camadas reservadas (geo, anomalia) sem lógica de avaliação.
type ToggleConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	Enabled   bool                    `yaml:"enabled"`
	KeyPrefix string                  `yaml:"key_prefix"`
	Redis     RedisConfig             `yaml:"redis"`
	Defaults  DefaultsConfig          `yaml:"defaults"`
	Burst     BurstConfig             `yaml:"burst"`
	Roles     map[string]PairSpec     `yaml:"roles"`
	Sensitive map[string]RuleSpec     `yaml:"sensitive"`
	Endpoints map[string]EndpointSpec `yaml:"endpoints"`
	Penalties PenaltyConfig           `yaml:"penalties"`
	Whitelist WhitelistConfig         `yaml:"whitelist"`
	Alerts    AlertConfig             `yaml:"alerts"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
	Geo       ToggleConfig            `yaml:"geo"`
	Anomaly   ToggleConfig            `yaml:"anomaly"`
}

// Default devolve a configuração de referência. Parse parte dela, então chaves
// ausentes no YAML mantêm esses valores; `null` remove uma camada.
func Default() Config {
	return Config{
		Enabled:   true,
		KeyPrefix: "rl",
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			TimeoutMS:       250,
			RetryIntervalMS: 1000,
		},
		Defaults: DefaultsConfig{
			Global:   &RuleSpec{Requests: 10000, WindowSeconds: 60},
			IP:       &RuleSpec{Requests: 100, WindowSeconds: 60},
			User:     &RuleSpec{Requests: 300, WindowSeconds: 60},
			Endpoint: &RuleSpec{Requests: 2000, WindowSeconds: 60},
		},
		Burst: BurstConfig{
			Global: &RuleSpec{Requests: 500, WindowSeconds: 1},
			IP:     &RuleSpec{Requests: 20, WindowSeconds: 1},
			User:   &RuleSpec{Requests: 30, WindowSeconds: 1},
		},
		Penalties: PenaltyConfig{
			Enabled:                true,
			BasePenaltySeconds:     300,
			Multiplier:             2.0,
			MaxPenaltySeconds:      3600,
			ViolationWindowSeconds: 3600,
		},
		Alerts: AlertConfig{
			Threshold:           10,
			WindowSeconds:       60,
			PerSubjectPerMinute: 1,
		},
		Telemetry: TelemetryConfig{
			QueueSize:     1024,
			Workers:       2,
			SinkTimeoutMS: 500,
		},
	}
}

// Parse decodifica YAML sobre Default. Chaves desconhecidas são erro.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &domain.ConfigurationError{Field: "yaml", Reason: err.Error()}
	}
	return cfg, nil
}

// Load lê o arquivo YAML. Caminho vazio devolve Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}
