package main

import (
	"errors"
	"os"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/config"
)

// processConfig são as variáveis do processo; a política fica no YAML (RATE_CONFIG).
type processConfig struct {
	configPath         string
	listenAddr         string
	adminAddr          string
	upstreamURL        string
	trustXFF           bool
	userHeader         string
	roleHeader         string
	addHeaders         bool
	concurrencyMax     int
	concurrencyTimeout time.Duration
}

func readProcessConfig() (processConfig, error) {
	cfg := processConfig{}
	cfg.configPath = os.Getenv("RATE_CONFIG")
	cfg.listenAddr = config.GetenvDefault("LISTEN_ADDR", ":8080")
	cfg.adminAddr = config.GetenvDefault("ADMIN_ADDR", "127.0.0.1:9090")
	cfg.upstreamURL = strings.TrimSpace(os.Getenv("UPSTREAM_URL"))
	cfg.trustXFF = config.GetenvBoolDefault("TRUST_XFF", false)
	cfg.userHeader = config.GetenvDefault("USER_HEADER", "X-User-ID")
	cfg.roleHeader = config.GetenvDefault("ROLE_HEADER", "X-User-Role")
	cfg.addHeaders = config.GetenvBoolDefault("ADD_RATELIMIT_HEADERS", true)
	cfg.concurrencyMax = config.GetenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = config.GetenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	if cfg.upstreamURL == "" {
		return processConfig{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.concurrencyMax < 0 {
		return processConfig{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.listenAddr == cfg.adminAddr {
		return processConfig{}, errors.New("ADMIN_ADDR must differ from LISTEN_ADDR")
	}
	return cfg, nil
}
