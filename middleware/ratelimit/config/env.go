package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv sobrescreve a parte da configuração que costuma variar por ambiente.
// Valores inválidos viram ConfigurationError (não são ignorados em silêncio).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("RATE_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return invalid("RATE_ENABLED", "not a boolean: "+v)
		}
		c.Enabled = b
	}
	if v, ok := get("RATE_KEY_PREFIX"); ok {
		c.KeyPrefix = v
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := get("REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return invalid("REDIS_DB", "not an integer: "+v)
		}
		c.Redis.DB = db
	}
	return nil
}

// Os helpers abaixo servem às variáveis de processo dos binários
// (LISTEN_ADDR, CONCURRENCY_MAX...). Valor inválido cai no default.

func GetenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func GetenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func GetenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func GetenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
