// Package config carrega a política de admissão a partir de YAML (gopkg.in/yaml.v3)
// com sobrescritas por variáveis de ambiente, valida tudo na carga e monta o
// policy.Catalog imutável usado pelo Engine.
//
// Erros de configuração são sempre *domain.ConfigurationError e fatais na inicialização.
package config
