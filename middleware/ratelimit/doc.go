// Package ratelimit fornece adapters HTTP (net/http) para admissão e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - policy: catálogo imutável de regras e filtro de isenção
//   - application: casos de uso (avaliação, penalidades, telemetria, admin) sem net/http
//   - infra: implementações concretas (Redis, memória, fallback, sinks), detalhes de infraestrutura
//   - config: YAML + env -> catálogo validado
//   - ratelimit (este pacote): middlewares HTTP + extração do descritor + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Limita requisições em voo (ConcurrencyMiddleware, 503)
//  2. Extrai o descritor (IP/usuário/papel/endpoint)
//  3. Chama o Engine para obter o Verdict
//  4. Se negado, responde 429 com Retry-After; senão chama o próximo handler (ex: reverse proxy)
//
// AdminHandler expõe inspeção, limpeza de violações, troca de política, /healthz e /metrics
// num listener separado.
package ratelimit
