// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisCounterStore / MemoryCounterStore / FallbackCounterStore: contadores de janela fixa
//   - RedisViolationStore / MemoryViolationStore / FallbackViolationStore: registros de violação
//   - LogSink, MemoryEventSink, RedisEventSink, PrometheusSink: entrega de eventos
//   - Throttle: token bucket por chave usando golang.org/x/time/rate (throttle de alertas)
//   - InflightPool: semáforo simples para limite de concorrência no gateway
package infra
