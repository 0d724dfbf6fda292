// Package application contém os casos de uso de admissão: o Engine (decisão),
// o PenaltyTracker (escalada de penalidades), o Dispatcher (telemetria e
// alertas assíncronos) e o Admin (inspeção e troca de política).
//
// Ele depende apenas de domain e policy e não conhece net/http nem Redis.
// Ex.: Engine.Evaluate(ctx, req) retorna um Verdict (allow/deny + retry-after).
package application
