// Package domain define contratos e tipos de domínio da admissão de requisições:
// regras, sujeitos, veredito, contadores, violações/penalidades e eventos de telemetria.
//
// Este pacote não depende de net/http nem de implementações concretas
// (Redis, memória, Prometheus). A intenção é permitir testes de unidade puros e
// desacoplar regras de negócio de detalhes de infraestrutura.
package domain
