// Package policy resolve quais regras valem para uma requisição (Catalog) e quais
// requisições ficam fora da avaliação (Whitelist).
//
// Um Catalog é imutável depois de New; trocar política é trocar o ponteiro inteiro.
package policy
