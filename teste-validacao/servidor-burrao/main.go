package main

import (
	"fmt"
	"net/http"
	"os"
)

// Upstream "burro" para validar o gateway: responde tudo e ecoa a identidade recebida.
func main() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>%s %s recebida com sucesso!</p><p>user=%q role=%q</p>",
			r.Method, r.URL.Path, r.Header.Get("X-User-ID"), r.Header.Get("X-User-Role"))
		fmt.Printf("Log: alguém acessou %s %s\n", r.Method, r.URL.Path)
	}

	http.HandleFunc("/showTela", handler)
	http.HandleFunc("/auth/login", handler)
	http.HandleFunc("/auth/reset", handler)
	http.HandleFunc("/search/", handler)
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	fmt.Println("Servidor rodando em http://localhost" + addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
