package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/ledgersync/go/internal/engineapi"
)

func setupServer(addr string, services *Services) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	registerServices(mux, services)
	setupHealthCheck(mux, services)
	mux.Handle("/metrics", promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{}))

	// h2c lets gRPC clients reach the Connect handlers without TLS.
	return &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(c.Handler(mux), &http2.Server{}),
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	path, handler := engineapi.NewHandler(services.API)
	mux.Handle(path, handler)

	services.Gateway.RegisterRoutes(mux)
}

func setupHealthCheck(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		checker := services.Engine.Health()
		if checker == nil {
			http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
			return
		}
		checker.ServeHTTP(w, r)
	})
}
