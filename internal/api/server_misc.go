package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/dgnsrekt/overlay_agent/internal/relay"
)

func registerMiscHandlers(api huma.API, router chi.Router, opts Options) {
	type healthOutput struct {
		Body struct {
			Status      string `json:"status"`
			Subscribers int    `json:"subscribers"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			if opts.Broker != nil {
				out.Body.Subscribers = opts.Broker.ClientCount()
			}
			return out, nil
		})

	if opts.Broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(opts.Broker))
	}
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics)
	}
	if opts.Bundle != nil {
		router.Handle("/ext/*", http.StripPrefix("/ext/", http.FileServer(http.FS(opts.Bundle))))
	}
}
