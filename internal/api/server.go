package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/overlay_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/overlay_agent/internal/clienterr"
	"github.com/dgnsrekt/overlay_agent/internal/controller"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/relay"
)

type Service interface {
	Toggle(ctx context.Context, id host.TabID) (controller.ToggleResult, error)
	Activate(ctx context.Context, id host.TabID, query string) (controller.TabState, error)
	Deactivate(ctx context.Context, id host.TabID) (controller.TabState, error)
	OpenAndActivate(ctx context.Context, url, query string) (host.TabID, error)
	State(ctx context.Context, id host.TabID) (controller.TabState, error)
	States(ctx context.Context) ([]controller.TabState, error)
}

// Options holds the optional surfaces mounted beside the JSON API.
type Options struct {
	// Broker feeds /api/v1/events. Nil disables the stream.
	Broker *relay.Broker
	// Bundle is served under /ext/, the origin of the injected scripts.
	Bundle fs.FS
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"Browser tab (CDP target) id"`
}

type tabStateOutput struct {
	Body controller.TabState
}

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Overlay Agent API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	registerTabHandlers(api, svc)
	registerMiscHandlers(api, router, opts)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, host.ErrNoTab), errors.Is(err, host.ErrTabClosed):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, controller.ErrStopped), errors.Is(err, controller.ErrEventsClosed):
		return huma.Error503ServiceUnavailable(err.Error())
	}
	var coded *clienterr.CodedError
	if errors.As(err, &coded) {
		if clienterr.IsKnown(err) {
			return huma.Error422UnprocessableEntity(fmt.Sprintf("%s: %s", coded.Code, clienterr.UserMessage(err)))
		}
		switch coded.Code {
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error503ServiceUnavailable(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeEvalFailure:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
