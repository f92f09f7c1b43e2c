package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/overlay_agent/internal/controller"
	"github.com/dgnsrekt/overlay_agent/internal/host"
)

func registerTabHandlers(api huma.API, svc Service) {
	type listTabsOutput struct {
		Body struct {
			Tabs []controller.TabState `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List open tabs with their overlay state", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			tabs, err := svc.States(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}", Summary: "Get the overlay state of a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabStateOutput, error) {
			st, err := svc.State(ctx, host.TabID(input.TabID))
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabStateOutput{Body: st}, nil
		})

	type toggleOutput struct {
		Body controller.ToggleResult
	}
	huma.Register(api, huma.Operation{OperationID: "toggle-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/toggle", Summary: "Toggle the overlay, as a toolbar click would", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*toggleOutput, error) {
			// A toggle request stands in for the toolbar click, so it may prompt.
			res, err := svc.Toggle(host.WithUserGesture(ctx), host.TabID(input.TabID))
			if err != nil {
				return nil, mapErr(err)
			}
			return &toggleOutput{Body: res}, nil
		})

	type activateInput struct {
		TabID string `path:"tab_id"`
		Body  struct {
			Query string `json:"query,omitempty" doc:"URL or fragment with a focus target, e.g. #annotations:query:foo"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "activate-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/activate", Summary: "Activate the overlay", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *activateInput) (*tabStateOutput, error) {
			st, err := svc.Activate(ctx, host.TabID(input.TabID), input.Body.Query)
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabStateOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "deactivate-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/deactivate", Summary: "Deactivate the overlay", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabStateOutput, error) {
			st, err := svc.Deactivate(ctx, host.TabID(input.TabID))
			if err != nil {
				return nil, mapErr(err)
			}
			return &tabStateOutput{Body: st}, nil
		})

	type openInput struct {
		Body struct {
			URL   string `json:"url" minLength:"1" doc:"Page to open"`
			Query string `json:"query,omitempty" doc:"Focus target applied once the page loads"`
		}
	}
	type openOutput struct {
		Body struct {
			TabID  string `json:"tab_id"`
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "open-tab", Method: http.MethodPost, Path: "/api/v1/open", Summary: "Open a URL in a new tab and activate the overlay there", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *openInput) (*openOutput, error) {
			id, err := svc.OpenAndActivate(ctx, input.Body.URL, input.Body.Query)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &openOutput{}
			out.Body.TabID = string(id)
			out.Body.Status = "pending"
			return out, nil
		})
}
