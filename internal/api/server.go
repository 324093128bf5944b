package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/browsertap/browsertap/internal/capture"
	"github.com/browsertap/browsertap/internal/cdp"
	"github.com/browsertap/browsertap/internal/session"
	"github.com/browsertap/browsertap/internal/stream"
)

// Service is the session surface the control plane exposes over HTTP.
type Service interface {
	Dump(ctx context.Context) (*capture.DumpResult, error)
	Status() session.Status
	SetPaused(paused bool)
	Clear() error
	ListPages(ctx context.Context) ([]cdp.PageInfo, error)
	SwitchPage(ctx context.Context, index int) (cdp.PageInfo, error)
	ComputedStyles(ctx context.Context, selector string) (map[string]string, error)
	Invoke(ctx context.Context, method string, args []any) (any, error)
}

// NewServer builds the local control surface. Broker may be nil to disable
// the live event stream.
func NewServer(svc Service, broker *stream.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Browser Tap Control API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	registerSessionHandlers(api, svc)
	registerPageHandlers(api, svc)

	if broker != nil {
		router.Get("/events", stream.SSEHandler(broker))
	}

	return router
}

func registerSessionHandlers(api huma.API, svc Service) {
	type dumpOutput struct {
		Body capture.DumpResult
	}
	huma.Register(api, huma.Operation{
		OperationID: "dump",
		Method:      http.MethodGet,
		Path:        "/dump",
		Summary:     "Write all capture artifacts to the output directory",
		Tags:        []string{"Session"},
	}, func(ctx context.Context, input *struct{}) (*dumpOutput, error) {
		res, err := svc.Dump(ctx)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &dumpOutput{}
		out.Body = *res
		return out, nil
	})

	type statusOutput struct {
		Body session.Status
	}
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Current session state and buffer counts",
		Tags:        []string{"Session"},
	}, func(ctx context.Context, input *struct{}) (*statusOutput, error) {
		out := &statusOutput{}
		out.Body = svc.Status()
		return out, nil
	})

	type stateOutput struct {
		Body struct {
			State string `json:"state"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "stop-capture",
		Method:      http.MethodGet,
		Path:        "/stop",
		Summary:     "Pause event capture",
		Tags:        []string{"Session"},
	}, func(ctx context.Context, input *struct{}) (*stateOutput, error) {
		svc.SetPaused(true)
		out := &stateOutput{}
		out.Body.State = svc.Status().State
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-capture",
		Method:      http.MethodGet,
		Path:        "/start",
		Summary:     "Resume event capture",
		Tags:        []string{"Session"},
	}, func(ctx context.Context, input *struct{}) (*stateOutput, error) {
		svc.SetPaused(false)
		out := &stateOutput{}
		out.Body.State = svc.Status().State
		return out, nil
	})

	type clearOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "clear",
		Method:      http.MethodGet,
		Path:        "/clear",
		Summary:     "Empty capture buffers and reset the sequence counter",
		Tags:        []string{"Session"},
	}, func(ctx context.Context, input *struct{}) (*clearOutput, error) {
		if err := svc.Clear(); err != nil {
			return nil, mapErr(err)
		}
		out := &clearOutput{}
		out.Body.Status = "cleared"
		return out, nil
	})
}

func registerPageHandlers(api huma.API, svc Service) {
	type tabsOutput struct {
		Body []cdp.PageInfo
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-tabs",
		Method:      http.MethodGet,
		Path:        "/tabs",
		Summary:     "List candidate pages with 1-based indices",
		Tags:        []string{"Pages"},
	}, func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
		pages, err := svc.ListPages(ctx)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &tabsOutput{}
		out.Body = pages
		return out, nil
	})

	type tabInput struct {
		Index int `query:"index" minimum:"1" required:"true" doc:"1-based page index from /tabs"`
	}
	type tabOutput struct {
		Body cdp.PageInfo
	}
	huma.Register(api, huma.Operation{
		OperationID: "switch-tab",
		Method:      http.MethodGet,
		Path:        "/tab",
		Summary:     "Switch monitoring to the page at the given index",
		Tags:        []string{"Pages"},
	}, func(ctx context.Context, input *tabInput) (*tabOutput, error) {
		info, err := svc.SwitchPage(ctx, input.Index)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &tabOutput{}
		out.Body = info
		return out, nil
	})

	type stylesInput struct {
		Selector string `query:"selector" required:"true" doc:"CSS selector, first match wins"`
	}
	type stylesOutput struct {
		Body map[string]string
	}
	huma.Register(api, huma.Operation{
		OperationID: "computed-styles",
		Method:      http.MethodGet,
		Path:        "/computed-styles",
		Summary:     "Resolved styles for the first element matching a selector",
		Tags:        []string{"Pages"},
	}, func(ctx context.Context, input *stylesInput) (*stylesOutput, error) {
		styles, err := svc.ComputedStyles(ctx, input.Selector)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &stylesOutput{}
		out.Body = styles
		return out, nil
	})

	type commandBody struct {
		Method string `json:"method" doc:"Allow-listed page command name"`
		Args   []any  `json:"args,omitempty" doc:"Positional command arguments"`
	}
	type commandInput struct {
		Body commandBody
	}
	type commandOutput struct {
		Body struct {
			Result any `json:"result"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "page-command",
		Method:      http.MethodPost,
		Path:        "/puppeteer",
		Summary:     "Run one allow-listed page command",
		Tags:        []string{"Pages"},
	}, func(ctx context.Context, input *commandInput) (*commandOutput, error) {
		result, err := svc.Invoke(ctx, input.Body.Method, input.Body.Args)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &commandOutput{}
		out.Body.Result = result
		return out, nil
	})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdp.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdp.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdp.CodePageNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdp.CodeCommandRejected:
			return huma.Error403Forbidden(coded.Message)
		case cdp.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdp.CodeCDPUnavailable, cdp.CodeEndpointDown:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
