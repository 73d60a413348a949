package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/agatticelli/ssm-parameter-cache/internal/app"
	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/config"
	"github.com/agatticelli/ssm-parameter-cache/internal/server"
)

// lazyApp builds the application on first use and keeps it for the lifetime
// of the execution environment, so warm invocations are served from memory.
// A failed build or warmup is retried on the next invocation.
type lazyApp struct {
	mu     sync.Mutex
	build  func(ctx context.Context) (*app.App, error)
	app    *app.App
	warmed bool
}

func (l *lazyApp) get(ctx context.Context) (*app.App, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.app == nil {
		a, err := l.build(ctx)
		if err != nil {
			return nil, err
		}
		l.app = a
	}

	// Warmup goes through the cache, so a retry only fetches what is missing.
	if !l.warmed {
		if _, err := l.app.Warmup(ctx); err != nil {
			return nil, err
		}
		l.warmed = true
	}
	return l.app, nil
}

func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(os.Getenv("PARAMCACHE_CONFIG"))
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

var cached = &lazyApp{build: buildApp}

// Handler serves GET /parameters/{name}?force_refresh=true through API Gateway (HTTP API).
func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	a, err := cached.get(ctx)
	if err != nil {
		return respond(http.StatusInternalServerError, server.ErrorResponse{Error: "parameter cache unavailable"}), nil
	}
	return handle(ctx, a.Cache, req), nil
}

func handle(ctx context.Context, cache parameter.Getter, req events.APIGatewayV2HTTPRequest) events.APIGatewayV2HTTPResponse {
	name := req.PathParameters["name"]
	if name == "" {
		name = req.QueryStringParameters["name"]
	}
	if name == "" {
		return respond(http.StatusBadRequest, server.ErrorResponse{Error: "parameter name is required"})
	}

	force := false
	if raw := req.QueryStringParameters["force_refresh"]; raw != "" {
		var err error
		if force, err = strconv.ParseBool(raw); err != nil {
			return respond(http.StatusBadRequest, server.ErrorResponse{Error: "force_refresh must be a boolean"})
		}
	}

	request := parameter.NewRequest(cache, name)
	if force {
		request.ForceRefresh()
	}

	value, err := request.Send(ctx)
	if err != nil {
		return respond(server.StatusFor(err), server.ErrorResponse{
			Error: err.Error(),
			Kind:  parameter.KindOf(err).String(),
		})
	}
	return respond(http.StatusOK, server.ParameterResponse{Name: request.Name(), Value: value})
}

func respond(status int, body any) events.APIGatewayV2HTTPResponse {
	payload, _ := json.Marshal(body)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(payload),
	}
}

func main() {
	lambda.Start(Handler)
}
