// Command lambda serves the chat service from AWS Lambda behind an API
// Gateway proxy integration. Clients are built on the first invocation and
// reused by later ones in the same execution environment.
package main

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/aviov/largo-chat/engine/boot"
	"github.com/aviov/largo-chat/engine/router"
	"github.com/aviov/largo-chat/pkg/config"
	"github.com/aviov/largo-chat/pkg/metrics"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger(true)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Warn("configuration problems, using defaults", "err", err)
	}

	m := metrics.NewService(nil)
	rt := router.New(boot.New(cfg, boot.Factories{}, m, logger), cfg, m, logger)
	lambda.Start(handler(rt, logger))
}

// Handler serves one proxy event.
type Handler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

func handler(rt *router.Router, logger *slog.Logger) Handler {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		body := req.Body
		if req.IsBase64Encoded {
			b, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				logger.Warn("undecodable base64 body", "err", err)
				body = ""
			} else {
				body = string(b)
			}
		}
		resp := rt.Handle(ctx, router.Event{Path: req.Path, HTTPMethod: req.HTTPMethod, Body: body})
		return events.APIGatewayProxyResponse{
			StatusCode: resp.StatusCode,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       resp.Body,
		}, nil
	}
}
