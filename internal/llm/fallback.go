package llm

import (
	"context"

	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// FallbackClient tries the primary provider and retries once on the
// fallback. With no fallback configured it is a transparent wrapper.
type FallbackClient struct {
	primary  Client
	fallback Client
	logger   *logging.Logger
}

func NewFallbackClient(primary, fallback Client, logger *logging.Logger) *FallbackClient {
	if primary == nil {
		panic("llm: nil primary client")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary model failed",
		"error", err,
		"fallback_available", c.fallback != nil,
	)
	if c.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback model also failed",
			"primary_error", err,
			"fallback_error", fallbackErr,
		)
		return Response{}, fallbackErr
	}
	c.logger.Info("fallback model answered after primary failure")
	return fallbackResp, nil
}
