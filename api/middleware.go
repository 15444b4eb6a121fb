package api

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/localmesh/logging"
)

// Logging returns middleware that logs one line per dispatched request.
func Logging(logger logging.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			durationMS := time.Since(start).Milliseconds()

			if err != nil {
				logger.Error("request failed",
					"method", req.Method,
					"path", req.Path,
					"duration_ms", durationMS,
					"error", err.Error(),
				)
				return resp, err
			}

			status := 0
			if resp != nil {
				status = resp.Status
			}
			logger.Info("request handled",
				"method", req.Method,
				"path", req.Path,
				"status", status,
				"duration_ms", durationMS,
			)
			return resp, nil
		}
	}
}

// Recovery returns middleware that converts handler panics into errors so
// one bad handler cannot take down the dispatcher.
func Recovery(logger logging.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (resp *Response, err error) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panicked",
						"method", req.Method,
						"path", req.Path,
						"panic", fmt.Sprintf("%v", rec),
					)
					resp = nil
					err = fmt.Errorf("api: handler panic: %v", rec)
				}
			}()
			return next(ctx, req)
		}
	}
}
