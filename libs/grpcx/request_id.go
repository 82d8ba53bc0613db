package grpcx

import (
	"context"

	"github.com/md-rashed-zaman/upachar/libs/httpx"
)

// RequestIDMetadataKey carries the request id in gRPC metadata.
const RequestIDMetadataKey = "x-request-id"

// RequestIDFromContext reads the id shared with the HTTP middleware.
func RequestIDFromContext(ctx context.Context) string {
	return httpx.RequestIDFromContext(ctx)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return httpx.ContextWithRequestID(ctx, id)
}

// incomingRequestID returns the first valid id in vals, or a fresh one.
func incomingRequestID(vals []string) string {
	for _, v := range vals {
		if httpx.ValidRequestID(v) {
			return v
		}
	}
	return httpx.NewRequestID()
}
