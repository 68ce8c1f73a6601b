package grpcx

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/md-rashed-zaman/examinerops/libs/httpx"
)

// RequestIDMetadataKey is the lowercase form of httpx.RequestIDHeader, so an
// id survives a hop between HTTP and gRPC.
const RequestIDMetadataKey = "x-request-id"

const maxRequestIDLen = 128

// RequestIDFromContext shares storage with httpx, so code below either
// transport reads the id the same way.
func RequestIDFromContext(ctx context.Context) string {
	return httpx.RequestIDFromContext(ctx)
}

// incomingRequestID returns the caller's id from metadata, or a fresh one
// when it is missing or oversized.
func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return httpx.NewRequestID()
	}
	for _, v := range md.Get(RequestIDMetadataKey) {
		if v = strings.TrimSpace(v); v != "" && len(v) <= maxRequestIDLen {
			return v
		}
	}
	return httpx.NewRequestID()
}
