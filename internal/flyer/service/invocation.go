package service

import (
	"context"

	"eventflyer/pkg/utils/contextkey"

	"github.com/google/uuid"
)

// withInvocation tags ctx with a fresh invocation id for log correlation.
func withInvocation(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextkey.InvocationID, uuid.NewString())
}
