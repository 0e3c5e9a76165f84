package grpcserver

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const (
	accountIDKey ctxKey = "sk.accountID"
	requestIDKey ctxKey = "sk.requestID"
)

// WithAccountID stores the authenticated account ID in context.
func WithAccountID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, accountIDKey, id)
}

// AccountIDFromCtx fetches the account ID from context.
func AccountIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(accountIDKey)
	if v == nil {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// WithRequestID stores the request ID in context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx returns the request ID, or "" outside a request.
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
