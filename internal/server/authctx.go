package server

import (
	"context"

	"github.com/and161185/sealdb/internal/model"
)

type ctxKey string

const sessionKey ctxKey = "sealdb.session"

// WithSession stores the authenticated session in context.
func WithSession(ctx context.Context, s model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromCtx fetches the authenticated session from context.
func SessionFromCtx(ctx context.Context) (model.Session, bool) {
	s, ok := ctx.Value(sessionKey).(model.Session)
	return s, ok
}
