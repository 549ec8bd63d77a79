package auth

import (
	"context"

	"github.com/jw6ventures/calstore/internal/store"
)

type contextKey string

const (
	contextKeyUser          contextKey = "user"
	contextKeyPasswordLabel contextKey = "password_label"
)

func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, contextKeyUser, user)
}

func UserFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(contextKeyUser).(*store.User)
	return u, ok
}

// WithPasswordLabel records the label of the app password that
// authenticated the request.
func WithPasswordLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, contextKeyPasswordLabel, label)
}

func PasswordLabelFromContext(ctx context.Context) string {
	s, _ := ctx.Value(contextKeyPasswordLabel).(string)
	return s
}
