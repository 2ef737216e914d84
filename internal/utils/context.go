package utils

import (
	"context"
)

type contextKey string

const ContextActingUserKey contextKey = "actingUser"

// ActingUser is the request identity the API trusts from its gateway:
// who is acting, and whether they hold the superadmin role.
type ActingUser struct {
	ID           string
	IsSuperadmin bool
}

func WithActingUser(ctx context.Context, u ActingUser) context.Context {
	return context.WithValue(ctx, ContextActingUserKey, u)
}

func GetActingUserFromContext(ctx context.Context) (ActingUser, bool) {
	u, ok := ctx.Value(ContextActingUserKey).(ActingUser)
	return u, ok
}
