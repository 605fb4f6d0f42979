package appctx

import (
	"context"

	"github.com/classmesh/classmesh/internal/domain"
)

type identityKey struct{}

// Identity is the session context consumed from the external identity
// service via its JWT.
type Identity struct {
	UserID      string
	DisplayName string
	Role        domain.Role
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
