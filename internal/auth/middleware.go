package auth

import (
	"context"

	"github.com/gin-gonic/gin"
)

type contextKey string

const identityKey contextKey = "authIdentity"

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom retrieves the authenticated identity from context.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// Middleware gates a route group behind guard. Failures are handed to abort,
// which must write the response and abort the chain.
func Middleware(guard *Guard, abort func(c *gin.Context, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := guard.Authorize(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			abort(c, err)
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		c.Set(string(identityKey), identity)
		c.Next()
	}
}
