package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"humgo/internal/auth"
	"humgo/internal/domain"
	"humgo/internal/validation"
)

const (
	identityKey   = "identity"
	userIDHeader  = "X-User-ID"
	bearerPrefix  = "Bearer "
	tokenQueryKey = "access_token"
)

// Auth resolves the caller's identity and stores it in the gin context.
// Requests without a valid identity are rejected with 401.
//
// Browsers cannot set headers on a WebSocket handshake, so the token is
// also read from the access_token query parameter. allowUserHeader accepts
// a bare X-User-ID header instead of a token.
func Auth(verifier *auth.Verifier, allowUserHeader bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := resolveIdentity(c, verifier, allowUserHeader)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		identity.ID = validation.SanitizeUserID(identity.ID)
		if identity.ID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func resolveIdentity(c *gin.Context, verifier *auth.Verifier, allowUserHeader bool) (domain.Identity, error) {
	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), bearerPrefix))
	if token == "" {
		token = c.Query(tokenQueryKey)
	}

	if token == "" && allowUserHeader {
		if id := c.GetHeader(userIDHeader); id != "" {
			return domain.Identity{ID: id}, nil
		}
	}
	if verifier == nil {
		return domain.Identity{}, errors.New("authentication is not configured")
	}
	return verifier.Identity(token)
}

// IdentityFrom returns the identity stored by Auth.
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok
}
