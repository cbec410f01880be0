package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// NewRelicAttributes tags the request's New Relic transaction, started by
// nrgin, with the caller and the route parameters. It is a no-op when the
// agent is disabled.
func NewRelicAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := nrgin.Transaction(c)
		if txn == nil {
			c.Next()
			return
		}

		if identity, ok := IdentityFrom(c); ok {
			txn.AddAttribute("user_id", identity.ID)
		}
		for _, p := range c.Params {
			txn.AddAttribute("param."+p.Key, p.Value)
		}

		c.Next()

		// Record error if present.
		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}
