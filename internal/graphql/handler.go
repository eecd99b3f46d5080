package graphql

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/charlesng35/studyhub/internal/reqctx"
)

// Executor runs a GraphQL request on behalf of a caller. Schema and the gateway both
// implement it.
type Executor interface {
	Execute(ctx context.Context, rc reqctx.RequestContext, req Request) *Response
}

// IdentityFunc derives the caller of an HTTP request.
type IdentityFunc func(r *http.Request) reqctx.RequestContext

// ForwardedIdentity reads the user-id, is-admin and from headers set by the gateway.
func ForwardedIdentity(r *http.Request) reqctx.RequestContext {
	return reqctx.FromHeaders(r.Header)
}

// Handler serves POST /graphql. Field errors are reported in the body with status 200;
// only an unreadable request body is a 400.
func Handler(exec Executor, identify IdentityFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, Response{
				Errors: gqlerror.List{codedError("BAD_REQUEST", "invalid GraphQL request body")},
			})
			return
		}

		c.JSON(http.StatusOK, exec.Execute(c.Request.Context(), identify(c.Request), req))
	}
}
