package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// abortGraphQL ends the request with a GraphQL-shaped error body so clients of the
// graph see one error format whatever layer rejected the call.
func abortGraphQL(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"data": nil,
		"errors": gqlerror.List{{
			Message:    message,
			Extensions: map[string]any{"code": code},
		}},
	})
}
