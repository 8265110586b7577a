package demo

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/jsamuelsen/scopelog"
)

// recovery returns middleware that converts panics into 500 responses. The
// panic is logged with the request's accumulated scope and a stack trace.
func recovery(logger *scopelog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "panic recovered", nil, scopelog.Fields{
					"panic": r,
					"stack": string(debug.Stack()),
					"path":  c.Request.URL.Path,
				})

				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"error": "an internal error occurred",
					})
				} else {
					c.Abort()
				}
			}
		}()

		c.Next()
	}
}
