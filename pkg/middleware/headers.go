package middleware

import "github.com/gin-gonic/gin"

// ServerHeaders hides the server implementation from responses
func ServerHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Del("Server")
		c.Writer.Header().Set("X-Powered-By", "None")
		c.Next()
	}
}
