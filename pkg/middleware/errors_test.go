package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth", domain.NewAuthError("Invalid token", nil), http.StatusUnauthorized},
		{"protocol", domain.NewProtocolError(domain.CodeInvalidRoom, "bad room", nil), http.StatusBadRequest},
		{"capacity", domain.NewCapacityError(domain.CodeUnavailable, "draining"), http.StatusServiceUnavailable},
		{"rate limited", domain.NewCapacityError(domain.CodeRateLimited, "slow down"), http.StatusTooManyRequests},
		{"infrastructure", domain.NewInfrastructureError(domain.CodeRoomUnavailable, "store down", errors.New("dial")), http.StatusServiceUnavailable},
		{"wrapped auth", fmt.Errorf("admit: %w", domain.NewAuthError("Token expired", nil)), http.StatusUnauthorized},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusForError(tt.err); got != tt.want {
				t.Errorf("StatusForError() = %d, want %d", got, tt.want)
			}
		})
	}
}

func newErrorRouter() *gin.Engine {
	router := gin.New()
	router.Use(ErrorHandler(zap.NewNop()))
	router.GET("/typed", func(c *gin.Context) {
		_ = c.Error(domain.NewProtocolError(domain.CodeInvalidRoom, "Invalid chat type", nil))
	})
	router.GET("/infra", func(c *gin.Context) {
		_ = c.Error(domain.NewInfrastructureError(domain.CodeRoomUnavailable, "mongo: connection refused", errors.New("refused")))
	})
	router.GET("/untyped", func(c *gin.Context) {
		_ = c.Error(errors.New("secret detail"))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestErrorHandler(t *testing.T) {
	router := newErrorRouter()

	tests := []struct {
		path        string
		wantStatus  int
		wantType    string
		wantMessage string
	}{
		{"/typed", http.StatusBadRequest, "ProtocolError", "Invalid chat type"},
		{"/infra", http.StatusServiceUnavailable, "InfrastructureError", "Internal server error"},
		{"/untyped", http.StatusInternalServerError, "InternalError", "Internal server error"},
		{"/panic", http.StatusInternalServerError, "InternalError", "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			body := decodeErrorBody(t, w)
			if body.Type != tt.wantType {
				t.Errorf("Expected type %q, got %q", tt.wantType, body.Type)
			}
			if body.Message != tt.wantMessage {
				t.Errorf("Expected message %q, got %q", tt.wantMessage, body.Message)
			}
		})
	}
}

func TestErrorHandler_PassesThroughSuccess(t *testing.T) {
	router := newErrorRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestServerHeaders(t *testing.T) {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Server", "gin")
		c.Next()
	})
	router.Use(ServerHeaders())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "hello")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("Server"); got != "" {
		t.Errorf("Expected no Server header, got %q", got)
	}
	if got := w.Header().Get("X-Powered-By"); got != "None" {
		t.Errorf("Expected X-Powered-By None, got %q", got)
	}
}
