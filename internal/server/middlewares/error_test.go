package middlewares

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/pkg/logger"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: quantity must be positive", routing.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: sum 1.2", routing.ErrInvalidWeights), http.StatusBadRequest},
		{routing.ErrOrderNotFound, http.StatusNotFound},
		{fmt.Errorf("healing action H1: %w", repo.ErrNotFound), http.StatusNotFound},
		{routing.ErrOrderNotRoutable, http.StatusConflict},
		{routing.ErrOrderNotCancellable, http.StatusConflict},
		{routing.ErrStaleResponse, http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusOf(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestErrorHandlerAndTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Trace(logger.NewNop()), ErrorHandler(logger.NewNop()))
	r.GET("/orders/:id", func(c *gin.Context) {
		if logger.TraceID(c.Request.Context()) == "" {
			t.Fatalf("expected trace id in request context")
		}
		_ = c.Error(routing.ErrOrderNotFound)
	})
	r.GET("/written", func(c *gin.Context) {
		c.String(http.StatusTeapot, "short and stout")
		_ = c.Error(errors.New("late"))
	})

	t.Run("maps error and echoes request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/orders/ORD-404", nil)
		req.Header.Set(HeaderRequestID, "req-42")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
		if got := w.Header().Get(HeaderRequestID); got != "req-42" {
			t.Fatalf("expected request id echoed, got %q", got)
		}
	})

	t.Run("generates request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/ORD-1", nil))
		if w.Header().Get(HeaderRequestID) == "" {
			t.Fatalf("expected generated request id")
		}
	})

	t.Run("written response is left alone", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/written", nil))
		if w.Code != http.StatusTeapot || w.Body.String() != "short and stout" {
			t.Fatalf("expected handler response untouched, got %d %q", w.Code, w.Body.String())
		}
	})
}
