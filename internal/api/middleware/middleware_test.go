package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"webtestflow/recorder/pkg/hooktoken"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func hookRouter(signer *hooktoken.Signer) *gin.Engine {
	r := gin.New()
	r.Use(CORSMiddleware(), Logger(zap.NewNop(), "/hooks/"))
	r.POST("/hooks/:sessionKey/event", HookToken(signer), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return r
}

func TestCORSPreflight(t *testing.T) {
	r := hookRouter(nil)
	req := httptest.NewRequest(http.MethodOptions, "/hooks/s1/event", nil)
	req.Header.Set("Origin", "https://shop.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), TokenHeader)
}

func TestHookTokenDisabled(t *testing.T) {
	r := hookRouter(hooktoken.NewSigner("", 0))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hooks/s1/event", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHookToken(t *testing.T) {
	signer := hooktoken.NewSigner("secret", time.Hour)
	r := hookRouter(signer)
	token, err := signer.Issue("s1")
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"query", "/hooks/s1/event?token=" + token, "", http.StatusCreated},
		{"header", "/hooks/s1/event", token, http.StatusCreated},
		{"missing", "/hooks/s1/event", "", http.StatusUnauthorized},
		{"other session", "/hooks/s2/event?token=" + token, "", http.StatusUnauthorized},
		{"garbage", "/hooks/s1/event?token=abc", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(TokenHeader, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
