package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/pkg/jwtutil"
)

func newProtected(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/me", AuthJWT(secret), func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "username": c.GetString(ContextUsernameKey)})
	})
	return r
}

func TestAuthJWT(t *testing.T) {
	r := newProtected("secret")
	token, err := jwtutil.GenerateToken("secret", time.Hour, 42, "alice")
	require.NoError(t, err)
	otherToken, err := jwtutil.GenerateToken("other-secret", time.Hour, 42, "alice")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + otherToken, http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"id":42,"username":"alice"}`, rec.Body.String())
			}
		})
	}
}

func TestRequireUserRejectsWithFlatMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/files/ask", RequireUser("secret"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	otherToken, err := jwtutil.GenerateToken("other-secret", time.Hour, 42, "alice")
	require.NoError(t, err)

	for _, header := range []string{"", "Basic abc", "Bearer " + otherToken} {
		req := httptest.NewRequest(http.MethodPost, "/files/ask", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"message":"Unauthorized"}`, rec.Body.String())
	}
}
