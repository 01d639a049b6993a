package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddlewareHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
	}{
		{"Empty header", "", http.StatusUnauthorized},
		{"Invalid format", "Token abc", http.StatusUnauthorized},
		{"Empty token", "Bearer ", http.StatusUnauthorized},
		{"Malformed token", "Bearer abc.def", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			req := httptest.NewRequest("GET", "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			c.Request = req

			AuthMiddleware(testSecret)(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, c.IsAborted())
		})
	}
}

func TestAuthMiddleware_SetsActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	token, err := GenerateAccessToken(9, RoleStudent, testSecret)
	require.NoError(t, err)

	router := gin.New()
	router.Use(AuthMiddleware(testSecret))
	router.GET("/", func(c *gin.Context) {
		actor, ok := GetActor(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": actor.UserID, "role": actor.Role})
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":9,"role":"student"}`, w.Body.String())
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		actor          *Actor
		roles          []Role
		expectedStatus int
	}{
		{"Allowed", &Actor{UserID: 1, Role: RoleAdmin}, []Role{RoleAdmin}, http.StatusOK},
		{"One of many", &Actor{UserID: 1, Role: RoleInstructor}, []Role{RoleAdmin, RoleInstructor}, http.StatusOK},
		{"Wrong role", &Actor{UserID: 1, Role: RoleStudent}, []Role{RoleAdmin}, http.StatusForbidden},
		{"No actor", nil, []Role{RoleAdmin}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(func(c *gin.Context) {
				if tt.actor != nil {
					SetActor(c, *tt.actor)
				}
				c.Next()
			})
			router.Use(RequireRole(tt.roles...))
			router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}
