package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/watchparty/internal/dto/response"
	apperrors "github.com/go-demo/watchparty/internal/pkg/errors"
	"github.com/go-demo/watchparty/internal/pkg/utils"
)

const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	TokenQueryParam     = "token"
	UserIDKey           = "user_id"
	UsernameKey         = "username"
)

// ExtractToken reads the bearer token from the Authorization header, falling
// back to the token query parameter used by browser WebSocket clients.
// The bool is false when a header is present but malformed.
func ExtractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader(AuthorizationHeader)
	if authHeader == "" {
		return c.Query(TokenQueryParam), true
	}
	if !strings.HasPrefix(authHeader, BearerPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix)), true
}

// Auth creates a JWT authentication middleware. Tokens are issued by the
// identity service; only the subject is used here.
func Auth(jwtManager *utils.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := ExtractToken(c)
		if !ok {
			response.Unauthorized(c, "無效的認證格式")
			c.Abort()
			return
		}
		if token == "" {
			response.Unauthorized(c, "缺少認證 Token")
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			if err == utils.ErrExpiredToken {
				response.Error(c, apperrors.ErrTokenExpired)
			} else {
				response.Error(c, apperrors.ErrInvalidToken)
			}
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)

		c.Next()
	}
}

// GetUserID retrieves user ID from context
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUsername retrieves username from context
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}
