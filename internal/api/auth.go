package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const operatorContextKey = "OperatorID"

// OperatorClaims identifies the operator who acknowledged an orphan or
// otherwise acted on the engine, for audit purposes. There's no
// registration/login flow here — tokens are minted out-of-band (an
// operator CLI or ops tool) and just need to verify against JWTSecret.
type OperatorClaims struct {
	OperatorID string `json:"sub"`
	jwt.RegisteredClaims
}

// GenerateToken mints a signed token for operatorID, for use by an
// out-of-band issuance tool rather than any handler in this package.
func GenerateToken(operatorID, secret string, ttl time.Duration) (string, error) {
	claims := OperatorClaims{
		OperatorID: operatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &OperatorClaims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return claims.OperatorID, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces a bearer JWT on the orphan routes (list and acknowledge).
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		operatorID, err := parseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(operatorContextKey, operatorID)
		c.Next()
	}
}

// CurrentOperatorID returns the authenticated operator ID from context.
func CurrentOperatorID(c *gin.Context) string {
	if v, ok := c.Get(operatorContextKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
