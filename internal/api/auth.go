package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const subjectContextKey = "Subject"

// Claims are the JWT claims accepted by the reporting API.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for subject, valid for ttl.
func GenerateToken(subject, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.Subject, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return authMiddleware(secret, false)
}

// StreamAuthMiddleware is AuthMiddleware for the websocket route. Browsers cannot
// set headers on an upgrade request, so a "token" query parameter is accepted too.
func StreamAuthMiddleware(secret string) gin.HandlerFunc {
	return authMiddleware(secret, true)
}

func authMiddleware(secret string, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, code, msg := bearerToken(c, allowQuery)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  code,
				"error": msg,
			})
			return
		}

		subject, err := parseToken(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(subjectContextKey, subject)
		c.Next()
	}
}

// bearerToken returns the token from the Authorization header, or from the
// query string when allowed and the header is absent.
func bearerToken(c *gin.Context, allowQuery bool) (token, code, msg string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if allowQuery {
			if q := c.Query("token"); q != "" {
				return q, "", ""
			}
		}
		return "", "MISSING_TOKEN", "missing Authorization header"
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", "INVALID_AUTH_HEADER", "invalid Authorization header"
	}
	return parts[1], "", ""
}

// CurrentSubject returns the authenticated token subject from context.
func CurrentSubject(c *gin.Context) string {
	if v, ok := c.Get(subjectContextKey); ok {
		if s, okCast := v.(string); okCast {
			return s
		}
	}
	return ""
}
