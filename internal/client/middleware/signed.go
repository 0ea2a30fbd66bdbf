// Package middleware holds the gin middleware for the loopback command
// plane.
package middleware

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// CommandClaimsKey is the gin context key the verified payload lands under.
const CommandClaimsKey = "commandClaims"

// SignedCommandConfig pins the companion web origin and the RS256 key its
// payloads are signed with.
type SignedCommandConfig struct {
	Origin    string
	PublicKey *rsa.PublicKey
}

// LoadPublicKey reads an RS256 public key in PEM form.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return key, nil
}

// SignedCommand verifies the Referer against the pinned origin and decodes
// the `data` parameter (body for POST, query for GET) as an RS256 JWT. Any
// mismatch, decode failure, bad signature, or expiry is a 403.
func SignedCommand(cfg *SignedCommandConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		referer := c.GetHeader("Referer")
		if referer == "" || !strings.HasPrefix(referer, cfg.Origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		var data string
		if c.Request.Method == http.MethodGet {
			data = c.Query("data")
		} else {
			data = c.PostForm("data")
			if data == "" {
				var body struct {
					Data string `json:"data"`
				}
				if err := c.ShouldBindJSON(&body); err == nil {
					data = body.Data
				}
			}
		}
		if data == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(data, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return cfg.PublicKey, nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Set(CommandClaimsKey, map[string]any(claims))
		c.Next()
	}
}

// CommandClaims returns the verified payload set by SignedCommand.
func CommandClaims(c *gin.Context) map[string]any {
	if claims, ok := c.Get(CommandClaimsKey); ok {
		if m, ok := claims.(map[string]any); ok {
			return m
		}
	}
	return map[string]any{}
}
