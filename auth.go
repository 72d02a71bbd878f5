package main

import (
	"net/http"

	"kopkar/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Actor extraction only. Tokens are issued by the cooperative's identity
// service; this layer never registers users or manages sessions, it just
// decodes the already-authenticated identity every operation requires.

func actorAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		sub, _ := claims["sub"].(string)
		role, _ := claims["role"].(string)
		if sub == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token missing subject"})
			c.Abort()
			return
		}
		c.Set("actor", models.Actor{Ref: sub, Role: models.Role(role)})
		c.Next()
	}
}

// actorFromContext returns the actor stamped by actorAuthMiddleware.
func actorFromContext(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get("actor")
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok && !actor.IsZero()
}
