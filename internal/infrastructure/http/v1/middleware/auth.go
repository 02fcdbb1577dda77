package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"stockpick/internal/core/apperror"
	appctx "stockpick/internal/core/context"
)

// JWTValidator interface for token validation.
type JWTValidator interface {
	ValidateToken(tokenString string) (*appctx.Operator, error)
}

// Auth middleware validates JWT tokens and populates the operator context.
func Auth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		op, err := validator.ValidateToken(parts[1])
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		setOperator(c, op)
		c.Next()
	}
}

// OptionalAuth validates token if present, but doesn't require it.
// Picker terminals on the warehouse network call without a token.
func OptionalAuth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if op, err := validator.ValidateToken(parts[1]); err == nil && op != nil {
				setOperator(c, op)
			}
		}
		c.Next()
	}
}

// RequireRole middleware checks if the operator has one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if appctx.GetOperator(ctx) == nil {
			abortUnauthorized(c, "authentication required")
			return
		}

		for _, required := range roles {
			if appctx.HasRole(ctx, required) {
				c.Next()
				return
			}
		}
		_ = c.Error(
			apperror.NewForbidden("insufficient permissions").
				WithDetail("required_roles", roles),
		)
		c.Abort()
	}
}

func setOperator(c *gin.Context, op *appctx.Operator) {
	c.Request = c.Request.WithContext(appctx.WithOperator(c.Request.Context(), op))
	c.Set("operator_id", op.ID)
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
