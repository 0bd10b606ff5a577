package echoapi

import (
	"github.com/labstack/echo/v4"
)

// roleMiddleware lets through authenticated users holding one of `roles`.
func roleMiddleware(auth *authenticator, roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := auth.contextClaims(ctx)
			if err != nil {
				return err
			}
			for _, role := range roles {
				if claims.Role == role {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}
