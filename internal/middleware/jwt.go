package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/joaovsf/fitbook/internal/model"
)

// actorKey is the context key under which JWTAuth stores the resolved actor.
const actorKey = "actor"

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and injects the caller's identity into the request context.  Tokens are
// issued by the identity service; this engine only verifies them.  The
// expected claims are "sub" (numeric user id) and "role" (STUDENT, TEACHER
// or ADMIN).  Handlers read the identity back via ActorFrom.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// Parse with HS256 and our secret; any other signing method
			// is rejected outright.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			actor, err := actorFromClaims(claims)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}

			c.Set(actorKey, actor)
			// Role and user id are kept as plain strings as well so the
			// rate limiter and role guard do not depend on the model.
			c.Set("role", string(actor.Role))
			c.Set("user_id", strconv.FormatInt(actor.ID, 10))
			return next(c)
		}
	}
}

// ActorFrom returns the authenticated actor stored by JWTAuth, or false
// when the route was reached without authentication.
func ActorFrom(c echo.Context) (model.Actor, bool) {
	a, ok := c.Get(actorKey).(model.Actor)
	return a, ok
}

// actorFromClaims maps JWT claims onto a model.Actor.  The "sub" claim may
// arrive as a JSON number or a string depending on the issuer.
func actorFromClaims(claims jwt.MapClaims) (model.Actor, error) {
	var id int64
	switch sub := claims["sub"].(type) {
	case float64:
		id = int64(sub)
	case string:
		n, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			return model.Actor{}, errors.New("invalid subject")
		}
		id = n
	default:
		return model.Actor{}, errors.New("missing subject")
	}

	roleStr, _ := claims["role"].(string)
	role := model.Role(strings.ToUpper(roleStr))
	switch role {
	case model.RoleStudent, model.RoleTeacher, model.RoleAdmin:
	default:
		return model.Actor{}, errors.New("unknown role")
	}
	return model.Actor{Role: role, ID: id}, nil
}
