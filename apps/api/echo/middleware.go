package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/bytes"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

const contextActorKey = "actor"

// actorMiddleware resolves the operator of the request from its token claims.
func actorMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			actor, err := getContextActor(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context actor")
			}
			ctx.Set(contextActorKey, actor)
			return next(ctx)
		}
	}
}

func actorOf(ctx echo.Context) core.Actor {
	actor, _ := ctx.Get(contextActorKey).(core.Actor)
	return actor
}

// uploadLimit rejects request bodies larger than maxBytes with a 413.
func uploadLimit(maxBytes int64) echo.MiddlewareFunc {
	if maxBytes <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return middleware.BodyLimit(bytes.Format(maxBytes))
}
