package middleware

import (
	"context"
	"errors"

	authsvc "ibms-backend/internal/application/auth"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/constants"
	"ibms-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const (
	userLocal  = "user"
	actorLocal = "actor"
)

// ActorLoader resolves the current role and assignment of a user.
type ActorLoader interface {
	LoadActor(ctx context.Context, userID int64) (*domain.Actor, error)
}

// RequireAuth ensures a session user exists and attaches the actor for handlers.
// With a loader the actor is refreshed from the database, so role changes apply immediately.
func RequireAuth(loader ActorLoader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u := GetUser(c)
		if u == nil || u.UserID == 0 {
			return response.Unauthorized(c, "Unauthorized")
		}
		if loader == nil {
			c.Locals(actorLocal, &domain.Actor{
				UserID:         u.UserID,
				Username:       u.Username,
				Role:           constants.NormalizeRole(u.Role),
				OrganizationID: u.OrgID,
				TeamID:         u.TeamID,
			})
			return c.Next()
		}
		actor, err := loader.LoadActor(c.UserContext(), u.UserID)
		if err != nil {
			if errors.Is(err, authsvc.ErrNotAuthenticated) {
				log.Info().Err(err).Int64("user_id", u.UserID).Msg("auth: session user rejected")
				return response.Unauthorized(c, "Unauthorized")
			}
			return err
		}
		c.Locals(actorLocal, actor)
		return c.Next()
	}
}

// GetUser returns the session user, or nil when not logged in.
func GetUser(c *fiber.Ctx) *SessionUser {
	u, _ := c.Locals(userLocal).(*SessionUser)
	return u
}

// CurrentActor returns the actor attached by RequireAuth.
func CurrentActor(c *fiber.Ctx) *domain.Actor {
	a, _ := c.Locals(actorLocal).(*domain.Actor)
	return a
}

// SetActor attaches an actor directly; used by tests and internal callers.
func SetActor(c *fiber.Ctx, actor *domain.Actor) {
	c.Locals(actorLocal, actor)
}
