package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SessionConfig for the Redis-backed session cookie.
type SessionConfig struct {
	Secret            string
	RedisURL          string
	AllowCrossSiteDev bool
	IsProduction      bool
}

const (
	SessionCookieName  = "ibms.sid"
	SessionRedisPrefix = "session:"
	UserSessionsPrefix = "user_sessions:"
	sessionMaxAge      = 24 * time.Hour
)

// SessionUser is the shape stored in the session under "user".
type SessionUser struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	OrgID    *int64 `json:"org_id"`
	TeamID   *int64 `json:"team_id"`
}

type sessionData struct {
	User *SessionUser `json:"user,omitempty"`
}

// Session connects to Redis and returns the session middleware with its client.
func Session(cfg SessionConfig) (fiber.Handler, *redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opt)
	return SessionWithClient(rdb), rdb, nil
}

// SessionWithClient loads the session named by the cookie before the handler and saves it after.
// Cookie values may carry an "s:" prefix and a ".signature" suffix.
func SessionWithClient(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Cookies(SessionCookieName)
		if strings.HasPrefix(sessionID, "s:") {
			sessionID = strings.SplitN(sessionID[2:], ".", 2)[0]
		}

		data := &sessionData{}
		if sessionID != "" {
			b, err := rdb.Get(c.UserContext(), SessionRedisPrefix+sessionID).Bytes()
			if err == nil {
				if err := json.Unmarshal(b, data); err != nil {
					log.Warn().Err(err).Msg("session: unreadable session payload")
					data = &sessionData{}
				}
			}
		}
		c.Locals("session_data", data)
		c.Locals("session_id", sessionID)
		if data.User != nil {
			c.Locals(userLocal, data.User)
		}

		if err := c.Next(); err != nil {
			return err
		}

		if sid, _ := c.Locals("session_id").(string); sid != "" {
			if updated, _ := c.Locals("session_data").(*sessionData); updated != nil && updated.User != nil {
				b, _ := json.Marshal(updated)
				if err := rdb.Set(context.Background(), SessionRedisPrefix+sid, b, sessionMaxAge).Err(); err != nil {
					log.Warn().Err(err).Msg("session: save failed")
				}
			}
		}
		return nil
	}
}

// GetSessionID returns the current session id.
func GetSessionID(c *fiber.Ctx) string {
	sid, _ := c.Locals("session_id").(string)
	return sid
}

// SetSessionUser stores the user in the session; it is saved when the request completes.
func SetSessionUser(c *fiber.Ctx, user SessionUser) {
	data, _ := c.Locals("session_data").(*sessionData)
	if data == nil {
		data = &sessionData{}
	}
	u := user
	data.User = &u
	c.Locals("session_data", data)
	c.Locals(userLocal, &u)
}

// RegenerateSessionID issues a new session id; the caller sets the cookie.
func RegenerateSessionID(c *fiber.Ctx) string {
	newID := uuid.New().String()
	c.Locals("session_id", newID)
	return newID
}

// DestroySession clears the session for this request; the caller removes the Redis key and cookie.
func DestroySession(c *fiber.Ctx) {
	c.Locals("session_data", &sessionData{})
	c.Locals("session_id", "")
	c.Locals(userLocal, nil)
	c.Locals(actorLocal, nil)
}

// SessionCookieConfig returns the cookie options for set and clear.
func SessionCookieConfig(cfg SessionConfig) fiber.Cookie {
	sameSite := "Lax"
	if cfg.AllowCrossSiteDev {
		sameSite = "None"
	}
	return fiber.Cookie{
		Name:     SessionCookieName,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HTTPOnly: true,
		Secure:   cfg.IsProduction || cfg.AllowCrossSiteDev,
		SameSite: sameSite,
	}
}
