package auth

import (
	"context"
	"errors"
	"strconv"

	authsvc "ibms-backend/internal/application/auth"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/middleware"
	"ibms-backend/internal/pkg/response"
	"ibms-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Handlers holds dependencies for auth endpoints.
type Handlers struct {
	Service *authsvc.Service
	Rdb     *redis.Client
	Config  middleware.SessionConfig
}

// LoginRequest accepts a username or an email in "username".
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login POST /api/auth/login: authenticate, start a session, SAdd user_sessions:<id>, set cookie.
func (h *Handlers) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := validation.Decode(c.Body(), &req); err != nil {
		return response.FromError(c, err)
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}
	user, err := h.Service.Login(c.UserContext(), identifier, req.Password, middleware.RequestInfo(c))
	if err != nil {
		if errors.Is(err, authsvc.ErrInvalidCredentials) {
			return response.Error(c, err.Error(), fiber.StatusUnauthorized, fiber.Map{"code": "invalid_credentials"})
		}
		return response.FromError(c, err)
	}
	uc, err := h.Service.UserContext(c.UserContext(), user.ID)
	if err != nil {
		return response.FromError(c, err)
	}

	sessionID := middleware.RegenerateSessionID(c)
	middleware.SetSessionUser(c, middleware.SessionUser{
		UserID:   user.ID,
		Username: user.Username,
		Role:     uc.Profile.Role,
		OrgID:    uc.Profile.Organization,
		TeamID:   uc.Profile.Team,
	})
	if h.Rdb != nil {
		key := middleware.UserSessionsPrefix + idString(user.ID)
		if err := h.Rdb.SAdd(context.Background(), key, sessionID).Err(); err != nil {
			return response.Error(c, "Internal Server Error", fiber.StatusInternalServerError, nil)
		}
	}
	cookie := middleware.SessionCookieConfig(h.Config)
	cookie.Value = "s:" + sessionID
	c.Cookie(&cookie)

	return response.Success(c, "Login successful", uc, nil)
}

// Me GET /api/auth/me
func (h *Handlers) Me(c *fiber.Ctx) error {
	u := middleware.GetUser(c)
	if u == nil {
		log.Info().Str("path", c.Path()).Bool("cookie_present", c.Cookies(middleware.SessionCookieName) != "").
			Msg("auth/me: no session user")
		return response.Unauthorized(c, authsvc.ErrNotAuthenticated.Error())
	}
	if _, err := h.Service.LoadActor(c.UserContext(), u.UserID); err != nil {
		if errors.Is(err, authsvc.ErrNotAuthenticated) {
			return response.Unauthorized(c, err.Error())
		}
		return response.FromError(c, err)
	}
	uc, err := h.Service.UserContext(c.UserContext(), u.UserID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Authenticated", uc, nil)
}

// Logout POST /api/auth/logout: SRem the session, delete it, clear the cookie.
func (h *Handlers) Logout(c *fiber.Ctx) error {
	sessionID := middleware.GetSessionID(c)
	u := middleware.GetUser(c)
	if u != nil {
		h.Service.Logout(c.UserContext(), &domain.Actor{UserID: u.UserID, Username: u.Username, Role: u.Role}, middleware.RequestInfo(c))
	}
	h.endSession(c, sessionID, u)
	return response.Success(c, "Logged out successfully", nil, nil)
}

func (h *Handlers) endSession(c *fiber.Ctx, sessionID string, u *middleware.SessionUser) {
	ctx := context.Background()
	if h.Rdb != nil && sessionID != "" {
		if u != nil {
			_ = h.Rdb.SRem(ctx, middleware.UserSessionsPrefix+idString(u.UserID), sessionID).Err()
		}
		_ = h.Rdb.Del(ctx, middleware.SessionRedisPrefix+sessionID).Err()
	}
	middleware.DestroySession(c)

	cookie := middleware.SessionCookieConfig(h.Config)
	cookie.Value = ""
	cookie.MaxAge = -1
	c.Cookie(&cookie)
}

// Signup POST /api/auth/signup
func (h *Handlers) Signup(c *fiber.Ctx) error {
	var in authsvc.SignupInput
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	uc, err := h.Service.Signup(c.UserContext(), in, middleware.RequestInfo(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Signed up", uc, nil)
}

// ChangePassword POST /api/auth/change-password
func (h *Handlers) ChangePassword(c *fiber.Ctx) error {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := validation.Decode(c.Body(), &body); err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.ChangePassword(c.UserContext(), middleware.CurrentActor(c), body.CurrentPassword, body.NewPassword); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Password changed", fiber.Map{"changed": true}, nil)
}

// Withdraw POST /api/auth/withdraw: deletes the caller's account and ends the session.
func (h *Handlers) Withdraw(c *fiber.Ctx) error {
	var body struct {
		Password string `json:"password"`
	}
	if err := validation.Decode(c.Body(), &body); err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.Withdraw(c.UserContext(), middleware.CurrentActor(c), body.Password); err != nil {
		return response.FromError(c, err)
	}
	h.endSession(c, middleware.GetSessionID(c), middleware.GetUser(c))
	return response.Success(c, "Account withdrawn", fiber.Map{"withdrawn": true}, nil)
}

// FindID POST /api/auth/find-id
func (h *Handlers) FindID(c *fiber.Ctx) error {
	var body struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := validation.Decode(c.Body(), &body); err != nil {
		return response.FromError(c, err)
	}
	hints, err := h.Service.FindUsernames(c.UserContext(), body.Name, body.Email)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"count": len(hints), "usernames": hints}, nil)
}

// PasswordPolicy GET /api/auth/password-policy
func (h *Handlers) PasswordPolicy(c *fiber.Ctx) error {
	return response.Success(c, "OK", fiber.Map{
		"username_rule":  "4-50 chars, letters/numbers/_/./-",
		"password_rule":  "Use at least 8 chars; avoid common/numeric-only passwords.",
		"lock_policy":    nil,
		"login_supports": []string{"username", "email"},
	}, nil)
}

// ListUsers GET /api/auth/users
func (h *Handlers) ListUsers(c *fiber.Ctx) error {
	users, err := h.Service.ListUsers(c.UserContext(), middleware.CurrentActor(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "OK", users, fiber.Map{"count": len(users)})
}

// CreateUser POST /api/auth/users
func (h *Handlers) CreateUser(c *fiber.Ctx) error {
	var in authsvc.CreateUserInput
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	uc, err := h.Service.CreateUser(c.UserContext(), middleware.CurrentActor(c), in, middleware.RequestInfo(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "User created", uc, nil)
}

// UpdateUser PATCH /api/auth/users/:id
func (h *Handlers) UpdateUser(c *fiber.Ctx) error {
	id, err := validation.ID("user_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	fields, err := validation.Body(c.Body())
	if err != nil {
		return response.FromError(c, err)
	}
	uc, err := h.Service.UpdateUser(c.UserContext(), middleware.CurrentActor(c), id, fields, middleware.RequestInfo(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "User updated", uc, nil)
}

// DeleteUser DELETE /api/auth/users/:id
func (h *Handlers) DeleteUser(c *fiber.Ctx) error {
	id, err := validation.ID("user_id", c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.Service.DeleteUser(c.UserContext(), middleware.CurrentActor(c), id, middleware.RequestInfo(c)); err != nil {
		return response.FromError(c, err)
	}
	if h.Rdb != nil {
		h.dropUserSessions(id)
	}
	return response.Success(c, "User deleted", fiber.Map{"deleted": true}, nil)
}

// AssignRole POST /api/auth/assign-role
func (h *Handlers) AssignRole(c *fiber.Ctx) error {
	var in authsvc.AssignRoleInput
	if err := validation.Decode(c.Body(), &in); err != nil {
		return response.FromError(c, err)
	}
	uc, err := h.Service.AssignRole(c.UserContext(), middleware.CurrentActor(c), in, middleware.RequestInfo(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Role assigned", uc, nil)
}

// dropUserSessions removes every live session of a deleted user.
func (h *Handlers) dropUserSessions(userID int64) {
	ctx := context.Background()
	key := middleware.UserSessionsPrefix + idString(userID)
	ids, err := h.Rdb.SMembers(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("auth: session list unavailable")
		return
	}
	keys := make([]string, 0, len(ids)+1)
	for _, sid := range ids {
		keys = append(keys, middleware.SessionRedisPrefix+sid)
	}
	keys = append(keys, key)
	if err := h.Rdb.Del(ctx, keys...).Err(); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("auth: sessions not removed")
	}
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
