package auth

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"ibms-backend/internal/application/audit"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"
	"ibms-backend/internal/pkg/constants"
	"ibms-backend/internal/pkg/validation"

	"gorm.io/gorm"
)

// AdminUser is one row of the user administration list.
type AdminUser struct {
	ID               int64      `json:"id"`
	Username         string     `json:"username"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	IsActive         bool       `json:"is_active"`
	Role             string     `json:"role"`
	Organization     *int64     `json:"organization"`
	OrganizationName *string    `json:"organization_name"`
	Team             *int64     `json:"team"`
	TeamName         *string    `json:"team_name"`
	LastLogin        *time.Time `json:"last_login"`
	DateJoined       time.Time  `json:"date_joined"`
}

// CreateUserInput is the admin create payload. Role defaults to STAFF.
type CreateUserInput struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	Organization *int64 `json:"organization"`
	Team         *int64 `json:"team"`
}

// AssignRoleInput sets role and assignment of one user.
type AssignRoleInput struct {
	UserID       int64  `json:"user_id"`
	Role         string `json:"role"`
	Organization *int64 `json:"organization"`
	Team         *int64 `json:"team"`
}

func requireAdmin(actor *domain.Actor) error {
	if actor == nil || constants.NormalizeRole(actor.Role) != constants.Admin {
		return apperr.Permission("admin_required", ErrAdminRequired.Error()).Wrap(ErrAdminRequired)
	}
	return nil
}

func validRole(role string) error {
	if !constants.IsValidRole(role) {
		return apperr.Validation("invalid_role", ErrInvalidRole.Error()).WithField("role")
	}
	return nil
}

func userNotFound() error {
	return apperr.NotFound("user_not_found", ErrUserNotFound.Error()).Wrap(ErrUserNotFound)
}

func (s *Service) crudEvent(ctx context.Context, tx *gorm.DB, actor *domain.Actor, action, reason string, userID int64, status int, meta map[string]interface{}, req *audit.RequestInfo) {
	s.writer(tx).Write(ctx, audit.Event{
		Actor:        actor,
		LogType:      domain.LogTypeCRUD,
		Action:       action,
		FromStatus:   "API",
		ToStatus:     action,
		Reason:       reason,
		ResourceType: "user",
		ResourceID:   strconv.FormatInt(userID, 10),
		StatusCode:   &status,
		Metadata:     meta,
		Request:      req,
	})
}

// ensureAdminRemains refuses to leave the system without an active ADMIN.
func ensureAdminRemains(tx *gorm.DB, userID int64) error {
	var n int64
	err := tx.Model(&domain.UserProfile{}).
		Joins("JOIN users ON users.id = user_profiles.user_id").
		Where("user_profiles.role = ? AND users.is_active = ? AND users.id <> ?", constants.Admin, true, userID).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.State("last_admin", ErrLastAdmin.Error()).Wrap(ErrLastAdmin)
	}
	return nil
}

// ListUsers returns every user with a profile, ordered by id.
func (s *Service) ListUsers(ctx context.Context, actor *domain.Actor) ([]AdminUser, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)
	var users []domain.User
	if err := db.Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	var profiles []domain.UserProfile
	if err := db.Find(&profiles).Error; err != nil {
		return nil, err
	}
	var orgs []domain.Organization
	if err := db.Select("id", "name").Find(&orgs).Error; err != nil {
		return nil, err
	}
	byUser := make(map[int64]domain.UserProfile, len(profiles))
	for _, p := range profiles {
		byUser[p.UserID] = p
	}
	names := make(map[int64]string, len(orgs))
	for _, o := range orgs {
		names[o.ID] = o.Name
	}
	name := func(id *int64) *string {
		if id == nil {
			return nil
		}
		if n, ok := names[*id]; ok {
			return &n
		}
		return nil
	}
	out := make([]AdminUser, 0, len(users))
	for _, u := range users {
		p, ok := byUser[u.ID]
		if !ok {
			continue
		}
		out = append(out, AdminUser{
			ID: u.ID, Username: u.Username, Name: u.FirstName, Email: u.Email, IsActive: u.IsActive,
			Role: p.Role, Organization: p.OrganizationID, OrganizationName: name(p.OrganizationID),
			Team: p.TeamID, TeamName: name(p.TeamID), LastLogin: u.LastLoginAt, DateJoined: u.CreatedAt,
		})
	}
	return out, nil
}

// CreateUser adds an active user with the given role.
func (s *Service) CreateUser(ctx context.Context, actor *domain.Actor, in CreateUserInput, req *audit.RequestInfo) (*UserContext, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.Role == "" {
		in.Role = constants.Staff
	}
	if in.Username == "" || in.Password == "" {
		return nil, apperr.Validation("credentials_required", ErrCredentialsRequired.Error())
	}
	if !usernamePattern.MatchString(in.Username) {
		return nil, apperr.Validation("invalid_username", "invalid username format").WithField("username")
	}
	if err := validRole(in.Role); err != nil {
		return nil, err
	}
	var u domain.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUsernameFree(tx, in.Username, 0); err != nil {
			return err
		}
		if in.Email != "" {
			if !validation.IsValidEmail(in.Email) {
				return apperr.Validation("invalid_email", "invalid email format").WithField("email")
			}
			if err := checkEmailFree(tx, in.Email, 0); err != nil {
				return err
			}
		}
		if err := ValidatePassword(in.Password); err != nil {
			return err
		}
		org, team, err := ResolveOrgTeam(tx, in.Organization, in.Team)
		if err != nil {
			return err
		}
		hash, err := s.HashPassword(in.Password)
		if err != nil {
			return err
		}
		u = domain.User{Username: in.Username, FirstName: in.Name, Email: in.Email, PasswordHash: hash, IsActive: true}
		if err := tx.Create(&u).Error; err != nil {
			return err
		}
		if err := tx.Create(&domain.UserProfile{UserID: u.ID, Role: in.Role, OrganizationID: idOf(org), TeamID: idOf(team)}).Error; err != nil {
			return err
		}
		s.crudEvent(ctx, tx, actor, "CREATE", "admin created user", u.ID, 201, map[string]interface{}{
			"target_username": u.Username, "role": in.Role, "organization": idOf(org), "team": idOf(team),
		}, req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.UserContext(ctx, u.ID)
}

// UpdateUser applies a partial update. Keys: username, name, email, is_active, role,
// organization, team, reset_password. Setting only organization clears the team; setting only
// a team re-derives the department.
func (s *Service) UpdateUser(ctx context.Context, actor *domain.Actor, id int64, fields map[string]interface{}, req *audit.RequestInfo) (*UserContext, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.First(&u, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return userNotFound()
			}
			return err
		}
		p, err := ensureProfile(tx, &u)
		if err != nil {
			return err
		}
		userCols := map[string]interface{}{}
		if v, ok := fields["username"]; ok {
			name := strings.TrimSpace(asString(v))
			if !usernamePattern.MatchString(name) {
				return apperr.Validation("invalid_username", "invalid username format").WithField("username")
			}
			if err := checkUsernameFree(tx, name, u.ID); err != nil {
				return err
			}
			userCols["username"] = name
		}
		if v, ok := fields["name"]; ok {
			userCols["first_name"] = strings.TrimSpace(asString(v))
		}
		if v, ok := fields["email"]; ok {
			email := strings.TrimSpace(asString(v))
			if email != "" {
				if err := checkEmailFree(tx, email, u.ID); err != nil {
					return err
				}
			}
			userCols["email"] = email
		}
		if v, ok := fields["is_active"]; ok && v != nil {
			active := asBool(v)
			if !active && p.Role == constants.Admin {
				if err := ensureAdminRemains(tx, u.ID); err != nil {
					return err
				}
			}
			userCols["is_active"] = active
		}
		if v, ok := fields["reset_password"]; ok {
			if pw := asString(v); pw != "" {
				if err := ValidatePassword(pw); err != nil {
					return err
				}
				hash, err := s.HashPassword(pw)
				if err != nil {
					return err
				}
				userCols["password_hash"] = hash
			}
		}
		if len(userCols) > 0 {
			if err := tx.Model(&u).Updates(userCols).Error; err != nil {
				return err
			}
		}

		profileCols := map[string]interface{}{}
		if v, ok := fields["role"]; ok && v != nil {
			role := asString(v)
			if err := validRole(role); err != nil {
				return err
			}
			if p.Role == constants.Admin && role != constants.Admin {
				if err := ensureAdminRemains(tx, u.ID); err != nil {
					return err
				}
			}
			profileCols["role"] = role
		}
		rawOrg, hasOrg := fields["organization"]
		rawTeam, hasTeam := fields["team"]
		if hasOrg || hasTeam {
			orgID, teamID := p.OrganizationID, p.TeamID
			if hasOrg {
				if orgID, err = optionalID(rawOrg); err != nil {
					return apperr.Validation("invalid_organization", "organization not found").WithField("organization")
				}
				if !hasTeam {
					teamID = nil
				}
			}
			if hasTeam {
				if teamID, err = optionalID(rawTeam); err != nil {
					return apperr.Validation("invalid_team", "team not found").WithField("team")
				}
				if !hasOrg && teamID != nil {
					orgID = nil
				}
			}
			org, team, err := ResolveOrgTeam(tx, orgID, teamID)
			if err != nil {
				return err
			}
			profileCols["organization_id"] = idOf(org)
			profileCols["team_id"] = idOf(team)
		}
		if len(profileCols) > 0 {
			if err := tx.Model(p).Updates(profileCols).Error; err != nil {
				return err
			}
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s.crudEvent(ctx, tx, actor, "UPDATE", "admin updated user", u.ID, 200, map[string]interface{}{
			"target_username": u.Username, "fields": keys,
		}, req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.UserContext(ctx, id)
}

// DeleteUser removes a user and its profile. Admins cannot delete themselves.
func (s *Service) DeleteUser(ctx context.Context, actor *domain.Actor, id int64, req *audit.RequestInfo) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if actor.UserID == id {
		return apperr.Validation("cannot_delete_self", ErrCannotDeleteSelf.Error()).Wrap(ErrCannotDeleteSelf)
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.First(&u, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return userNotFound()
			}
			return err
		}
		if err := tx.Where("user_id = ?", u.ID).Delete(&domain.UserProfile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", u.ID).Delete(&domain.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&u).Error; err != nil {
			return err
		}
		s.crudEvent(ctx, tx, actor, "DELETE", "admin deleted user", id, 200,
			map[string]interface{}{"target_username": u.Username}, req)
		return nil
	})
}

// AssignRole replaces role and assignment of a user; a team alone derives its department.
func (s *Service) AssignRole(ctx context.Context, actor *domain.Actor, in AssignRoleInput, req *audit.RequestInfo) (*UserContext, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validRole(in.Role); err != nil {
		return nil, err
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.First(&u, in.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return userNotFound()
			}
			return err
		}
		p, err := ensureProfile(tx, &u)
		if err != nil {
			return err
		}
		if p.Role == constants.Admin && in.Role != constants.Admin {
			if err := ensureAdminRemains(tx, u.ID); err != nil {
				return err
			}
		}
		org, team, err := ResolveOrgTeam(tx, in.Organization, in.Team)
		if err != nil {
			return err
		}
		if err := tx.Model(p).Updates(map[string]interface{}{
			"role": in.Role, "organization_id": idOf(org), "team_id": idOf(team),
		}).Error; err != nil {
			return err
		}
		s.crudEvent(ctx, tx, actor, "UPDATE", "assign role", u.ID, 200, map[string]interface{}{
			"target_username": u.Username, "role": in.Role, "organization": idOf(org), "team": idOf(team),
		}, req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.UserContext(ctx, in.UserID)
}

// ChangePassword verifies the current password before storing the new one.
func (s *Service) ChangePassword(ctx context.Context, actor *domain.Actor, current, next string) error {
	if actor == nil {
		return ErrNotAuthenticated
	}
	db := s.DB.WithContext(ctx)
	var u domain.User
	if err := db.First(&u, actor.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return userNotFound()
		}
		return err
	}
	if !s.checkPassword(&u, current) {
		return apperr.Validation("password_mismatch", ErrPasswordMismatch.Error()).WithField("current_password")
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	hash, err := s.HashPassword(next)
	if err != nil {
		return err
	}
	return db.Model(&u).Update("password_hash", hash).Error
}

// Withdraw deletes the caller's own account after re-checking the password.
func (s *Service) Withdraw(ctx context.Context, actor *domain.Actor, password string) error {
	if actor == nil {
		return ErrNotAuthenticated
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.First(&u, actor.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return userNotFound()
			}
			return err
		}
		if !s.checkPassword(&u, password) {
			return apperr.Validation("password_mismatch", "password mismatch").WithField("password")
		}
		var p domain.UserProfile
		if err := tx.Where("user_id = ?", u.ID).First(&p).Error; err == nil && p.Role == constants.Admin {
			if err := ensureAdminRemains(tx, u.ID); err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", u.ID).Delete(&domain.UserProfile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", u.ID).Delete(&domain.Notification{}).Error; err != nil {
			return err
		}
		return tx.Delete(&u).Error
	})
}

// FindUsernames returns masked usernames registered with email, optionally narrowed by name.
func (s *Service) FindUsernames(ctx context.Context, name, email string) ([]string, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if email == "" {
		return nil, apperr.Validation("email_required", ErrEmailRequired.Error()).WithField("email")
	}
	q := s.DB.WithContext(ctx).Model(&domain.User{}).Where("LOWER(email) = ?", strings.ToLower(email))
	if name != "" {
		q = q.Where("LOWER(first_name) = ?", strings.ToLower(name))
	}
	var usernames []string
	if err := q.Order("id").Limit(5).Pluck("username", &usernames).Error; err != nil {
		return nil, err
	}
	hints := make([]string, 0, len(usernames))
	for _, u := range usernames {
		hints = append(hints, MaskUsername(u))
	}
	return hints, nil
}

// MaskUsername keeps the first two and the last character.
func MaskUsername(v string) string {
	r := []rune(v)
	switch {
	case len(r) == 0:
		return ""
	case len(r) <= 2:
		return string(r[0]) + "*"
	}
	stars := len(r) - 3
	if stars < 1 {
		stars = 1
	}
	return string(r[:2]) + strings.Repeat("*", stars) + string(r[len(r)-1])
}

func (s *Service) checkPassword(u *domain.User, password string) bool {
	return u.PasswordHash != "" && password != "" &&
		compareHash(u.PasswordHash, password)
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y":
			return true
		}
	}
	return false
}

// optionalID reads a nullable id from decoded JSON; 0 and "" mean none.
func optionalID(v interface{}) (*int64, error) {
	var id int64
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		id = int64(t)
	case string:
		if t == "" || strings.EqualFold(t, "null") {
			return nil, nil
		}
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil, err
		}
		id = n
	default:
		return nil, errors.New("unsupported id value")
	}
	if id == 0 {
		return nil, nil
	}
	return &id, nil
}
