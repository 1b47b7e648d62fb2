package auth

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ibms-backend/internal/application/audit"
	"ibms-backend/internal/domain"
	"ibms-backend/internal/pkg/apperr"
	"ibms-backend/internal/pkg/constants"
	"ibms-backend/internal/pkg/validation"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{4,50}$`)

// Service handles login, signup and the user context served by /me.
type Service struct {
	DB    *gorm.DB
	Audit *audit.Writer
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
	Now  func() time.Time
}

// SignupInput is the self-registration payload.
type SignupInput struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Organization *int64 `json:"organization"`
	Team         *int64 `json:"team"`
}

// UserInfo is the public user part of the context.
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// ProfileInfo is the role and organizational assignment part of the context.
type ProfileInfo struct {
	Role             string  `json:"role"`
	Organization     *int64  `json:"organization"`
	OrganizationName *string `json:"organization_name"`
	Team             *int64  `json:"team"`
	TeamName         *string `json:"team_name"`
}

// UserContext is returned by login, signup and /me.
type UserContext struct {
	User    UserInfo    `json:"user"`
	Profile ProfileInfo `json:"profile"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) cost() int {
	if s.Cost > 0 {
		return s.Cost
	}
	return bcrypt.DefaultCost
}

func (s *Service) writer(tx *gorm.DB) *audit.Writer {
	if s.Audit == nil {
		return nil
	}
	if tx == nil {
		return s.Audit
	}
	return s.Audit.With(tx)
}

func (s *Service) authEvent(ctx context.Context, tx *gorm.DB, u *domain.User, action, reason string, status int, meta map[string]interface{}, req *audit.RequestInfo) {
	ev := audit.Event{
		LogType:      domain.LogTypeAuth,
		Action:       action,
		FromStatus:   "AUTH",
		ToStatus:     action,
		Reason:       reason,
		ResourceType: "auth",
		StatusCode:   &status,
		Metadata:     meta,
		Request:      req,
	}
	if u != nil {
		ev.Actor = &domain.Actor{UserID: u.ID, Username: u.Username}
		ev.ResourceID = strconv.FormatInt(u.ID, 10)
	}
	s.writer(tx).Write(ctx, ev)
}

// HashPassword returns the bcrypt hash of password.
func (s *Service) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func compareHash(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Login authenticates by username, or by email when identifier contains "@".
// Wrong or unknown credentials return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, identifier, password string, req *audit.RequestInfo) (*domain.User, error) {
	identifier = strings.TrimSpace(identifier)
	meta := map[string]interface{}{"identifier": identifier}
	if identifier == "" || password == "" {
		s.authEvent(ctx, nil, nil, "LOGIN_FAILED", "missing credentials", 400, meta, req)
		return nil, apperr.Validation("credentials_required", ErrCredentialsRequired.Error()).Wrap(ErrCredentialsRequired)
	}
	db := s.DB.WithContext(ctx)
	username := identifier
	if strings.Contains(identifier, "@") {
		var byEmail domain.User
		err := db.Where("LOWER(email) = ?", strings.ToLower(identifier)).Order("id").First(&byEmail).Error
		if err == nil {
			username = byEmail.Username
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	var u domain.User
	err := db.Where("username = ?", username).First(&u).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil || !u.IsActive || u.PasswordHash == "" ||
		!compareHash(u.PasswordHash, password) {
		s.authEvent(ctx, nil, nil, "LOGIN_FAILED", "invalid credentials", 401, meta, req)
		return nil, ErrInvalidCredentials
	}
	now := s.now()
	if err := db.Model(&u).Update("last_login_at", now).Error; err != nil {
		log.Warn().Err(err).Int64("user_id", u.ID).Msg("auth: last login not recorded")
	}
	u.LastLoginAt = &now
	s.authEvent(ctx, nil, &u, "LOGIN", "login success", 200, meta, req)
	return &u, nil
}

// Logout records the LOGOUT event; session removal is the caller's job.
func (s *Service) Logout(ctx context.Context, actor *domain.Actor, req *audit.RequestInfo) {
	if actor == nil {
		return
	}
	s.authEvent(ctx, nil, &domain.User{ID: actor.UserID, Username: actor.Username}, "LOGOUT", "logout", 200, nil, req)
}

// Signup registers a user. The very first profile becomes ADMIN, every later one STAFF.
func (s *Service) Signup(ctx context.Context, in SignupInput, req *audit.RequestInfo) (*UserContext, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Password == "" {
		return nil, apperr.Validation("credentials_required", ErrCredentialsRequired.Error()).Wrap(ErrCredentialsRequired)
	}
	if !usernamePattern.MatchString(in.Username) {
		return nil, apperr.Validation("invalid_username", ErrInvalidUsername.Error()).WithField("username")
	}

	var u domain.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUsernameFree(tx, in.Username, 0); err != nil {
			return err
		}
		if in.Email == "" {
			return apperr.Validation("email_required", ErrEmailRequired.Error()).WithField("email")
		}
		if !validation.IsValidEmail(in.Email) {
			return apperr.Validation("invalid_email", "invalid email format").WithField("email")
		}
		if err := checkEmailFree(tx, in.Email, 0); err != nil {
			return err
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
		var profiles int64
		if err := tx.Model(&domain.UserProfile{}).Count(&profiles).Error; err != nil {
			return err
		}
		role := constants.Staff
		if profiles == 0 {
			role = constants.Admin
		}
		u = domain.User{Username: in.Username, FirstName: in.Name, Email: in.Email, PasswordHash: hash, IsActive: true}
		if err := tx.Create(&u).Error; err != nil {
			return err
		}
		if err := tx.Create(&domain.UserProfile{UserID: u.ID, Role: role, OrganizationID: idOf(org), TeamID: idOf(team)}).Error; err != nil {
			return err
		}
		s.authEvent(ctx, tx, &u, "SIGNUP", "signup success", 201,
			map[string]interface{}{"username": u.Username, "email": u.Email}, req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.UserContext(ctx, u.ID)
}

// UserContext loads the user with role and organization names. A missing profile is created
// as ADMIN when no profile exists yet, otherwise STAFF.
func (s *Service) UserContext(ctx context.Context, userID int64) (*UserContext, error) {
	db := s.DB.WithContext(ctx)
	var u domain.User
	if err := db.First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user_not_found", ErrUserNotFound.Error()).Wrap(ErrUserNotFound)
		}
		return nil, err
	}
	p, err := ensureProfile(db, &u)
	if err != nil {
		return nil, err
	}
	return buildContext(db, &u, p)
}

// LoadActor resolves the caller for the services. Inactive or deleted users are not authenticated.
func (s *Service) LoadActor(ctx context.Context, userID int64) (*domain.Actor, error) {
	db := s.DB.WithContext(ctx)
	var u domain.User
	if err := db.First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrNotAuthenticated
	}
	p, err := ensureProfile(db, &u)
	if err != nil {
		return nil, err
	}
	return &domain.Actor{
		UserID:         u.ID,
		Username:       u.Username,
		Role:           constants.NormalizeRole(p.Role),
		OrganizationID: p.OrganizationID,
		TeamID:         p.TeamID,
	}, nil
}

func ensureProfile(db *gorm.DB, u *domain.User) (*domain.UserProfile, error) {
	var p domain.UserProfile
	err := db.Where("user_id = ?", u.ID).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	var count int64
	if err := db.Model(&domain.UserProfile{}).Count(&count).Error; err != nil {
		return nil, err
	}
	role := constants.Staff
	if count == 0 {
		role = constants.Admin
	}
	p = domain.UserProfile{UserID: u.ID, Role: role}
	if err := db.Create(&p).Error; err != nil {
		return nil, err
	}
	log.Warn().Int64("user_id", u.ID).Str("username", u.Username).Str("role", role).Msg("auth: created missing user profile")
	return &p, nil
}

func buildContext(db *gorm.DB, u *domain.User, p *domain.UserProfile) (*UserContext, error) {
	out := &UserContext{
		User: UserInfo{ID: u.ID, Username: u.Username, Name: u.DisplayName(), Email: u.Email},
		Profile: ProfileInfo{
			Role:         p.Role,
			Organization: p.OrganizationID,
			Team:         p.TeamID,
		},
	}
	var err error
	if out.Profile.OrganizationName, err = orgName(db, p.OrganizationID); err != nil {
		return nil, err
	}
	if out.Profile.TeamName, err = orgName(db, p.TeamID); err != nil {
		return nil, err
	}
	return out, nil
}

func orgName(db *gorm.DB, id *int64) (*string, error) {
	if id == nil {
		return nil, nil
	}
	var o domain.Organization
	if err := db.Select("id", "name").First(&o, *id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &o.Name, nil
}

// ResolveOrgTeam validates a department/team pair. A team alone implies its parent department.
func ResolveOrgTeam(db *gorm.DB, orgID, teamID *int64) (*domain.Organization, *domain.Organization, error) {
	var org *domain.Organization
	if orgID != nil && *orgID != 0 {
		var o domain.Organization
		if err := db.First(&o, *orgID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, apperr.Validation("organization_not_found", "organization not found").WithField("organization")
			}
			return nil, nil, err
		}
		if o.IsTeam() {
			return nil, nil, apperr.Validation("organization_not_department", "organization must be a department").WithField("organization")
		}
		org = &o
	}
	if teamID == nil || *teamID == 0 {
		return org, nil, nil
	}
	var team domain.Organization
	if err := db.First(&team, *teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.Validation("team_not_found", "team not found").WithField("team")
		}
		return nil, nil, err
	}
	if !team.IsTeam() {
		return nil, nil, apperr.Validation("team_not_team", "team must be a team organization").WithField("team")
	}
	if team.ParentID == nil {
		return nil, nil, apperr.Validation("team_without_parent", "team must have a parent department").WithField("team")
	}
	if org == nil {
		var parent domain.Organization
		if err := db.First(&parent, *team.ParentID).Error; err != nil {
			return nil, nil, err
		}
		org = &parent
	} else if *team.ParentID != org.ID {
		return nil, nil, apperr.Validation("team_org_mismatch", "team does not belong to organization").WithField("team")
	}
	return org, &team, nil
}

var commonPasswords = map[string]bool{
	"password": true, "password1": true, "12345678": true, "123456789": true, "qwerty123": true,
	"iloveyou": true, "admin1234": true, "abcd1234": true, "1q2w3e4r": true, "qwertyuiop": true,
}

// ValidatePassword applies the minimum password policy: 8+ chars, not numeric only, not common.
func ValidatePassword(password string) error {
	var problems []string
	if len(password) < 8 {
		problems = append(problems, "This password is too short. It must contain at least 8 characters.")
	}
	if password != "" && strings.Trim(password, "0123456789") == "" {
		problems = append(problems, "This password is entirely numeric.")
	}
	if commonPasswords[strings.ToLower(password)] {
		problems = append(problems, "This password is too common.")
	}
	if len(problems) == 0 {
		return nil
	}
	return apperr.Validation("invalid_password", "invalid password").WithField("password").WithDetail("messages", problems)
}

func checkUsernameFree(tx *gorm.DB, username string, exceptID int64) error {
	var n int64
	if err := tx.Model(&domain.User{}).Where("username = ? AND id <> ?", username, exceptID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return apperr.Validation("username_taken", ErrUsernameTaken.Error()).WithField("username")
	}
	return nil
}

func checkEmailFree(tx *gorm.DB, email string, exceptID int64) error {
	var n int64
	if err := tx.Model(&domain.User{}).Where("LOWER(email) = ? AND id <> ?", strings.ToLower(email), exceptID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return apperr.Validation("email_taken", ErrEmailTaken.Error()).WithField("email")
	}
	return nil
}

func idOf(o *domain.Organization) *int64 {
	if o == nil {
		return nil
	}
	id := o.ID
	return &id
}
