package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/auth"
	"github.com/charlesng35/studyhub/internal/database"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/pkg/crypto"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

// ErrEmailTaken is returned when signing up with an email already in use.
var ErrEmailTaken = apperrors.ErrConflict.WithMessage("Email already registered")

// TokenIssuer issues access tokens for authenticated users.
type TokenIssuer interface {
	GenerateAccessToken(input auth.AccessTokenInput) (string, error)
}

// SignUpInput describes the fields accepted when registering an account.
type SignUpInput struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,password"`
}

// LoginInput holds credentials for Login.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UpdateProfileInput enumerates mutable profile attributes.
type UpdateProfileInput struct {
	Name *string `json:"name" validate:"omitempty,min=2,max=100"`
}

// AuthPayload is returned by SignUp and Login.
type AuthPayload struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// UserFilter narrows user listings.
type UserFilter struct {
	Search string
	Page
}

// UserService manages accounts and credential checks.
type UserService struct {
	db     *gorm.DB
	tokens TokenIssuer
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, tokens TokenIssuer) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	if tokens == nil {
		return nil, errors.New("user service: token issuer is required")
	}
	return &UserService{db: db, tokens: tokens}, nil
}

// SignUp provisions a new account with a hashed password and returns a session token.
func (s *UserService) SignUp(ctx context.Context, input SignUpInput) (*AuthPayload, error) {
	ctx = ensureContext(ctx)
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := validateInput(input); err != nil {
		return nil, err
	}

	user, err := s.create(ctx, input.Name, input.Email, input.Password, false)
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// Login verifies credentials and issues a token.
func (s *UserService) Login(ctx context.Context, input LoginInput) (*AuthPayload, error) {
	ctx = ensureContext(ctx)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", input.Email).First(&user).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	if !crypto.VerifyPassword(user.Password, input.Password) {
		return nil, apperrors.ErrInvalidCredentials
	}
	return s.issue(&user)
}

// Get loads a user by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NewNotFound("User")
	}
	return user, nil
}

// FindByID returns nil without error when the user does not exist.
func (s *UserService) FindByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", strings.TrimSpace(id)).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	return &user, nil
}

// UpdateProfile changes the caller's own profile.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*models.User, error) {
	ctx = ensureContext(ctx)
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		input.Name = &trimmed
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if input.Name == nil {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Update("name", *input.Name).Error; err != nil {
		return nil, fmt.Errorf("user service: update profile: %w", err)
	}
	return s.Get(ctx, userID)
}

// List returns users ordered by name.
func (s *UserService) List(ctx context.Context, filter UserFilter) ([]models.User, error) {
	ctx = ensureContext(ctx)
	var users []models.User
	if err := filter.Page.apply(s.filtered(ctx, filter)).Order("name ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("user service: list users: %w", err)
	}
	return users, nil
}

// Count returns the number of users matching filter.
func (s *UserService) Count(ctx context.Context, filter UserFilter) (int64, error) {
	ctx = ensureContext(ctx)
	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("user service: count users: %w", err)
	}
	return total, nil
}

// Delete removes a user account.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).Delete(&models.User{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("user service: delete user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFound("User")
	}
	return nil
}

// EnsureAdmin creates the administrator account when no user with email exists
// and promotes it otherwise. An empty password is replaced with a random one which
// is returned so the caller can surface it once.
func (s *UserService) EnsureAdmin(ctx context.Context, name, email, password string) (*models.User, string, error) {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, "", errors.New("user service: admin email is required")
	}

	existing := &models.User{}
	err := s.db.WithContext(ctx).Where("email = ?", email).First(existing).Error
	switch {
	case err == nil:
		if !existing.IsAdmin {
			if err := s.db.WithContext(ctx).Model(existing).Update("is_admin", true).Error; err != nil {
				return nil, "", fmt.Errorf("user service: promote admin: %w", err)
			}
			existing.IsAdmin = true
		}
		return existing, "", nil
	case !isNotFound(err):
		return nil, "", fmt.Errorf("user service: load admin: %w", err)
	}

	generated := ""
	if password == "" {
		if generated, err = crypto.GenerateToken(12); err != nil {
			return nil, "", fmt.Errorf("user service: generate admin password: %w", err)
		}
		password = generated
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}

	user, err := s.create(ctx, name, email, password, true)
	if err != nil {
		return nil, "", err
	}
	return user, generated, nil
}

func (s *UserService) create(ctx context.Context, name, email, password string, admin bool) (*models.User, error) {
	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Name:     name,
		Email:    email,
		Password: hashed,
		IsAdmin:  admin,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}
	return user, nil
}

func (s *UserService) issue(user *models.User) (*AuthPayload, error) {
	token, err := s.tokens.GenerateAccessToken(auth.AccessTokenInput{
		UserID:  user.ID,
		IsAdmin: user.IsAdmin,
	})
	if err != nil {
		return nil, fmt.Errorf("user service: issue token: %w", err)
	}
	return &AuthPayload{Token: token, User: user}, nil
}

func (s *UserService) filtered(ctx context.Context, filter UserFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.User{})
	if strings.TrimSpace(filter.Search) != "" {
		pattern := likePattern(filter.Search)
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}
	return query
}
