package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard/backend/internal/identity"
	"taskboard/backend/internal/models"

	"github.com/gofrs/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrDuplicateEmail      = errors.New("email already exists")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountDisabled     = errors.New("account disabled")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrWeakPassword        = errors.New("weak password")
)

type RegistrationRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name" binding:"max=100"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type AuthService interface {
	Register(db *gorm.DB, req RegistrationRequest) (*models.User, error)
	LoginUser(db *gorm.DB, email, password string) (*models.User, error)
	GenerateToken(db *gorm.DB, userID uuid.UUID) (*TokenPair, error)
	RefreshToken(db *gorm.DB, refreshToken string) (*TokenPair, uuid.UUID, error)
	RevokeToken(db *gorm.DB, userID uuid.UUID, refreshToken string) error
}

type AuthServiceImpl struct {
	issuer     *identity.TokenIssuer
	bcryptCost int
	refreshTTL time.Duration
	now        func() time.Time
}

func NewAuthService(issuer *identity.TokenIssuer, bcryptCost int, refreshTTL time.Duration) *AuthServiceImpl {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &AuthServiceImpl{
		issuer:     issuer,
		bcryptCost: bcryptCost,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func VerifyPassword(hashedPassword, plainPassword string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(plainPassword))
	return err == nil
}

// ValidatePassword requires at least 8 characters mixing upper and lower case
// letters, digits and special characters.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters long", ErrWeakPassword)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, char := range password {
		switch {
		case char >= 'A' && char <= 'Z':
			hasUpper = true
		case char >= 'a' && char <= 'z':
			hasLower = true
		case char >= '0' && char <= '9':
			hasDigit = true
		case strings.ContainsRune("!@#$%^&*()_+-=[]{}|;:,.<>?", char):
			hasSpecial = true
		}
	}

	var missing []string
	if !hasUpper {
		missing = append(missing, "uppercase letter")
	}
	if !hasLower {
		missing = append(missing, "lowercase letter")
	}
	if !hasDigit {
		missing = append(missing, "number")
	}
	if !hasSpecial {
		missing = append(missing, "special character")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: password must contain at least one %s", ErrWeakPassword, strings.Join(missing, ", "))
	}
	return nil
}

func (s *AuthServiceImpl) Register(db *gorm.DB, req RegistrationRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	var existing models.User
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := models.User{
		ID:          uuid.Must(uuid.NewV4()),
		Email:       email,
		Password:    string(hashedPassword),
		DisplayName: strings.TrimSpace(req.DisplayName),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *AuthServiceImpl) LoginUser(db *gorm.DB, email, password string) (*models.User, error) {
	var user models.User
	email = strings.ToLower(strings.TrimSpace(email))
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !VerifyPassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	now := s.now()
	user.LastLoginAt = &now
	if err := db.Model(&user).Update("last_login_at", now).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *AuthServiceImpl) GenerateToken(db *gorm.DB, userID uuid.UUID) (*TokenPair, error) {
	accessToken, _, err := s.issuer.Issue(userID)
	if err != nil {
		return nil, err
	}

	refreshTokenUUID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	token := models.Token{
		ID:           uuid.Must(uuid.NewV4()),
		UserID:       userID,
		RefreshToken: refreshTokenUUID,
		ExpiresAt:    s.now().UTC().Add(s.refreshTTL),
	}
	if err := db.Create(&token).Error; err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenUUID.String(),
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.TTL().Seconds()),
	}, nil
}

// RefreshToken trades a refresh token for a new pair. The old refresh token
// is consumed in the same transaction that stores the new one, so a token
// can be redeemed once.
func (s *AuthServiceImpl) RefreshToken(db *gorm.DB, refreshToken string) (*TokenPair, uuid.UUID, error) {
	parsed, err := uuid.FromString(refreshToken)
	if err != nil {
		return nil, uuid.Nil, ErrInvalidRefreshToken
	}

	var pair *TokenPair
	var userID uuid.UUID
	err = db.Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()

		var token models.Token
		err := tx.Where("refresh_token = ? AND expires_at > ?", parsed, now).First(&token).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}

		res := tx.Where("id = ? AND refresh_token = ?", token.ID, parsed).Delete(&models.Token{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrInvalidRefreshToken
		}

		pair, err = s.GenerateToken(tx, token.UserID)
		if err != nil {
			return err
		}
		userID = token.UserID
		return nil
	})
	if err != nil {
		return nil, uuid.Nil, err
	}
	return pair, userID, nil
}

// RevokeToken deletes the refresh token if it belongs to userID.
func (s *AuthServiceImpl) RevokeToken(db *gorm.DB, userID uuid.UUID, refreshToken string) error {
	parsed, err := uuid.FromString(refreshToken)
	if err != nil {
		return ErrInvalidRefreshToken
	}
	return db.Where("user_id = ? AND refresh_token = ?", userID, parsed).Delete(&models.Token{}).Error
}
