package service

import (
	"context"
	"errors"
	"time"

	"mietplatz/dto"
	"mietplatz/model"
	"mietplatz/repository"
	"mietplatz/util"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuthService struct {
	userRepo       repository.UserRepository
	credentialRepo repository.CredentialRepository
	roleRepo       repository.RoleRepository
	markers        repository.SecurityMarkerRepository
	tokens         *TokenService
}

func NewAuthService(
	u repository.UserRepository,
	c repository.CredentialRepository,
	role repository.RoleRepository,
	markers repository.SecurityMarkerRepository,
	tokens *TokenService,
) *AuthService {
	return &AuthService{
		userRepo:       u,
		credentialRepo: c,
		roleRepo:       role,
		markers:        markers,
		tokens:         tokens,
	}
}

// Register creates a new user, assigns the default role, and creates the
// password credential
func (s *AuthService) Register(req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	user := &model.User{
		Name:  req.Name,
		Email: req.Email,
	}

	// Every new registration starts as a tenant; landlord is granted when a
	// listing is created
	defaultRole, err := s.roleRepo.GetByCode("tenant")
	if err != nil {
		return nil, errors.New("system error: default role not found")
	}
	user.Roles = append(user.Roles, *defaultRole)

	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}

	hashed, err := util.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	cred := &model.Credential{
		UserID: user.ID,
		Type:   model.CredTypePassword,
		Value:  hashed,
	}
	if err := s.credentialRepo.Create(cred); err != nil {
		return nil, err
	}

	return &dto.RegisterResponse{ID: user.ID.String(), Name: user.Name, Email: user.Email}, nil
}

// Login validates credentials and issues a fresh token lineage
func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest, meta RequestMeta) (*dto.LoginResponse, error) {
	user, err := s.userRepo.GetByEmail(req.Email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New("invalid credentials")
	}
	if err != nil {
		return nil, err
	}

	var pwCred *model.Credential
	for i := range user.Credentials {
		if user.Credentials[i].Type == model.CredTypePassword && user.Credentials[i].Active {
			pwCred = &user.Credentials[i]
			break
		}
	}
	if pwCred == nil {
		return nil, errors.New("invalid credentials")
	}

	if err := util.ComparePassword(pwCred.Value, req.Password); err != nil {
		return nil, errors.New("invalid credentials")
	}

	pair, err := s.tokens.Issue(user, meta)
	if err != nil {
		return nil, err
	}

	// Full credential login is how a user flagged after a token_reuse
	// incident recovers; the marker has served its purpose
	if s.markers != nil {
		_ = s.markers.ClearReauth(ctx, user.ID)
	}

	return &dto.LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshSecret,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Refresh rotates the presented refresh token. ErrInvalidToken and
// ErrReplayDetected both belong in the same generic 401 at the boundary.
func (s *AuthService) Refresh(ctx context.Context, req *dto.RefreshRequest, meta RequestMeta) (*dto.RefreshResponse, error) {
	pair, err := s.tokens.Rotate(ctx, req.RefreshToken, meta)
	if err != nil {
		return nil, err
	}

	return &dto.RefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshSecret,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Logout voluntarily shuts down the presented token's whole lineage and
// blacklists the current access token so it dies before its exp
func (s *AuthService) Logout(ctx context.Context, refreshSecret string, jti uuid.UUID, accessTTL time.Duration) error {
	if refreshSecret != "" {
		if _, err := s.tokens.RevokeBySecret(refreshSecret); err != nil && !errors.Is(err, ErrInvalidToken) {
			return err
		}
	}

	if s.markers != nil && jti != uuid.Nil {
		if err := s.markers.BlacklistJTI(ctx, jti, accessTTL); err != nil {
			return err
		}
	}

	return nil
}

// GetUserByID resolves a user for handlers that only hold a token subject
func (s *AuthService) GetUserByID(id uuid.UUID) (*model.User, error) {
	return s.userRepo.GetByID(id)
}
