package service

import (
	"context"
	"errors"
	"log"
	"time"

	"mietplatz/model"
	"mietplatz/repository"
	"mietplatz/util"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidToken covers not-found, expired, and records whose family
	// was shut down before they were ever used. The caller can recover by
	// re-authenticating with credentials.
	ErrInvalidToken = errors.New("invalid refresh token")
	// ErrReplayDetected means an already-rotated token was presented again:
	// evidence of theft. The whole lineage is dead by the time this returns.
	ErrReplayDetected = errors.New("refresh token reuse detected")
	// ErrLineageCorrupt is a data-integrity fault, not a security incident
	ErrLineageCorrupt = errors.New("token lineage exceeds depth bound")

	// errRaceLost marks the loser of a concurrent rotation inside the
	// transaction; it never escapes Rotate
	errRaceLost = errors.New("rotation race lost")
)

// maxLineageDepth bounds both walk directions. A lineage only grows by one
// per rotation, so anything past this is corrupt data, not a long session.
const maxLineageDepth = 10000

// RequestMeta is the device/network context captured at issuance. Audit
// signal only, never an authorization input.
type RequestMeta struct {
	DeviceID  string
	ClientIP  string
	UserAgent string
}

// TokenPair is the result of a successful issue or rotation. RefreshSecret
// is returned to the caller exactly once; only its hash persists.
type TokenPair struct {
	AccessToken   string
	RefreshSecret string
	ExpiresIn     int // access token lifetime, seconds
	Record        *model.RefreshToken
}

// TokenService owns the refresh token lifecycle: issuance, rotation with
// reuse detection, and family revocation.
type TokenService struct {
	tokens    repository.RefreshTokenRepository
	users     repository.UserRepository
	incidents *IncidentService

	now func() time.Time // swappable for tests
}

func NewTokenService(
	tokens repository.RefreshTokenRepository,
	users repository.UserRepository,
	incidents *IncidentService,
) *TokenService {
	return &TokenService{
		tokens:    tokens,
		users:     users,
		incidents: incidents,
		now:       time.Now,
	}
}

// Issue mints an access/refresh pair for the user and persists the refresh
// record as a lineage root (fresh login). Rotation children are created via
// Rotate, never here.
func (s *TokenService) Issue(user *model.User, meta RequestMeta) (*TokenPair, error) {
	return s.issue(s.tokens, user, nil, meta)
}

func (s *TokenService) issue(repo repository.RefreshTokenRepository, user *model.User, parent *model.RefreshToken, meta RequestMeta) (*TokenPair, error) {
	secret, err := util.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	access, err := util.GenerateAccessToken(user.ID, user.RoleCodes())
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &model.RefreshToken{
		UserID:     user.ID,
		SecretHash: util.HashToken(secret),
		IssuedAt:   now,
		ExpiresAt:  now.Add(util.RefreshTokenTTL()),
		DeviceID:   meta.DeviceID,
		ClientIP:   meta.ClientIP,
		UserAgent:  meta.UserAgent,
	}
	if parent != nil {
		rec.ParentID = &parent.ID
	}

	if err := repo.Create(rec); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:   access.Token,
		RefreshSecret: secret,
		ExpiresIn:     access.ExpiresIn,
		Record:        rec,
	}, nil
}

// Rotate validates the presented secret and, on success, retires its record
// and issues a child pair in one transaction. Reuse of an already-rotated
// token shuts the whole family down and raises an incident.
func (s *TokenService) Rotate(ctx context.Context, presentedSecret string, meta RequestMeta) (*TokenPair, error) {
	rec, err := s.tokens.GetBySecretHash(util.HashToken(presentedSecret))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		// Storage failure is NOT an invalid token; let the caller 500
		return nil, err
	}

	now := s.now()

	if rec.RevokedAt != nil {
		if rec.WasUsed() {
			// This exact record was consumed once already. Whoever holds
			// the secret now, the secret leaked.
			return nil, s.replay(ctx, rec, meta)
		}
		// Never used, family already shut down (sibling triggered
		// revocation, or logout). Not evidence of theft.
		return nil, ErrInvalidToken
	}

	if !now.Before(rec.ExpiresAt) {
		// Expiry is not evidence of theft either
		return nil, ErrInvalidToken
	}

	if rec.LastUsedAt != nil && now.Sub(*rec.LastUsedAt) < util.ReuseTurnaround() {
		// last_used_at set on a live record means a rotation is mid-flight;
		// a second presentation inside the turnaround window is
		// indistinguishable from theft
		return nil, s.replay(ctx, rec, meta)
	}

	user, err := s.users.GetByID(rec.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	var pair *TokenPair
	err = s.tokens.InTx(func(tx repository.RefreshTokenRepository) error {
		ok, err := tx.Consume(rec.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errRaceLost
		}
		p, err := s.issue(tx, user, rec, meta)
		if err != nil {
			return err
		}
		pair = p
		return nil
	})
	if errors.Is(err, errRaceLost) {
		// A concurrent presentation of the same secret won the conditional
		// update. Exactly one of the two can be the honest client.
		return nil, s.replay(ctx, rec, meta)
	}
	if err != nil {
		return nil, err
	}

	return pair, nil
}

// replay contains the reuse: whole-family revocation plus an out-of-band
// incident. Always returns ErrReplayDetected; the API boundary must present
// it exactly like ErrInvalidToken.
func (s *TokenService) replay(ctx context.Context, rec *model.RefreshToken, meta RequestMeta) error {
	revoked, err := s.RevokeFamily(rec)
	if err != nil {
		// The family may be partially revoked; the incident still goes out
		// and the next presentation of any survivor retriggers the walk
		log.Printf("family revocation for token %s incomplete: %v", rec.ID, err)
	}

	if s.incidents != nil {
		s.incidents.NotifyReplay(ctx, rec.UserID, rec.ID, revoked, meta)
	}

	return ErrReplayDetected
}

// RevokeFamily finds the lineage root of the given record and revokes every
// descendant, the record itself included. Re-revoking is a no-op, so
// concurrent walks from different trigger points converge.
func (s *TokenService) RevokeFamily(rec *model.RefreshToken) (int64, error) {
	root := rec
	for depth := 0; root.ParentID != nil; depth++ {
		if depth >= maxLineageDepth {
			return 0, ErrLineageCorrupt
		}
		parent, err := s.tokens.GetByID(*root.ParentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Ancestor already swept by retention; current node is the
			// effective root
			break
		}
		if err != nil {
			return 0, err
		}
		root = parent
	}

	var total int64
	frontier := []uuid.UUID{root.ID}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxLineageDepth {
			return total, ErrLineageCorrupt
		}

		n, err := s.tokens.RevokeByIDs(frontier, s.now())
		if err != nil {
			return total, err
		}
		total += n

		children, err := s.tokens.GetChildren(frontier)
		if err != nil {
			return total, err
		}
		frontier = frontier[:0]
		for i := range children {
			frontier = append(frontier, children[i].ID)
		}
	}

	return total, nil
}

// RevokeBySecret shuts down the family of the presented token without
// raising an incident. Used by logout.
func (s *TokenService) RevokeBySecret(presentedSecret string) (int64, error) {
	rec, err := s.tokens.GetBySecretHash(util.HashToken(presentedSecret))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrInvalidToken
	}
	if err != nil {
		return 0, err
	}
	return s.RevokeFamily(rec)
}
