package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quorumdao/gatehouse/core"
	"github.com/quorumdao/gatehouse/internal/eth"
	"github.com/quorumdao/gatehouse/ports"
)

// Default lifetimes, overridable through Config.
const (
	DefaultSessionTTL = 36 * time.Hour
	DefaultNonceTTL   = 5 * time.Minute
)

// Config carries the authentication parameters of the service.
type Config struct {
	// Domain is the leading identifier of the challenge template.
	Domain string

	// ChainID is the chain sign-ins are scoped to.
	ChainID uint64

	// SessionTTL is the credential lifetime.
	SessionTTL time.Duration

	// NonceTTL bounds the window between nonce issuance and sign-in.
	NonceTTL time.Duration
}

// AuthService handles nonce issuance, sign-in, credential validation and
// revocation.
type AuthService struct {
	tokenizer ports.Tokenizer
	creds     ports.CredentialStore
	profiles  ports.ProfileStore
	nonces    ports.NonceStore
	eventPub  ports.EventPublisher
	log       *slog.Logger

	domain     string
	chainID    uint64
	sessionTTL time.Duration
	nonceTTL   time.Duration

	now func() time.Time
}

// NewAuthService creates a new authentication service. eventPub may be nil
// when no bus is wired.
func NewAuthService(
	cfg Config,
	tokenizer ports.Tokenizer,
	creds ports.CredentialStore,
	profiles ports.ProfileStore,
	nonces ports.NonceStore,
	eventPub ports.EventPublisher,
	log *slog.Logger,
) *AuthService {
	if cfg.Domain == "" {
		cfg.Domain = "gatehouse"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = DefaultNonceTTL
	}
	if log == nil {
		log = slog.Default()
	}

	return &AuthService{
		tokenizer:  tokenizer,
		creds:      creds,
		profiles:   profiles,
		nonces:     nonces,
		eventPub:   eventPub,
		log:        log,
		domain:     cfg.Domain,
		chainID:    cfg.ChainID,
		sessionTTL: cfg.SessionTTL,
		nonceTTL:   cfg.NonceTTL,
	}
}

func (s *AuthService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// IssueNonce generates a random single-use nonce and records it so a replayed
// sign-in can be rejected. A failing randomness source or store aborts
// issuance rather than emitting a predictable or untracked value.
func (s *AuthService) IssueNonce(ctx context.Context) (string, error) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(nonceBytes)

	if err := s.nonces.Record(ctx, nonce, s.nonceTTL); err != nil {
		return "", fmt.Errorf("failed to record nonce: %w", err)
	}

	return nonce, nil
}

// CheckUser reports whether a profile exists for the given address.
func (s *AuthService) CheckUser(ctx context.Context, address string) (bool, error) {
	if !eth.ValidAddress(address) {
		return false, fmt.Errorf("check user: address %q: %w", address, core.ErrInvalidInput)
	}

	_, err := s.profiles.ProfileByAddress(ctx, eth.NormalizeAddress(address))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check user: %w", err)
	}

	return true, nil
}

// SignIn verifies a signed challenge and issues a session credential.
//
// The message must be the exact challenge text, the signature an EIP-191
// personal_sign over it by the address embedded in it, and the nonce one
// this service issued and has not yet seen signed. The credential is only
// returned once its row is durably recorded: a write failure aborts with
// ErrPersistence and no token leaves the service.
func (s *AuthService) SignIn(ctx context.Context, message, signature string) (*core.Credential, error) {
	challenge, err := eth.ParseChallenge(message)
	if err != nil {
		return nil, err
	}
	if challenge.ChainID != s.chainID {
		return nil, fmt.Errorf("sign in: chain id %d not accepted: %w", challenge.ChainID, core.ErrInvalidInput)
	}

	if err := eth.VerifySignature(message, signature, challenge.Address); err != nil {
		return nil, err
	}

	consumed, err := s.nonces.Consume(ctx, challenge.Nonce)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if !consumed {
		return nil, fmt.Errorf("sign in: nonce %q: %w", challenge.Nonce, core.ErrInvalidNonce)
	}

	address := eth.NormalizeAddress(challenge.Address)

	if _, err := s.profiles.ProfileByAddress(ctx, address); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("sign in: %s: %w", address, core.ErrProfileRequired)
		}
		return nil, fmt.Errorf("sign in: %w", err)
	}

	now := s.clock()
	cred := &core.Credential{
		ID:        uuid.New().String(),
		Address:   address,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.sessionTTL),
	}

	token, err := s.tokenizer.CredentialToToken(cred)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	cred.Token = token

	if err := s.creds.Insert(ctx, cred); err != nil {
		return nil, fmt.Errorf("sign in: record credential: %w", core.ErrPersistence)
	}

	s.publishSignedIn(ctx, cred)

	return cred, nil
}

// ValidateCredential authenticates a bearer token. Structural validation
// (signature, expiry) runs first and never touches the store; only a
// structurally valid credential is then checked for revocation.
func (s *AuthService) ValidateCredential(ctx context.Context, token string) (*core.Credential, error) {
	if token == "" {
		return nil, core.ErrCredentialMissing
	}

	cred, err := s.tokenizer.TokenToCredential(token)
	if err != nil {
		return nil, err
	}
	if !cred.ExpiresAt.After(s.clock()) {
		return nil, core.ErrCredentialExpired
	}

	exists, err := s.creds.Exists(ctx, token, cred.Address)
	if err != nil {
		return nil, fmt.Errorf("validate credential: %w", err)
	}
	if !exists {
		return nil, core.ErrCredentialRevoked
	}

	return cred, nil
}

// SignOut revokes a credential by deleting its row. An expired credential is
// treated as already signed out.
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	cred, err := s.tokenizer.TokenToCredential(token)
	if err != nil {
		if errors.Is(err, core.ErrCredentialExpired) {
			// The row, if any, is already dead; clean it up anyway.
			_ = s.creds.Delete(ctx, token)
			return nil
		}
		return err
	}

	if err := s.creds.Delete(ctx, token); err != nil {
		return fmt.Errorf("sign out: %w", core.ErrPersistence)
	}

	s.publishSignedOut(ctx, cred)

	return nil
}

// Refresh issues a brand-new credential for the holder of a valid one and
// revokes the old one. There is no in-place extension: a refreshed session
// is a new row plus deletion of the previous row.
func (s *AuthService) Refresh(ctx context.Context, token string) (*core.Credential, error) {
	old, err := s.ValidateCredential(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	cred := &core.Credential{
		ID:        uuid.New().String(),
		Address:   old.Address,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.sessionTTL),
	}

	newToken, err := s.tokenizer.CredentialToToken(cred)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	cred.Token = newToken

	if err := s.creds.Insert(ctx, cred); err != nil {
		return nil, fmt.Errorf("refresh: record credential: %w", core.ErrPersistence)
	}

	// The new credential is live; losing the delete only leaves an extra
	// row for the sweeper.
	if err := s.creds.Delete(ctx, old.Token); err != nil {
		s.log.Warn("failed to delete refreshed credential", "credential_id", old.ID, "err", err)
	}

	s.publishSignedOut(ctx, old)
	s.publishSignedIn(ctx, cred)

	return cred, nil
}

// CreateProfile records the one-time user profile that gates sign-in.
func (s *AuthService) CreateProfile(ctx context.Context, address, name, organization string) (*core.Profile, error) {
	if !eth.ValidAddress(address) {
		return nil, fmt.Errorf("create profile: address %q: %w", address, core.ErrInvalidInput)
	}
	if name == "" {
		return nil, fmt.Errorf("create profile: empty name: %w", core.ErrInvalidInput)
	}

	profile := &core.Profile{
		Address:      eth.NormalizeAddress(address),
		Name:         name,
		Organization: organization,
		CreatedAt:    s.clock(),
	}

	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create profile: %w", core.ErrPersistence)
	}

	return profile, nil
}

func (s *AuthService) publishSignedIn(ctx context.Context, cred *core.Credential) {
	if s.eventPub == nil {
		return
	}
	if err := s.eventPub.PublishSignedIn(ctx, cred.Address, cred.ID); err != nil {
		s.log.Warn("failed to publish signed-in event", "credential_id", cred.ID, "err", err)
	}
}

func (s *AuthService) publishSignedOut(ctx context.Context, cred *core.Credential) {
	if s.eventPub == nil {
		return
	}
	if err := s.eventPub.PublishSignedOut(ctx, cred.Address, cred.ID); err != nil {
		s.log.Warn("failed to publish signed-out event", "credential_id", cred.ID, "err", err)
	}
}
