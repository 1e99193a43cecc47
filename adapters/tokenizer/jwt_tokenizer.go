package tokenizer

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quorumdao/gatehouse/core"
	"github.com/quorumdao/gatehouse/ports"
)

const (
	// Issuer tags every credential minted by this service.
	Issuer = "gatehouse"

	// AudienceSession distinguishes session credentials from any other
	// token this secret may sign in the future.
	AudienceSession = "session:access"
)

// JWTTokenizer implements the Tokenizer interface using HS256 over a shared
// signing secret. The secret is the structural-validity root of trust.
type JWTTokenizer struct {
	secret []byte
}

// NewJWTTokenizer creates a new JWT tokenizer.
func NewJWTTokenizer(secret []byte) ports.Tokenizer {
	return &JWTTokenizer{secret: secret}
}

// CredentialToToken converts a Credential to a signed JWT string.
func (j *JWTTokenizer) CredentialToToken(cred *core.Credential) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cred.Address,
			ID:        cred.ID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{AudienceSession},
			IssuedAt:  jwt.NewNumericDate(cred.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cred.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// TokenToCredential parses and structurally validates a JWT string. Expired
// tokens map to core.ErrCredentialExpired; everything else that fails maps
// to core.ErrCredentialInvalid. The store is never consulted here.
func (j *JWTTokenizer) TokenToCredential(tokenStr string) (*core.Credential, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithAudience(AudienceSession), jwt.WithIssuer(Issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("parse token: %w", core.ErrCredentialExpired)
		}
		return nil, fmt.Errorf("parse token: %w", core.ErrCredentialInvalid)
	}

	if !token.Valid {
		return nil, core.ErrCredentialInvalid
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, core.ErrCredentialInvalid
	}
	if claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, core.ErrCredentialInvalid
	}

	return &core.Credential{
		ID:        claims.ID,
		Token:     tokenStr,
		Address:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
