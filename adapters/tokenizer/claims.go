package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims are the claims embedded in a session credential. The subject
// is the lower-cased wallet address; no custom fields are needed beyond the
// registered set.
type SessionClaims struct {
	jwt.RegisteredClaims
}
