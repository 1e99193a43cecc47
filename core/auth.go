package core

import "time"

// Challenge is the message a wallet is asked to sign. It binds the claimed
// address, the chain, and a single-use nonce to one sign-in attempt.
type Challenge struct {
	Address  string    // Ethereum address of the user
	ChainID  uint64    // Chain the sign-in is scoped to
	Nonce    string    // Random nonce to be signed
	IssuedAt time.Time // When the challenge was created
}

// Credential is the bearer session token issued after a verified sign-in.
// It is trusted only while a matching row exists in the credential store.
type Credential struct {
	ID        string    // Unique credential identifier (jti)
	Token     string    // Signed token string handed to the client
	Address   string    // Lower-cased wallet address (subject)
	IssuedAt  time.Time // When the credential was issued
	ExpiresAt time.Time // IssuedAt + session duration
}

// Profile is the one-time user record that must exist before sign-in
// is permitted.
type Profile struct {
	Address      string
	Name         string
	Organization string
	CreatedAt    time.Time
}
