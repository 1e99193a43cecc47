package ports

import "github.com/quorumdao/gatehouse/core"

// Tokenizer converts between credentials and their signed wire form.
type Tokenizer interface {
	// CredentialToToken signs the credential's claims and returns the
	// token string.
	CredentialToToken(cred *core.Credential) (string, error)

	// TokenToCredential parses and structurally validates a token:
	// signature over its own claims, expiry, issuer and audience. It does
	// not consult any store.
	TokenToCredential(token string) (*core.Credential, error)
}
