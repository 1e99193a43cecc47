package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNetwork marks client-observed transport failures (timeout, refused
// connection). These are recoverable by a user-triggered retry; they are
// never retried automatically.
var ErrNetwork = errors.New("network error")

// ErrUnauthorized is returned when the server rejects the request with 401.
var ErrUnauthorized = errors.New("unauthorized")

// DefaultRequestTimeout bounds every auth round-trip so the UI never hangs
// in a checking or signing state.
const DefaultRequestTimeout = 5 * time.Second

// SignInResult is the outcome of a sign-in attempt.
type SignInResult struct {
	Token      string    `json:"token"`
	Address    string    `json:"address"`
	ExpiresAt  time.Time `json:"expires_at"`
	NeedsSetup bool      `json:"needs_setup"`
}

// UserStatus reports profile existence for an address.
type UserStatus struct {
	Exists     bool `json:"exists"`
	NeedsSetup bool `json:"needs_setup"`
}

// AuthAPI is the surface of the auth endpoints the state machine depends on.
type AuthAPI interface {
	Nonce(ctx context.Context) (string, error)
	CheckUser(ctx context.Context, address string) (*UserStatus, error)
	SignIn(ctx context.Context, message, signature string) (*SignInResult, error)
	SignOut(ctx context.Context, token string) error
}

// API is the HTTP implementation of AuthAPI.
type API struct {
	baseURL string
	httpc   *http.Client
}

// NewAPI creates an API client. A non-positive timeout falls back to
// DefaultRequestTimeout.
func NewAPI(baseURL string, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &API{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Nonce fetches a fresh sign-in nonce.
func (a *API) Nonce(ctx context.Context) (string, error) {
	var resp struct {
		Nonce string `json:"nonce"`
	}

	if err := a.do(ctx, http.MethodGet, "/auth/nonce", "", nil, &resp, http.StatusOK); err != nil {
		return "", err
	}

	return resp.Nonce, nil
}

// CheckUser reports whether a profile exists for address.
func (a *API) CheckUser(ctx context.Context, address string) (*UserStatus, error) {
	var resp UserStatus

	path := "/auth/check-user?address=" + url.QueryEscape(address)
	if err := a.do(ctx, http.MethodGet, path, "", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}

	return &resp, nil
}

// SignIn submits a signed challenge. A 403 needs-setup answer is not an
// error: it is reported through the result so the caller can route to the
// setup flow.
func (a *API) SignIn(ctx context.Context, message, signature string) (*SignInResult, error) {
	body := map[string]string{
		"message":   message,
		"signature": signature,
	}

	req, err := a.newRequest(ctx, http.MethodPost, "/auth/signin", "", body)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signin: %v: %w", err, ErrNetwork)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var result SignInResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("signin: decode response: %w", err)
		}
		return &result, nil
	case http.StatusForbidden:
		return &SignInResult{NeedsSetup: true}, nil
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("signin: %w", ErrUnauthorized)
	default:
		return nil, fmt.Errorf("signin: unexpected status %d", resp.StatusCode)
	}
}

// SignOut revokes the credential server-side.
func (a *API) SignOut(ctx context.Context, token string) error {
	return a.do(ctx, http.MethodPost, "/auth/signout", token, map[string]string{}, nil, http.StatusOK)
}

// Me verifies a credential against the server and returns the address it is
// bound to.
func (a *API) Me(ctx context.Context, token string) (string, error) {
	var resp struct {
		Address string `json:"address"`
	}

	if err := a.do(ctx, http.MethodGet, "/auth/me", token, nil, &resp, http.StatusOK); err != nil {
		return "", err
	}

	return resp.Address, nil
}

func (a *API) newRequest(ctx context.Context, method, path, token string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

func (a *API) do(ctx context.Context, method, path, token string, body, out any, wantStatus int) error {
	req, err := a.newRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if resp.StatusCode != wantStatus {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}

	return nil
}

var _ AuthAPI = (*API)(nil)
