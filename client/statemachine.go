package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quorumdao/gatehouse/core"
	"github.com/quorumdao/gatehouse/internal/eth"
)

// State names the observable positions of the auth state machine.
type State string

const (
	// StateDisconnected: no wallet connected.
	StateDisconnected State = "disconnected"

	// StateCheckingUser: wallet connected, profile existence check in
	// flight.
	StateCheckingUser State = "checking_user"

	// StateNeedsSetup: wallet connected but no profile exists; route
	// guards redirect to the setup flow.
	StateNeedsSetup State = "needs_setup"

	// StateConnected: wallet connected, profile exists, awaiting an
	// explicit sign-in.
	StateConnected State = "connected"

	// StateSigningIn: a sign-in attempt is in progress.
	StateSigningIn State = "signing_in"

	// StateAuthenticated: a session credential is held.
	StateAuthenticated State = "authenticated"
)

// Status is the derived state read by route guards and UI. ServerError is
// orthogonal to State: it flags the last network failure and clears on the
// next successful call.
type Status struct {
	State          State
	Address        string
	UserExists     bool
	Token          string
	Authenticating bool
	ServerError    bool
}

var (
	// ErrSignInInProgress guards against overlapping sign-in attempts.
	ErrSignInInProgress = errors.New("sign-in already in progress")

	// ErrNotReady is returned when sign-in is invoked without a connected
	// wallet and an existing profile.
	ErrNotReady = errors.New("sign-in requires a connected wallet with a profile")

	// ErrIdentityChanged is returned when the connected identity changed
	// while a sign-in was in flight; the result was discarded.
	ErrIdentityChanged = errors.New("wallet identity changed during sign-in")
)

// Options configures a StateMachine.
type Options struct {
	// Domain is the leading identifier of the challenge template; it must
	// match the server's.
	Domain string

	// RequestTimeout bounds each auth round-trip
	// (DefaultRequestTimeout when zero).
	RequestTimeout time.Duration

	// OnChange, when set, observes every status transition.
	OnChange func(Status)

	Logger *slog.Logger
}

// StateMachine orchestrates wallet events, sign-in and the session cache
// into a small set of named states. It is a long-lived reactive loop: there
// are no terminal states.
//
// Race policy: the last applied teardown wins. Every teardown bumps a
// generation counter; async results carry the generation and address they
// were issued for and are discarded when either no longer matches.
type StateMachine struct {
	api       AuthAPI
	connector WalletConnector
	cache     *SessionCache
	log       *slog.Logger

	domain  string
	timeout time.Duration

	onChange func(Status)
	now      func() time.Time

	mu         sync.Mutex
	status     Status
	generation uint64
}

// NewStateMachine creates a state machine in StateDisconnected.
func NewStateMachine(api AuthAPI, connector WalletConnector, cache *SessionCache, opts Options) *StateMachine {
	if opts.Domain == "" {
		opts.Domain = "gatehouse"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &StateMachine{
		api:       api,
		connector: connector,
		cache:     cache,
		log:       opts.Logger,
		domain:    opts.Domain,
		timeout:   opts.RequestTimeout,
		onChange:  opts.OnChange,
		now:       time.Now,
		status:    Status{State: StateDisconnected},
	}
}

// Status returns a copy of the current status.
func (m *StateMachine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Run consumes connector events until ctx is cancelled or the connector
// closes its event stream. If a wallet is already connected at start, it is
// handled first (cache-first, so a fresh cached session skips the network
// entirely).
func (m *StateMachine) Run(ctx context.Context) {
	if addr := m.connector.Address(); addr != "" {
		m.HandleConnected(ctx, addr)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.connector.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case EventConnected:
				m.HandleConnected(ctx, ev.Address)
			case EventDisconnected:
				m.HandleDisconnected(ctx)
			case EventAddressChanged:
				m.HandleAddressChanged(ctx, ev.Address)
			}
		}
	}
}

// HandleConnected reacts to a wallet reporting a connected address. The
// cache is consulted before any network call: a fresh authenticated snapshot
// for the same address jumps straight to StateAuthenticated.
func (m *StateMachine) HandleConnected(ctx context.Context, address string) {
	addr := eth.NormalizeAddress(address)
	if addr == "" {
		return
	}

	if snap := m.cache.Read(); snap != nil {
		if eth.NormalizeAddress(snap.Address) != addr {
			// Cached identity is not the connected one.
			m.cache.Clear()
		} else if snap.Authenticated && snap.ExpiresAt.After(m.clock()) {
			m.update(func(st *Status) {
				st.State = StateAuthenticated
				st.Address = addr
				st.UserExists = true
				st.Token = snap.Token
			})
			return
		} else if !snap.Authenticated {
			m.update(func(st *Status) {
				st.Address = addr
				st.UserExists = snap.ProfileExists
				if snap.ProfileExists {
					st.State = StateConnected
				} else {
					st.State = StateNeedsSetup
				}
			})
			return
		} else {
			// Authenticated snapshot with an expired credential.
			m.cache.Clear()
		}
	}

	m.update(func(st *Status) {
		st.State = StateCheckingUser
		st.Address = addr
		st.Token = ""
	})
	gen := m.currentGeneration()

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	userStatus, err := m.api.CheckUser(cctx, addr)
	if m.stale(gen, addr) {
		return
	}
	if err != nil {
		m.log.Warn("check-user failed", "address", addr, "err", err)
		m.update(func(st *Status) {
			st.ServerError = true
			st.State = StateConnected
			st.UserExists = false
		})
		return
	}

	m.update(func(st *Status) {
		st.ServerError = false
		st.UserExists = userStatus.Exists
		if userStatus.Exists {
			st.State = StateConnected
		} else {
			st.State = StateNeedsSetup
		}
	})

	if err := m.cache.Write(Snapshot{
		Address:       addr,
		ProfileExists: userStatus.Exists,
	}); err != nil {
		m.log.Warn("session cache write failed", "err", err)
	}
}

// RefreshUser discards the cached snapshot and re-runs the profile check
// for the connected wallet. Called after profile setup completes so
// StateNeedsSetup can advance without waiting out the cache TTL.
func (m *StateMachine) RefreshUser(ctx context.Context) {
	m.cache.Clear()

	if addr := m.connector.Address(); addr != "" {
		m.HandleConnected(ctx, addr)
	}
}

// SignIn runs the full challenge flow: nonce, challenge text, wallet
// signature, sign-in request. At most one attempt is meaningful at a time.
func (m *StateMachine) SignIn(ctx context.Context) error {
	m.mu.Lock()
	if m.status.Authenticating {
		m.mu.Unlock()
		return ErrSignInInProgress
	}
	if m.status.State != StateConnected || !m.status.UserExists {
		m.mu.Unlock()
		return ErrNotReady
	}
	m.status.Authenticating = true
	m.status.State = StateSigningIn
	addr := m.status.Address
	gen := m.generation
	st := m.status
	m.mu.Unlock()
	m.notify(st)

	err := m.doSignIn(ctx, addr, gen)

	m.mu.Lock()
	m.status.Authenticating = false
	if err != nil && m.generation == gen && m.status.State == StateSigningIn {
		m.status.State = StateConnected
	}
	st = m.status
	m.mu.Unlock()
	m.notify(st)

	return err
}

func (m *StateMachine) doSignIn(ctx context.Context, addr string, gen uint64) error {
	nctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	nonce, err := m.api.Nonce(nctx)
	if err != nil {
		m.flagNetwork(err)
		return fmt.Errorf("request nonce: %w", err)
	}

	message, err := eth.BuildChallenge(m.domain, &core.Challenge{
		Address:  m.connector.Address(),
		ChainID:  m.connector.ChainID(),
		Nonce:    nonce,
		IssuedAt: m.clock(),
	})
	if err != nil {
		return fmt.Errorf("build challenge: %w", err)
	}

	// Signing waits on the user; only the caller's ctx bounds it.
	signature, err := m.connector.SignMessage(ctx, message)
	if err != nil {
		return fmt.Errorf("wallet signing: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	result, err := m.api.SignIn(sctx, message, signature)
	if err != nil {
		m.flagNetwork(err)
		return fmt.Errorf("sign in: %w", err)
	}

	if m.stale(gen, addr) {
		return ErrIdentityChanged
	}

	if result.NeedsSetup {
		m.update(func(st *Status) {
			st.State = StateNeedsSetup
			st.UserExists = false
			st.ServerError = false
		})
		if err := m.cache.Write(Snapshot{Address: addr}); err != nil {
			m.log.Warn("session cache write failed", "err", err)
		}
		return nil
	}

	m.update(func(st *Status) {
		st.State = StateAuthenticated
		st.Token = result.Token
		st.UserExists = true
		st.ServerError = false
	})

	if err := m.cache.Write(Snapshot{
		Authenticated: true,
		Address:       addr,
		ProfileExists: true,
		Token:         result.Token,
		ExpiresAt:     result.ExpiresAt,
	}); err != nil {
		m.log.Warn("session cache write failed", "err", err)
	}

	return nil
}

// SignOut revokes the current session by explicit user action. The wallet
// stays connected, so the machine returns to StateConnected.
func (m *StateMachine) SignOut(ctx context.Context) {
	m.mu.Lock()
	token := m.status.Token
	m.generation++
	m.status.Token = ""
	if m.status.State == StateAuthenticated {
		m.status.State = StateConnected
	}
	st := m.status
	m.mu.Unlock()
	m.notify(st)

	m.cache.Clear()
	m.revokeServerSide(ctx, token)
}

// HandleDisconnected reacts to the wallet disconnecting: server-side
// sign-out is best-effort, local state is cleared unconditionally.
func (m *StateMachine) HandleDisconnected(ctx context.Context) {
	m.teardown(ctx, false)
}

// HandleAddressChanged treats an account switch as a full identity
// teardown, connector-owned state included, before re-handling the new
// address as a fresh connect.
func (m *StateMachine) HandleAddressChanged(ctx context.Context, newAddress string) {
	m.teardown(ctx, true)

	if newAddress != "" {
		m.HandleConnected(ctx, newAddress)
	}
}

func (m *StateMachine) teardown(ctx context.Context, purgeConnector bool) {
	m.mu.Lock()
	token := m.status.Token
	m.generation++
	m.status = Status{State: StateDisconnected}
	st := m.status
	m.mu.Unlock()
	m.notify(st)

	m.cache.Clear()
	if purgeConnector {
		m.connector.PurgeState()
	}
	m.revokeServerSide(ctx, token)
}

func (m *StateMachine) revokeServerSide(ctx context.Context, token string) {
	if token == "" {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.api.SignOut(sctx, token); err != nil {
		m.log.Warn("server-side sign-out failed", "err", err)
	}
}

func (m *StateMachine) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

func (m *StateMachine) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// stale reports whether an async result issued for (gen, addr) may no longer
// be applied.
func (m *StateMachine) stale(gen uint64, addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen {
		return true
	}
	return eth.NormalizeAddress(m.connector.Address()) != addr
}

func (m *StateMachine) update(f func(*Status)) {
	m.mu.Lock()
	f(&m.status)
	st := m.status
	m.mu.Unlock()
	m.notify(st)
}

func (m *StateMachine) flagNetwork(err error) {
	if errors.Is(err, ErrNetwork) {
		m.update(func(st *Status) {
			st.ServerError = true
		})
	}
}

func (m *StateMachine) notify(st Status) {
	if m.onChange != nil {
		m.onChange(st)
	}
}
