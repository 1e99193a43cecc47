package client

import (
	"context"
	"crypto/ecdsa"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumdao/gatehouse/internal/eth"
)

// fakeConnector is an in-process wallet: it holds a real key and signs
// challenges with it.
type fakeConnector struct {
	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	addr    string
	chainID uint64
	events  chan WalletEvent
	purged  bool
}

func newFakeConnector(t *testing.T) *fakeConnector {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &fakeConnector{
		key:     key,
		addr:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		chainID: 1,
		events:  make(chan WalletEvent, 8),
	}
}

func (c *fakeConnector) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

func (c *fakeConnector) ChainID() uint64 { return c.chainID }

func (c *fakeConnector) SignMessage(_ context.Context, message string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sig, err := crypto.Sign(eth.TextHash([]byte(message)), c.key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

func (c *fakeConnector) Events() <-chan WalletEvent { return c.events }

func (c *fakeConnector) PurgeState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purged = true
}

// switchTo swaps the connected identity in place, as a wallet account
// switch does.
func (c *fakeConnector) switchTo(other *fakeConnector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = other.key
	c.addr = other.addr
}

// fakeAPI implements AuthAPI with real challenge verification so the
// machine's sign-in flow is checked end to end without a server.
type fakeAPI struct {
	mu       sync.Mutex
	nonces   map[string]bool
	profiles map[string]bool
	tokens   int

	nonceCalls     int
	checkUserCalls int
	signInCalls    int
	signedOut      []string

	failNetwork bool
	onCheckUser func()
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		nonces:   make(map[string]bool),
		profiles: make(map[string]bool),
	}
}

func (a *fakeAPI) addProfile(address string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profiles[eth.NormalizeAddress(address)] = true
}

func (a *fakeAPI) calls() (nonce, checkUser, signIn int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonceCalls, a.checkUserCalls, a.signInCalls
}

func (a *fakeAPI) Nonce(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nonceCalls++
	if a.failNetwork {
		return "", ErrNetwork
	}

	nonce := "nonce-" + strconv.Itoa(a.nonceCalls)
	a.nonces[nonce] = true
	return nonce, nil
}

func (a *fakeAPI) CheckUser(_ context.Context, address string) (*UserStatus, error) {
	a.mu.Lock()
	a.checkUserCalls++
	fail := a.failNetwork
	exists := a.profiles[eth.NormalizeAddress(address)]
	hook := a.onCheckUser
	a.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail {
		return nil, ErrNetwork
	}

	return &UserStatus{Exists: exists, NeedsSetup: !exists}, nil
}

func (a *fakeAPI) SignIn(_ context.Context, message, signature string) (*SignInResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.signInCalls++
	if a.failNetwork {
		return nil, ErrNetwork
	}

	challenge, err := eth.ParseChallenge(message)
	if err != nil {
		return nil, err
	}
	if err := eth.VerifySignature(message, signature, challenge.Address); err != nil {
		return nil, ErrUnauthorized
	}
	if !a.nonces[challenge.Nonce] {
		return nil, ErrUnauthorized
	}
	delete(a.nonces, challenge.Nonce)

	address := eth.NormalizeAddress(challenge.Address)
	if !a.profiles[address] {
		return &SignInResult{NeedsSetup: true}, nil
	}

	a.tokens++
	return &SignInResult{
		Token:     "tok-" + strconv.Itoa(a.tokens),
		Address:   address,
		ExpiresAt: time.Now().Add(36 * time.Hour),
	}, nil
}

func (a *fakeAPI) SignOut(_ context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signedOut = append(a.signedOut, token)
	return nil
}

var _ AuthAPI = (*fakeAPI)(nil)

func newTestMachine(t *testing.T) (*StateMachine, *fakeAPI, *fakeConnector) {
	t.Helper()

	api := newFakeAPI()
	connector := newFakeConnector(t)
	cache := NewSessionCache(&MemoryStorage{}, time.Minute)

	return NewStateMachine(api, connector, cache, Options{Domain: "gatehouse"}), api, connector
}

func TestConnectWithoutProfileNeedsSetup(t *testing.T) {
	ctx := context.Background()
	m, _, connector := newTestMachine(t)

	m.HandleConnected(ctx, connector.Address())

	st := m.Status()
	assert.Equal(t, StateNeedsSetup, st.State)
	assert.Equal(t, eth.NormalizeAddress(connector.Address()), st.Address)
	assert.False(t, st.UserExists)
}

func TestRefreshUserAdvancesAfterSetup(t *testing.T) {
	ctx := context.Background()
	m, api, connector := newTestMachine(t)

	m.HandleConnected(ctx, connector.Address())
	require.Equal(t, StateNeedsSetup, m.Status().State)

	// Setup completed elsewhere; the cached needs-setup answer must not
	// pin the machine until the TTL runs out.
	api.addProfile(connector.Address())
	m.RefreshUser(ctx)

	st := m.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.True(t, st.UserExists)
}

func TestSignInFlow(t *testing.T) {
	ctx := context.Background()
	m, api, connector := newTestMachine(t)
	api.addProfile(connector.Address())

	m.HandleConnected(ctx, connector.Address())
	require.Equal(t, StateConnected, m.Status().State)

	require.NoError(t, m.SignIn(ctx))

	st := m.Status()
	assert.Equal(t, StateAuthenticated, st.State)
	assert.NotEmpty(t, st.Token)
	assert.False(t, st.Authenticating)

	snap := m.cache.Read()
	require.NotNil(t, snap)
	assert.True(t, snap.Authenticated)
	assert.Equal(t, st.Token, snap.Token)
}

func TestSignInRequiresConnectedWithProfile(t *testing.T) {
	ctx := context.Background()
	m, _, connector := newTestMachine(t)

	assert.ErrorIs(t, m.SignIn(ctx), ErrNotReady)

	m.HandleConnected(ctx, connector.Address())
	require.Equal(t, StateNeedsSetup, m.Status().State)
	assert.ErrorIs(t, m.SignIn(ctx), ErrNotReady)
}

func TestSignInGuardsAgainstOverlap(t *testing.T) {
	ctx := context.Background()
	m, api, connector := newTestMachine(t)
	api.addProfile(connector.Address())

	m.HandleConnected(ctx, connector.Address())
	require.Equal(t, StateConnected, m.Status().State)

	started := make(chan struct{})
	release := make(chan struct{})
	slow := &slowSigner{connector: connector, started: started, release: release}
	m.connector = slow

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		firstErr = m.SignIn(ctx)
	}()

	<-started
	assert.ErrorIs(t, m.SignIn(ctx), ErrSignInInProgress)
	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.Equal(t, StateAuthenticated, m.Status().State)
}

// slowSigner blocks SignMessage until released so a second sign-in can be
// attempted mid-flight.
type slowSigner struct {
	connector *fakeConnector
	started   chan struct{}
	release   chan struct{}
	once      sync.Once
}

func (s *slowSigner) Address() string            { return s.connector.Address() }
func (s *slowSigner) ChainID() uint64            { return s.connector.ChainID() }
func (s *slowSigner) Events() <-chan WalletEvent { return s.connector.Events() }
func (s *slowSigner) PurgeState()                { s.connector.PurgeState() }

func (s *slowSigner) SignMessage(ctx context.Context, message string) (string, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.connector.SignMessage(ctx, message)
}

func TestColdStartServesFromCache(t *testing.T) {
	ctx := context.Background()
	m, api, connector := newTestMachine(t)

	require.NoError(t, m.cache.Write(Snapshot{
		Authenticated: true,
		Address:       eth.NormalizeAddress(connector.Address()),
		ProfileExists: true,
		Token:         "cached-token",
		ExpiresAt:     time.Now().Add(time.Hour),
	}))

	m.HandleConnected(ctx, connector.Address())

	st := m.Status()
	assert.Equal(t, StateAuthenticated, st.State)
	assert.Equal(t, "cached-token", st.Token)

	nonce, checkUser, signIn := api.calls()
	assert.Zero(t, nonce+checkUser+signIn, "a fresh cached session must not touch the network")
}

func TestColdStartIgnoresExpiredCachedCredential(t *testing.T) {
	ctx := context.Background()
	m, api, connector := newTestMachine(t)
	api.addProfile(connector.Address())

	require.NoError(t, m.cache.Write(Snapshot{
		Authenticated: true,
		Address:       eth.NormalizeAddress(connector.Address()),
		ProfileExists: true,
		Token:         "dead-token",
		ExpiresAt:     time.Now().Add(-time.Hour),
	}))

	m.HandleConnected(ctx, connector.Address())

	st := m.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.Empty(t, st.Token)

	_, checkUser, _ := api.calls()
	assert.Equal(t, 1, checkUser)
}

func TestColdStartClearsForeignCache(t *testing.T) {
	ctx := context.Background()
	m, _, connector := newTestMachine(t)

	require.NoError(t, m.cache.Write(Snapshot{
		Authenticated: true,
		Address:       "0x0000000000000000000000000000000000000001",
		ProfileExists: true,
		Token:         "someone-elses-token",
		ExpiresAt:     time.Now().Add(time.Hour),
	}))

	m.HandleConnected(ctx, connector.Address())

	st := m.Status()
	assert.NotEqual(t, StateAuthenticated, st.State)
	assert.Empty(t, st.Token)

	// The foreign snapshot was replaced by one for the connected wallet.
	snap := m.cache.Read()
	require.NotNil(t, snap)
	assert.Equal(t, eth.NormalizeAddress(connector.Address()), snap.Address)
	assert.False(t, snap.Authenticated)
}

func TestNetworkFailureFlagsServerError(t *testing.T) {
	ctx := context.Background()
	m, api, connector := newTestMachine(t)
	api.failNetwork = true

	m.HandleConnected(ctx, connector.Address())

	st := m.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.True(t, st.ServerError)
	assert.False(t, st.UserExists)

	// Recovery clears the flag on the next successful call.
	api.mu.Lock()
	api.failNetwork = false
	api.mu.Unlock()
	api.addProfile(connector.Address())

	m.RefreshUser(ctx)

	st = m.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.False(t, st.ServerError)
	assert.True(t, st.UserExists)
}

func TestAddressSwitchTearsDownIdentity(t *testing.T) {
	ctx := context.Background()
	m, api, connector := newTestMachine(t)
	api.addProfile(connector.Address())

	m.HandleConnected(ctx, connector.Address())
	require.NoError(t, m.SignIn(ctx))
	token := m.Status().Token
	require.NotEmpty(t, token)

	other := newFakeConnector(t)
	connector.switchTo(other)
	m.HandleAddressChanged(ctx, other.addr)

	st := m.Status()
	assert.Equal(t, StateNeedsSetup, st.State, "the new wallet has no profile")
	assert.Equal(t, eth.NormalizeAddress(other.addr), st.Address)
	assert.Empty(t, st.Token)

	assert.True(t, connector.purged, "connector state must not survive an account switch")
	assert.Equal(t, []string{token}, api.signedOut)
}

func TestDisconnectClearsEverything(t *testing.T) {
	ctx := context.Background()
	m, api, connector := newTestMachine(t)
	api.addProfile(connector.Address())

	m.HandleConnected(ctx, connector.Address())
	require.NoError(t, m.SignIn(ctx))
	token := m.Status().Token

	m.HandleDisconnected(ctx)

	st := m.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Empty(t, st.Address)
	assert.Empty(t, st.Token)
	assert.Nil(t, m.cache.Read())
	assert.Equal(t, []string{token}, api.signedOut)
	assert.False(t, connector.purged, "plain disconnect keeps connector-owned state")
}

func TestSignOutReturnsToConnected(t *testing.T) {
	ctx := context.Background()
	m, api, connector := newTestMachine(t)
	api.addProfile(connector.Address())

	m.HandleConnected(ctx, connector.Address())
	require.NoError(t, m.SignIn(ctx))
	token := m.Status().Token

	m.SignOut(ctx)

	st := m.Status()
	assert.Equal(t, StateConnected, st.State, "the wallet is still connected after an explicit sign-out")
	assert.Empty(t, st.Token)
	assert.Nil(t, m.cache.Read())
	assert.Equal(t, []string{token}, api.signedOut)
}

func TestStaleCheckUserResultDiscarded(t *testing.T) {
	ctx := context.Background()
	m, api, connector := newTestMachine(t)
	api.addProfile(connector.Address())

	// The identity switches while the profile check is in flight; the
	// answer is for the old address and must not be applied.
	other := newFakeConnector(t)
	api.onCheckUser = func() {
		connector.switchTo(other)
	}

	firstAddr := eth.NormalizeAddress(connector.Address())
	m.HandleConnected(ctx, firstAddr)

	st := m.Status()
	assert.Equal(t, StateCheckingUser, st.State)
	assert.False(t, st.UserExists, "the stale answer was for the previous identity")
}

func TestRunReactsToConnectorEvents(t *testing.T) {
	m, api, connector := newTestMachine(t)
	api.addProfile(connector.Address())

	ctx, cancel := context.WithCancel(context.Background())

	transitions := make(chan Status, 16)
	m.onChange = func(st Status) { transitions <- st }

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// The already-connected wallet is handled at startup.
	waitForState(t, transitions, StateConnected)

	connector.events <- WalletEvent{Type: EventDisconnected}
	waitForState(t, transitions, StateDisconnected)

	connector.events <- WalletEvent{Type: EventConnected, Address: connector.Address()}
	waitForState(t, transitions, StateConnected)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state machine did not stop on context cancellation")
	}
}

func waitForState(t *testing.T, transitions <-chan Status, want State) {
	t.Helper()

	deadline := time.After(time.Second)
	for {
		select {
		case st := <-transitions:
			if st.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}
