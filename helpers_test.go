package civicauth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/civicsetu/civicauth/password"
)

type mockUserProvider struct {
	mu      sync.Mutex
	users   map[string]UserRecord
	byEmail map[string]string

	createErr  error
	saveErr    error
	statusErr  error
	deleteErr  error
	passwdErr  error
	lookupErr  error
	lookupByID error

	getByEmailCalls     int
	getByIDCalls        int
	createCalls         int
	updateStatusCalls   int
	updatePasswordCalls int
	deleteCalls         int
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{
		users:   make(map[string]UserRecord),
		byEmail: make(map[string]string),
	}
}

func (m *mockUserProvider) add(user UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.UserID] = user
	m.byEmail[user.Email] = user.UserID
}

func (m *mockUserProvider) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByEmailCalls++

	if m.lookupErr != nil {
		return UserRecord{}, m.lookupErr
	}
	id, ok := m.byEmail[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *mockUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByIDCalls++

	if m.lookupByID != nil {
		return UserRecord{}, m.lookupByID
	}
	user, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return user, nil
}

func (m *mockUserProvider) CreateUser(_ context.Context, input CreateUserInput) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++

	if m.createErr != nil {
		return UserRecord{}, m.createErr
	}
	if _, exists := m.byEmail[input.Email]; exists {
		return UserRecord{}, ErrProviderDuplicateIdentifier
	}

	user := UserRecord{
		UserID:       input.UserID,
		Email:        input.Email,
		Mobile:       input.Mobile,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		Status:       input.Status,
	}
	m.users[user.UserID] = user
	m.byEmail[user.Email] = user.UserID
	return user, nil
}

func (m *mockUserProvider) UpdateAccountStatus(_ context.Context, userID string, status AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateStatusCalls++

	if m.statusErr != nil {
		return m.statusErr
	}
	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Status = status
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatePasswordCalls++

	if m.passwdErr != nil {
		return m.passwdErr
	}
	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = newHash
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++

	if m.deleteErr != nil {
		return m.deleteErr
	}
	user, ok := m.users[userID]
	if !ok {
		return nil
	}
	delete(m.users, userID)
	delete(m.byEmail, user.Email)
	return nil
}

func (m *mockUserProvider) user(userID string) (UserRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	return user, ok
}

type mockProfileStore struct {
	mu       sync.Mutex
	saveErr  error
	profiles []Profile
}

func (m *mockProfileStore) SaveProfile(_ context.Context, profile Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.profiles = append(m.profiles, profile)
	return nil
}

func (m *mockProfileStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.profiles)
}

type sentCode struct {
	Channel Channel
	Contact string
	Code    string
}

type mockCodeSender struct {
	mu      sync.Mutex
	sendErr error
	sent    []sentCode
}

func (m *mockCodeSender) Send(_ context.Context, channel Channel, contact, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentCode{Channel: channel, Contact: contact, Code: code})
	return nil
}

func (m *mockCodeSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// lastCode returns the most recent code delivered over the channel.
func (m *mockCodeSender) lastCode(channel Channel) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Channel == channel {
			return m.sent[i].Code
		}
	}
	return ""
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newTestHasher(t *testing.T) *password.Argon2 {
	t.Helper()

	h, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

// testConfig keeps hashing cheap and disables login-time email
// confirmation so session paths are directly visible. Individual tests
// flip the knobs they exercise.
func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("unit-test-signing-secret")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Verification.RequireForLogin = false
	return cfg
}

type testFixture struct {
	engine *Engine
	up     *mockUserProvider
	ps     *mockProfileStore
	cs     *mockCodeSender
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

func newTestEngine(t *testing.T, cfg Config) *testFixture {
	t.Helper()

	mr, rdb := newTestRedis(t)
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	up := newMockUserProvider()
	ps := &mockProfileStore{}
	cs := &mockCodeSender{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(up).
		WithProfileStore(ps).
		WithCodeSender(cs).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testFixture{engine: engine, up: up, ps: ps, cs: cs, mr: mr, rdb: rdb}
}

// seedUser hashes the password and installs an account.
func (f *testFixture) seedUser(t *testing.T, user UserRecord, plaintext string) UserRecord {
	t.Helper()

	hasher := newTestHasher(t)
	hash, err := hasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	user.PasswordHash = hash
	f.up.add(user)
	return user
}

func mustErrIs(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func rolePtr(r Role) *Role {
	return &r
}
