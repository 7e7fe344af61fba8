package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/playerdash/dashboard/internal/auth/domain"
	"github.com/playerdash/dashboard/internal/auth/revocation"
	"github.com/playerdash/dashboard/internal/auth/store/drivers/sqlite"
	"github.com/playerdash/dashboard/pkg/idx"
	"github.com/playerdash/dashboard/pkg/jwtx"
)

var testSigningKey = []byte("test-signing-key-0123456789abcdef")

// testEnv wires the services against a real sqlite store and a miniredis
// revocation index, so tests exercise the same SQL and Redis paths as
// production.
type testEnv struct {
	store  *sqlite.Store
	redis  *miniredis.Miniredis
	rvk    *revocation.Index
	tokens *TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore("file:" + filepath.Join(t.TempDir(), "auth_test.db"))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	access, err := jwtx.NewCodec(testSigningKey, jwtx.Issuer, jwtx.AccessAudience, jwtx.DefaultAccessTokenTTL, jwtx.DefaultLeeway)
	require.NoError(t, err)
	handoff, err := jwtx.NewCodec(testSigningKey, jwtx.Issuer, jwtx.HandoffAudience, jwtx.DefaultHandoffTTL, jwtx.DefaultLeeway)
	require.NoError(t, err)

	rvk := revocation.New(client)
	return &testEnv{
		store: st,
		redis: mr,
		rvk:   rvk,
		tokens: &TokenService{
			Store:       st,
			Revocations: rvk,
			Access:      access,
			Handoff:     handoff,
			RefreshTTL:  DefaultRefreshTTL,
			RotateAfter: DefaultRotateAfter,
		},
	}
}

// testHash is a hash cache: bcrypt at production cost would dominate the
// suite's runtime, and MinCost hashes verify exactly the same way.
var (
	testHashMu    sync.Mutex
	testHashCache = map[string]string{}
)

func testHashPassword(t *testing.T, password string) string {
	t.Helper()
	testHashMu.Lock()
	defer testHashMu.Unlock()
	if h, ok := testHashCache[password]; ok {
		return h
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	testHashCache[password] = string(h)
	return string(h)
}

func (e *testEnv) seedActive(t *testing.T, email string, role domain.Role, companyID, password string) domain.Principal {
	t.Helper()
	p := domain.Principal{
		ID:           idx.New().String(),
		Email:        NormalizeEmail(email),
		PasswordHash: testHashPassword(t, password),
		Role:         role,
		CompanyID:    companyID,
		Active:       true,
		Status:       domain.StatusActive,
	}
	require.NoError(t, e.store.Principals().Create(context.Background(), p))
	return p
}

func (e *testEnv) seedPending(t *testing.T, email string, role domain.Role, companyID string) domain.Principal {
	t.Helper()
	p := domain.Principal{
		ID:        idx.New().String(),
		Email:     NormalizeEmail(email),
		Role:      role,
		CompanyID: companyID,
		Status:    domain.StatusPending,
	}
	require.NoError(t, e.store.Principals().Create(context.Background(), p))
	return p
}

func (e *testEnv) reload(t *testing.T, id string) domain.Principal {
	t.Helper()
	p, err := e.store.Principals().GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

// setNow pins the service clock for the duration of the test.
func setNow(t *testing.T, at time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = prev })
}

// captureMailer records sent mail for assertions instead of delivering it.
type captureMailer struct {
	mu   sync.Mutex
	sent []capturedMail
	err  error
}

type capturedMail struct {
	To      string
	Subject string
	Body    string
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, capturedMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *captureMailer) last(t *testing.T) capturedMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
