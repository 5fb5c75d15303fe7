package crypto

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/domain/models"
)

// fakeClock is a settable clock shared by issuer, verifier and rotator.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockKeyCache is a testify mock of service.DistributedKeyCache.
type mockKeyCache struct {
	mock.Mock
}

func (m *mockKeyCache) Put(ctx context.Context, keyID string, record *models.PublicKeyRecord, ttl time.Duration) error {
	args := m.Called(ctx, keyID, record, ttl)
	return args.Error(0)
}

func (m *mockKeyCache) Get(ctx context.Context, keyID string) (*models.PublicKeyRecord, error) {
	args := m.Called(ctx, keyID)
	record, _ := args.Get(0).(*models.PublicKeyRecord)
	return record, args.Error(1)
}

// mockAuditor is a testify mock of service.RotationAuditor.
type mockAuditor struct {
	mock.Mock
}

func (m *mockAuditor) RecordRotation(ctx context.Context, event models.AuditEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

var (
	rsaPoolOnce sync.Once
	rsaPool     []*rsa.PrivateKey
)

// testKeyGenerator hands out fresh key ids over a small pool of pre-generated RSA keys, cycling
// so that consecutive pairs never share key material.
func testKeyGenerator(t *testing.T) KeyGenerator {
	t.Helper()
	rsaPoolOnce.Do(func() {
		for i := 0; i < 3; i++ {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			rsaPool = append(rsaPool, key)
		}
	})
	require.Len(t, rsaPool, 3)

	var mu sync.Mutex
	next := 0
	return func(now time.Time) (*models.SigningKeyPair, error) {
		mu.Lock()
		key := rsaPool[next%len(rsaPool)]
		next++
		mu.Unlock()
		return &models.SigningKeyPair{
			KeyID:      uuid.NewString(),
			PrivateKey: key,
			PublicKey:  &key.PublicKey,
			CreatedAt:  now,
		}, nil
	}
}

func testJWTConfig() *config.JWTConfig {
	return &config.JWTConfig{
		AccessTokenTTL:   900 * time.Second,
		RefreshTokenTTL:  time.Hour,
		RotationInterval: 10 * time.Minute,
		CacheTimeout:     time.Second,
	}
}

func testClaims() models.Claims {
	return models.Claims{Username: "alice", Email: "alice@example.com", Role: "USER"}
}
