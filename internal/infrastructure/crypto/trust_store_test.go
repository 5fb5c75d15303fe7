package crypto

import (
	"context"
	"crypto/rsa"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/internal/infrastructure/persistence/memory"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

func TestTrustStore_ActiveSigningKey(t *testing.T) {
	store := NewTrustStore(memory.NewKeyCache(time.Minute), time.Second, logger.NewNoopLogger())

	_, err := store.ActiveSigningKey()
	assert.True(t, errors.IsKind(err, errors.KindNoActiveKey))

	gen := testKeyGenerator(t)
	first, _ := gen(time.Now())
	second, _ := gen(time.Now())

	prev, err := store.Promote(first)
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = store.Promote(second)
	require.NoError(t, err)
	assert.Equal(t, first.KeyID, prev.KeyID)

	active, err := store.ActiveSigningKey()
	require.NoError(t, err)
	assert.Equal(t, second.KeyID, active.KeyID)
}

func TestTrustStore_PromoteRejectsIncompletePair(t *testing.T) {
	store := NewTrustStore(memory.NewKeyCache(time.Minute), time.Second, logger.NewNoopLogger())

	_, err := store.Promote(nil)
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))

	_, err = store.Promote(&models.SigningKeyPair{KeyID: "k"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}

func TestTrustStore_PromotedKeyResolvesLocally(t *testing.T) {
	cache := &mockKeyCache{}
	store := NewTrustStore(cache, time.Second, logger.NewNoopLogger())

	pair, _ := testKeyGenerator(t)(time.Now())
	_, err := store.Promote(pair)
	require.NoError(t, err)

	pub, err := store.GetPublicKey(context.Background(), pair.KeyID)
	require.NoError(t, err)
	assert.Equal(t, pair.PublicKey, pub)
	cache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestTrustStore_SharedHitIsCachedLocally(t *testing.T) {
	pair, _ := testKeyGenerator(t)(time.Now())
	record, err := models.NewPublicKeyRecord(pair)
	require.NoError(t, err)

	cache := &mockKeyCache{}
	cache.On("Get", mock.Anything, pair.KeyID).Return(record, nil).Once()

	metrics := monitoring.NewNopMetrics()
	store := NewTrustStore(cache, time.Second, logger.NewNoopLogger(), WithMetrics(metrics))

	for i := 0; i < 3; i++ {
		pub, err := store.GetPublicKey(context.Background(), pair.KeyID)
		require.NoError(t, err)
		assert.Equal(t, 0, pair.PublicKey.N.Cmp(pub.N))
	}
	cache.AssertNumberOfCalls(t, "Get", 1)

	entries := store.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, pair.KeyID, entries[0].KeyID)
}

func TestTrustStore_ConcurrentMissesShareOneLookup(t *testing.T) {
	pair, _ := testKeyGenerator(t)(time.Now())
	record, err := models.NewPublicKeyRecord(pair)
	require.NoError(t, err)

	cache := &mockKeyCache{}
	cache.On("Get", mock.Anything, pair.KeyID).After(50*time.Millisecond).Return(record, nil)

	store := NewTrustStore(cache, time.Second, logger.NewNoopLogger())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.GetPublicKey(context.Background(), pair.KeyID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cache.AssertNumberOfCalls(t, "Get", 1)
}

// gatedKeyCache blocks Get until release is closed or the lookup context ends.
type gatedKeyCache struct {
	record  *models.PublicKeyRecord
	started chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func newGatedKeyCache(record *models.PublicKeyRecord) *gatedKeyCache {
	return &gatedKeyCache{
		record:  record,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (c *gatedKeyCache) Put(context.Context, string, *models.PublicKeyRecord, time.Duration) error {
	return nil
}

func (c *gatedKeyCache) Get(ctx context.Context, keyID string) (*models.PublicKeyRecord, error) {
	c.calls.Add(1)
	c.once.Do(func() { close(c.started) })
	select {
	case <-c.release:
		return c.record, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestTrustStore_CancelledCallerDoesNotFailOthers(t *testing.T) {
	pair, _ := testKeyGenerator(t)(time.Now())
	record, err := models.NewPublicKeyRecord(pair)
	require.NoError(t, err)

	cache := newGatedKeyCache(record)
	store := NewTrustStore(cache, 5*time.Second, logger.NewNoopLogger())

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := store.GetPublicKey(ctxA, pair.KeyID)
		errA <- err
	}()

	select {
	case <-cache.started:
	case <-time.After(2 * time.Second):
		t.Fatal("shared cache lookup never started")
	}

	type outcome struct {
		pub *rsa.PublicKey
		err error
	}
	resB := make(chan outcome, 1)
	go func() {
		pub, err := store.GetPublicKey(context.Background(), pair.KeyID)
		resB <- outcome{pub, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindKeyNotFound))
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(cache.release)
	select {
	case got := <-resB:
		require.NoError(t, got.err)
		assert.Equal(t, pair.PublicKey, got.pub)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never resolved")
	}

	assert.Equal(t, int32(1), cache.calls.Load())
	pub, err := store.GetPublicKey(context.Background(), pair.KeyID)
	require.NoError(t, err)
	assert.Equal(t, pair.PublicKey, pub)
}

func TestTrustStore_FailuresAreKeyNotFound(t *testing.T) {
	pair, _ := testKeyGenerator(t)(time.Now())

	tests := []struct {
		name   string
		record *models.PublicKeyRecord
		err    error
	}{
		{
			name: "absent",
			err:  errors.ErrKeyNotFound,
		},
		{
			name: "cache unavailable",
			err:  errors.New(errors.KindCacheUnavailable, "connection refused"),
		},
		{
			name:   "corrupt key material",
			record: &models.PublicKeyRecord{ID: pair.KeyID, PublicKey: "not-base64!", GeneratedAt: 1},
		},
		{
			name:   "record for another key",
			record: &models.PublicKeyRecord{ID: "other", PublicKey: "AAAA", GeneratedAt: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &mockKeyCache{}
			cache.On("Get", mock.Anything, pair.KeyID).Return(tt.record, tt.err)
			store := NewTrustStore(cache, time.Second, logger.NewNoopLogger())

			pub, err := store.GetPublicKey(context.Background(), pair.KeyID)
			assert.Nil(t, pub)
			assert.Equal(t, errors.KindKeyNotFound, errors.KindOf(err))
			assert.Empty(t, store.Snapshot())
		})
	}
}

func TestTrustStore_LookupIsBoundedByTimeout(t *testing.T) {
	cache := &mockKeyCache{}
	cache.On("Get", mock.Anything, "slow").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, errors.New(errors.KindCacheUnavailable, "deadline exceeded"))

	store := NewTrustStore(cache, 50*time.Millisecond, logger.NewNoopLogger())

	start := time.Now()
	_, err := store.GetPublicKey(context.Background(), "slow")
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, errors.IsKind(err, errors.KindKeyNotFound))
}

func TestTrustStore_EmptyKeyID(t *testing.T) {
	store := NewTrustStore(&mockKeyCache{}, time.Second, logger.NewNoopLogger())

	_, err := store.GetPublicKey(context.Background(), "")
	assert.True(t, errors.IsKind(err, errors.KindKeyNotFound))
}
