package crypto

import (
	"context"
	"crypto/rsa"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

const (
	lookupSourceLocal  = "local"
	lookupSourceShared = "shared"
	lookupSourceMiss   = "miss"
)

var (
	_ service.KeyResolver        = (*TrustStore)(nil)
	_ service.SigningKeyProvider = (*TrustStore)(nil)
)

// TrustStore resolves public keys for verification and holds the active signing key.
//
// The local map is write-once: entries are inserted on promotion or on a shared cache hit and
// are never replaced or evicted. Expiry is the shared cache's concern only.
type TrustStore struct {
	cache        service.DistributedKeyCache
	cacheTimeout time.Duration
	metrics      *monitoring.Metrics
	log          logger.Logger

	local  sync.Map // keyID -> *rsa.PublicKey
	active atomic.Pointer[models.SigningKeyPair]
	group  singleflight.Group
}

// NewTrustStore creates an empty TrustStore backed by cache. Every shared cache call is bounded
// by cacheTimeout.
//
// Parameters:
//   - cache: shared public key cache
//   - cacheTimeout: upper bound of a single cache call
//   - log: Logger instance
//   - opts: WithMetrics
//
// Returns:
//   - *TrustStore: store without an active key; call Promote
func NewTrustStore(cache service.DistributedKeyCache, cacheTimeout time.Duration, log logger.Logger, opts ...Option) *TrustStore {
	o := newOptions(opts)
	return &TrustStore{
		cache:        cache,
		cacheTimeout: cacheTimeout,
		metrics:      o.metrics,
		log:          log.WithComponent("trust_store"),
	}
}

// GetPublicKey returns the public key for keyID, consulting the shared cache on a local miss.
// Any failure, including a cache outage or ctx ending first, is reported as KeyNotFound; the
// cause is kept in the error chain for logging.
func (s *TrustStore) GetPublicKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	if keyID == "" {
		return nil, errors.ErrKeyNotFound
	}
	if v, ok := s.local.Load(keyID); ok {
		s.metrics.RecordKeyLookup(lookupSourceLocal)
		return v.(*rsa.PublicKey), nil
	}

	// The flight is shared by every caller waiting on keyID, so it must not end with the
	// caller that happened to start it. Each caller still stops waiting on its own ctx.
	flight := s.group.DoChan(keyID, func() (interface{}, error) {
		// a concurrent flight may have finished between the Load above and DoChan
		if v, ok := s.local.Load(keyID); ok {
			return v, nil
		}
		return s.fetch(context.WithoutCancel(ctx), keyID)
	})

	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		s.metrics.RecordKeyLookup(lookupSourceMiss)
		return nil, errors.Wrap(ctx.Err(), errors.KindKeyNotFound, "public key %s lookup abandoned", keyID)
	}

	v, err := res.Val, res.Err
	if err != nil {
		s.metrics.RecordKeyLookup(lookupSourceMiss)
		if errors.IsKind(err, errors.KindCacheUnavailable) {
			s.log.Warn(ctx, "Shared key cache unavailable",
				logger.String("key_id", keyID),
				logger.Error(err),
			)
		}
		if errors.IsKind(err, errors.KindKeyNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.KindKeyNotFound, "public key %s not resolvable", keyID)
	}

	s.metrics.RecordKeyLookup(lookupSourceShared)
	return v.(*rsa.PublicKey), nil
}

func (s *TrustStore) fetch(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()

	record, err := s.cache.Get(lookupCtx, keyID)
	if err != nil {
		if lookupCtx.Err() != nil && !errors.IsKind(err, errors.KindKeyNotFound) {
			return nil, errors.Wrap(err, errors.KindCacheUnavailable, "shared cache lookup timed out")
		}
		return nil, err
	}
	if record.ID != keyID {
		return nil, errors.New(errors.KindKeyNotFound, "record id %q does not match key id %q", record.ID, keyID)
	}

	pub, err := record.Decode()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindKeyNotFound, "undecodable public key %s", keyID)
	}

	actual, _ := s.local.LoadOrStore(keyID, pub)
	s.log.Debug(ctx, "Public key resolved from shared cache", logger.String("key_id", keyID))
	return actual.(*rsa.PublicKey), nil
}

// ActiveSigningKey returns the current signing pair. Callers get a consistent pair even while
// a rotation promotes a new one.
func (s *TrustStore) ActiveSigningKey() (*models.SigningKeyPair, error) {
	pair := s.active.Load()
	if pair == nil {
		return nil, errors.ErrNoActiveKey
	}
	return pair, nil
}

// Promote makes pair the active signing key and returns the previous one (nil on first use).
// The public half is inserted locally so this process never has to ask the shared cache for
// its own keys.
func (s *TrustStore) Promote(pair *models.SigningKeyPair) (*models.SigningKeyPair, error) {
	if pair == nil || pair.KeyID == "" || pair.PrivateKey == nil || pair.PublicKey == nil {
		return nil, errors.New(errors.KindInvalidArgument, "incomplete signing key pair")
	}
	s.local.LoadOrStore(pair.KeyID, pair.PublicKey)
	return s.active.Swap(pair), nil
}

// PublicKeyEntry is one locally known public key.
type PublicKeyEntry struct {
	KeyID     string
	PublicKey *rsa.PublicKey
}

// Snapshot lists the locally known public keys ordered by key id.
func (s *TrustStore) Snapshot() []PublicKeyEntry {
	var entries []PublicKeyEntry
	s.local.Range(func(k, v interface{}) bool {
		entries = append(entries, PublicKeyEntry{KeyID: k.(string), PublicKey: v.(*rsa.PublicKey)})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].KeyID < entries[j].KeyID })
	return entries
}
