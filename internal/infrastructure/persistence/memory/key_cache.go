// Package memory provides an in-process DistributedKeyCache for single-instance deployments and tests.
package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/pkg/errors"
)

var _ service.DistributedKeyCache = (*KeyCache)(nil)

// KeyCache keeps public key records in a go-cache with per-item TTL.
type KeyCache struct {
	items *gocache.Cache
}

// NewKeyCache creates an empty cache; expired items are purged every cleanupInterval.
func NewKeyCache(cleanupInterval time.Duration) *KeyCache {
	return &KeyCache{items: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

// Put stores a copy of record; an existing, unexpired keyID is never replaced.
func (c *KeyCache) Put(ctx context.Context, keyID string, record *models.PublicKeyRecord, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.KindCacheUnavailable, "publish cancelled")
	}
	if keyID == "" || !record.Valid() || record.ID != keyID {
		return errors.New(errors.KindInvalidArgument, "record does not match key id %q", keyID)
	}
	if ttl <= 0 {
		return errors.New(errors.KindInvalidArgument, "ttl must be positive")
	}
	stored := *record
	if err := c.items.Add(keyID, stored, ttl); err != nil {
		return errors.Wrap(err, errors.KindPublishFailure, "public key %s already published", keyID)
	}
	return nil
}

// Get returns a copy of the record for keyID.
func (c *KeyCache) Get(ctx context.Context, keyID string) (*models.PublicKeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindCacheUnavailable, "lookup cancelled")
	}
	v, ok := c.items.Get(keyID)
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	record := v.(models.PublicKeyRecord)
	return &record, nil
}

// Len returns the number of unexpired records.
func (c *KeyCache) Len() int {
	return c.items.ItemCount()
}
