package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

var _ service.DistributedKeyCache = (*KeyCache)(nil)

// KeyCache stores public key records in Redis under "public-keys-pool:<keyId>".
type KeyCache struct {
	client redis.UniversalClient
	log    logger.Logger
}

// NewKeyCache creates a KeyCache.
func NewKeyCache(client redis.UniversalClient, log logger.Logger) *KeyCache {
	return &KeyCache{client: client, log: log.WithComponent("key_cache")}
}

func cacheKey(keyID string) string {
	return fmt.Sprintf("%s:%s", constants.PublicKeysPool, keyID)
}

// Put publishes record with ttl. Records are write-once: an existing keyID is never
// overwritten and yields a PublishFailure.
func (c *KeyCache) Put(ctx context.Context, keyID string, record *models.PublicKeyRecord, ttl time.Duration) error {
	if keyID == "" || !record.Valid() || record.ID != keyID {
		return errors.New(errors.KindInvalidArgument, "record does not match key id %q", keyID)
	}
	if ttl <= 0 {
		return errors.New(errors.KindInvalidArgument, "ttl must be positive")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode public key record")
	}

	created, err := c.client.SetNX(ctx, cacheKey(keyID), data, ttl).Result()
	if err != nil {
		return errors.Wrap(err, errors.KindCacheUnavailable, "failed to publish public key %s", keyID)
	}
	if !created {
		return errors.New(errors.KindPublishFailure, "public key %s already published", keyID)
	}

	c.log.Debug(ctx, "Public key published",
		logger.String("key_id", keyID),
		logger.Duration("ttl", ttl),
	)
	return nil
}

// Get loads the record for keyID.
func (c *KeyCache) Get(ctx context.Context, keyID string) (*models.PublicKeyRecord, error) {
	data, err := c.client.Get(ctx, cacheKey(keyID)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, errors.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, errors.KindCacheUnavailable, "failed to load public key %s", keyID)
	}

	var record models.PublicKeyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, errors.KindKeyNotFound, "corrupt public key record %s", keyID)
	}
	return &record, nil
}

// TTL returns how long the record for keyID stays resolvable. An absent record is KeyNotFound.
func (c *KeyCache) TTL(ctx context.Context, keyID string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, cacheKey(keyID)).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.KindCacheUnavailable, "failed to read ttl of public key %s", keyID)
	}
	// -2: no such key
	if ttl == -2 {
		return 0, errors.ErrKeyNotFound
	}
	return ttl, nil
}
