package crypto

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

const (
	rotationResultSuccess = "success"
	rotationResultFailure = "failure"
	rotationResultSkipped = "skipped"
)

var _ service.KeyRotator = (*KeyRotator)(nil)

// KeyRotator generates signing keys, publishes their public half and promotes them.
type KeyRotator struct {
	store   *TrustStore
	cache   service.DistributedKeyCache
	cfg     *config.JWTConfig
	log     logger.Logger
	now     func() time.Time
	gen     KeyGenerator
	auditor service.RotationAuditor
	metrics *monitoring.Metrics

	// rotating is held for the duration of one rotation; TryLock makes rotations single-flight
	rotating sync.Mutex

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewKeyRotator creates a KeyRotator.
//
// Parameters:
//   - store: TrustStore receiving promoted keys
//   - cache: shared cache the public halves are published to
//   - cfg: token lifetimes and rotation interval
//   - log: Logger instance
//   - opts: WithClock, WithMetrics, WithAuditor, WithKeyGenerator
func NewKeyRotator(store *TrustStore, cache service.DistributedKeyCache, cfg *config.JWTConfig, log logger.Logger, opts ...Option) *KeyRotator {
	o := newOptions(opts)
	return &KeyRotator{
		store:   store,
		cache:   cache,
		cfg:     cfg,
		log:     log.WithComponent("key_rotator"),
		now:     o.now,
		gen:     o.generate,
		auditor: o.auditor,
		metrics: o.metrics,
	}
}

// Rotate generates a new pair, publishes its public key with the public key TTL and promotes it.
// When publishing fails the previously active key stays active. Overlapping calls fail with
// RotationInProgress without doing any work.
func (r *KeyRotator) Rotate(ctx context.Context) (*models.SigningKeyPair, error) {
	if !r.rotating.TryLock() {
		r.metrics.RecordRotation(rotationResultSkipped, 0)
		return nil, errors.ErrRotationInProgress
	}
	defer r.rotating.Unlock()

	ctx, span := monitoring.StartSpan(ctx, "KeyRotator.Rotate")
	start := time.Now()

	var previousID string
	if prev, err := r.store.ActiveSigningKey(); err == nil {
		previousID = prev.KeyID
	}

	pair, err := r.rotate(ctx)
	monitoring.EndSpan(span, err)

	event := models.AuditEvent{
		EventType:     constants.AuditEventKeyRotated,
		PreviousKeyID: previousID,
		Success:       err == nil,
		Timestamp:     r.now(),
	}
	if pair != nil {
		event.KeyID = pair.KeyID
	}
	if err != nil {
		event.EventType = constants.AuditEventKeyRotationFailed
		event.Error = err.Error()
		r.metrics.RecordRotation(rotationResultFailure, time.Since(start))
	} else {
		r.metrics.RecordRotation(rotationResultSuccess, time.Since(start))
	}
	r.audit(ctx, event)

	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (r *KeyRotator) rotate(ctx context.Context) (*models.SigningKeyPair, error) {
	pair, err := r.gen(r.now())
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to generate signing key")
	}

	record, err := models.NewPublicKeyRecord(pair)
	if err != nil {
		return pair, errors.Wrap(err, errors.KindInternal, "failed to encode public key %s", pair.KeyID)
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.cfg.CacheTimeout)
	defer cancel()
	if err := r.cache.Put(publishCtx, pair.KeyID, record, r.cfg.PublicKeyTTL()); err != nil {
		return pair, errors.Wrap(err, errors.KindPublishFailure, "failed to publish public key %s", pair.KeyID)
	}

	if _, err := r.store.Promote(pair); err != nil {
		return pair, err
	}

	r.log.Info(ctx, "Signing key rotated",
		logger.String("key_id", pair.KeyID),
		logger.Duration("public_key_ttl", r.cfg.PublicKeyTTL()),
	)
	return pair, nil
}

func (r *KeyRotator) audit(ctx context.Context, event models.AuditEvent) {
	if r.auditor == nil {
		return
	}
	if err := r.auditor.RecordRotation(ctx, event); err != nil {
		r.log.Warn(ctx, "Failed to record rotation audit event",
			logger.String("key_id", event.KeyID),
			logger.Error(err),
		)
	}
}

// ================================================================================
// Scheduler
// ================================================================================

// Start rotates once immediately, then every RotationInterval on a single goroutine until ctx
// is cancelled or Stop is called. A slow rotation delays the next tick; ticks never overlap.
// If the first rotation fails the schedule retries it with backoff until a key is active.
func (r *KeyRotator) Start(ctx context.Context) error {
	if r.cfg.RotationInterval <= 0 {
		return errors.New(errors.KindInvalidArgument, "rotation interval must be positive")
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.done != nil {
		return errors.New(errors.KindInvalidArgument, "key rotator already started")
	}

	r.tick(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(loopCtx, r.done)

	r.log.Info(ctx, "Key rotation scheduled", logger.Duration("interval", r.cfg.RotationInterval))
	return nil
}

// Stop ends the schedule and waits for an in-flight rotation to finish.
func (r *KeyRotator) Stop() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.done == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel, r.done = nil, nil
}

func (r *KeyRotator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	r.awaitFirstKey(ctx)

	ticker := time.NewTicker(r.cfg.RotationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// awaitFirstKey retries rotation with exponential backoff, for at most one RotationInterval,
// while the store has no active signing key.
func (r *KeyRotator) awaitFirstKey(ctx context.Context) {
	if _, err := r.store.ActiveSigningKey(); err == nil {
		return
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = min(100*time.Millisecond, r.cfg.RotationInterval)
	policy.MaxInterval = r.cfg.RotationInterval
	policy.MaxElapsedTime = r.cfg.RotationInterval

	attempt := 0
	err := backoff.Retry(func() error {
		if _, err := r.store.ActiveSigningKey(); err == nil {
			return nil
		}
		attempt++
		if _, err := r.Rotate(ctx); err != nil {
			r.log.Warn(ctx, "No active signing key yet, retrying rotation",
				logger.Int("attempt", attempt),
				logger.Error(err),
			)
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil && ctx.Err() == nil {
		r.log.Error(ctx, "Still no active signing key, waiting for the next tick", err)
	}
}

// tick runs one scheduled rotation. Failures are retried at the next tick.
func (r *KeyRotator) tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error(ctx, "Key rotation panicked", fmt.Errorf("panic: %v", p))
		}
	}()

	if _, err := r.Rotate(ctx); err != nil {
		r.log.Error(ctx, "Key rotation failed, keeping current signing key", err,
			logger.String("kind", string(errors.KindOf(err))),
		)
	}
}
