// Package jwks resolves token signing keys from the JWKS document an auth node publishes. It is
// the key source for verifiers that cannot reach the shared key cache.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
)

const (
	// DefaultMinRefreshInterval bounds how often an unknown key id may trigger a refetch.
	DefaultMinRefreshInterval = 30 * time.Second

	// DefaultFetchTimeout bounds one shared JWKS request.
	DefaultFetchTimeout = 10 * time.Second
)

// Key is one resolved public key.
type Key struct {
	KeyID     string
	PublicKey *rsa.PublicKey
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) { r.client = client }
}

// WithMinRefreshInterval sets how long after a fetch an unknown key id is answered without
// refetching.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(r *Resolver) { r.minRefresh = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// Resolver caches the RS256 signing keys of a JWKS endpoint.
//
// Like the trust store, the cache only grows: a key that disappears from the document stays
// resolvable, since tokens it signed may still be inside their validity. Refetches are
// conditional (If-None-Match) and concurrent callers share one in-flight request.
type Resolver struct {
	url        string
	client     *http.Client
	minRefresh time.Duration
	now        func() time.Time

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	etag        string
	lastRefresh time.Time

	group singleflight.Group
}

// NewResolver creates a resolver for the JWKS document at url. Nothing is fetched until the
// first lookup or Refresh.
func NewResolver(url string, opts ...Option) *Resolver {
	r := &Resolver{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		minRefresh: DefaultMinRefreshInterval,
		now:        time.Now,
		keys:       make(map[string]*rsa.PublicKey),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetPublicKey returns the key for keyID, refetching the document on a miss unless it was
// fetched within the minimum refresh interval. Failures are reported as KeyNotFound with the
// cause kept in the chain.
func (r *Resolver) GetPublicKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	if key, ok := r.lookup(keyID); ok {
		return key, nil
	}

	r.mu.RLock()
	fresh := !r.lastRefresh.IsZero() && r.now().Sub(r.lastRefresh) < r.minRefresh
	r.mu.RUnlock()
	if fresh {
		return nil, errors.New(errors.KindKeyNotFound, "public key %s not published", keyID)
	}

	if err := r.Refresh(ctx); err != nil {
		return nil, errors.Wrap(err, errors.KindKeyNotFound, "public key %s unavailable", keyID)
	}
	if key, ok := r.lookup(keyID); ok {
		return key, nil
	}
	return nil, errors.New(errors.KindKeyNotFound, "public key %s not published", keyID)
}

// Refresh fetches the document now. The request is shared with concurrent callers and runs
// detached from ctx; ctx only bounds how long this caller waits for it.
func (r *Resolver) Refresh(ctx context.Context) error {
	flight := r.group.DoChan("refresh", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultFetchTimeout)
		defer cancel()
		return nil, r.fetch(fetchCtx)
	})
	select {
	case res := <-flight:
		return res.Err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.KindCacheUnavailable, "JWKS refresh abandoned")
	}
}

// Keys returns every key resolved so far, ordered by key id.
func (r *Resolver) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.keys))
	for id, pub := range r.keys {
		keys = append(keys, Key{KeyID: id, PublicKey: pub})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].KeyID < keys[j].KeyID })
	return keys
}

func (r *Resolver) lookup(keyID string) (*rsa.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[keyID]
	return key, ok
}

func (r *Resolver) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return errors.Wrap(err, errors.KindInvalidArgument, "invalid JWKS url")
	}
	r.mu.RLock()
	if r.etag != "" {
		req.Header.Set("If-None-Match", r.etag)
	}
	r.mu.RUnlock()

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindCacheUnavailable, "JWKS request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		r.mu.Lock()
		r.lastRefresh = r.now()
		r.mu.Unlock()
		return nil
	case http.StatusOK:
	default:
		return errors.New(errors.KindCacheUnavailable, "JWKS endpoint answered %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return errors.Wrap(err, errors.KindInternal, "invalid JWKS document")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range set.Keys {
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		if key.Algorithm != "" && key.Algorithm != constants.AlgorithmRS256 {
			continue
		}
		if pub, ok := key.Key.(*rsa.PublicKey); ok && key.KeyID != "" {
			if _, known := r.keys[key.KeyID]; !known {
				r.keys[key.KeyID] = pub
			}
		}
	}
	r.etag = resp.Header.Get("ETag")
	r.lastRefresh = r.now()
	return nil
}
