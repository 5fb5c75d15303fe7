package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jose "github.com/go-jose/go-jose/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/turtacn/sharedauth/internal/application/dto"
	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/infrastructure/audit"
	"github.com/turtacn/sharedauth/internal/infrastructure/crypto"
	"github.com/turtacn/sharedauth/internal/infrastructure/persistence/redis"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/logger"
)

const testAdminToken = "admin-token"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeEnvelope(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dto.SuccessResponse(data, "trace-1"))
}

// newAdminServer fakes the admin API of an auth node.
func newAdminServer(t *testing.T, jwks jose.JSONWebKeySet) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	requireAdmin := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer "+testAdminToken {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(dto.NewAuthFailureResponse(constants.TokenTypeAccess))
			return false
		}
		return true
	}

	mux.HandleFunc("/api/v1/admin/keys/rotate", func(w http.ResponseWriter, r *http.Request) {
		if !requireAdmin(w, r) {
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		writeEnvelope(w, http.StatusOK, dto.RotationResponse{
			KeyID:     "key-2",
			CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		})
	})
	mux.HandleFunc("/api/v1/admin/tokens", func(w http.ResponseWriter, r *http.Request) {
		if !requireAdmin(w, r) {
			return
		}
		var req dto.IssueTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, dto.IssueTokenRequest{Username: "alice", Email: "alice@example.com", Role: "USER"}, req)
		writeEnvelope(w, http.StatusCreated, dto.TokenPairResponse{
			AccessToken:  "at-value",
			RefreshToken: "rt-value",
			TokenType:    "Bearer",
			KeyID:        "key-2",
			ExpiresIn:    900,
		})
	})
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestKeysRotate(t *testing.T) {
	srv := newAdminServer(t, jose.JSONWebKeySet{})

	out, err := runCLI(t, "keys", "rotate", "--server", srv.URL, "--token", testAdminToken)
	require.NoError(t, err)

	var view keyView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "key-2", view.KeyID)
	assert.Equal(t, "2024-03-01T12:00:00Z", view.GeneratedAt)
}

func TestKeysRotate_Unauthorized(t *testing.T) {
	srv := newAdminServer(t, jose.JSONWebKeySet{})

	_, err := runCLI(t, "keys", "rotate", "--server", srv.URL, "--token", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Invalid access token.")
}

func TestTokenIssue(t *testing.T) {
	srv := newAdminServer(t, jose.JSONWebKeySet{})

	out, err := runCLI(t, "token", "issue",
		"--server", srv.URL, "--token", testAdminToken,
		"--username", "alice", "--email", "alice@example.com", "--role", "USER",
	)
	require.NoError(t, err)

	var pair dto.TokenPairResponse
	require.NoError(t, json.Unmarshal([]byte(out), &pair))
	assert.Equal(t, "at-value", pair.AccessToken)
	assert.Equal(t, "rt-value", pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)
}

func TestTokenIssue_RequiresRole(t *testing.T) {
	_, err := runCLI(t, "token", "issue", "--username", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role")
}

func TestKeysList(t *testing.T) {
	pair, err := crypto.GenerateSigningKeyPair(time.Now())
	require.NoError(t, err)
	srv := newAdminServer(t, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: pair.PublicKey, KeyID: pair.KeyID, Algorithm: "RS256", Use: "sig"},
	}})

	out, err := runCLI(t, "keys", "list", "--server", srv.URL, "-o", "yaml")
	require.NoError(t, err)

	var views []keyView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, pair.KeyID, views[0].KeyID)
	assert.Equal(t, 2048, views[0].Bits)

	expected, err := thumbprint(pair.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, expected, views[0].Thumbprint)
}

// sharedCacheFixture is a miniredis-backed shared key cache plus a config file pointing at it.
type sharedCacheFixture struct {
	mr         *miniredis.Miniredis
	cache      *redis.KeyCache
	configFile string
}

func newSharedCacheFixture(t *testing.T, extraYAML string) *sharedCacheFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf("redis:\n  driver: redis\n  addresses:\n    - %s\n%s", mr.Addr(), extraYAML)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return &sharedCacheFixture{
		mr:         mr,
		cache:      redis.NewKeyCache(client, logger.NewNoopLogger()),
		configFile: path,
	}
}

func TestKeysInspect(t *testing.T) {
	fx := newSharedCacheFixture(t, "")
	generated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pair, err := crypto.GenerateSigningKeyPair(generated)
	require.NoError(t, err)
	record, err := models.NewPublicKeyRecord(pair)
	require.NoError(t, err)
	require.NoError(t, fx.cache.Put(context.Background(), pair.KeyID, record, time.Hour))

	out, err := runCLI(t, "keys", "inspect", pair.KeyID, "--config", fx.configFile)
	require.NoError(t, err)

	var view keyView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, pair.KeyID, view.KeyID)
	assert.Equal(t, 2048, view.Bits)
	assert.Equal(t, "2024-03-01T12:00:00Z", view.GeneratedAt)
	assert.Equal(t, "1h0m0s", view.ExpiresIn)

	_, err = runCLI(t, "keys", "inspect", "missing", "--config", fx.configFile)
	assert.Error(t, err)
}

func TestKeysInspect_MemoryDriverRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  driver: memory\n"), 0o600))

	_, err := runCLI(t, "keys", "inspect", "k1", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.driver=redis")
}

// issueThroughSharedCache publishes a signing key into the fixture's cache and signs a token
// with it, the way an auth node would.
func issueThroughSharedCache(t *testing.T, fx *sharedCacheFixture, claims models.Claims) *models.IssuedToken {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default().JWT
	log := logger.NewNoopLogger()

	store := crypto.NewTrustStore(fx.cache, cfg.CacheTimeout, log)
	_, err := crypto.NewKeyRotator(store, fx.cache, &cfg, log).Rotate(ctx)
	require.NoError(t, err)

	token, err := crypto.NewTokenIssuer(store, &cfg, log).Issue(ctx, constants.TokenTypeAccess, claims)
	require.NoError(t, err)
	return token
}

func TestTokenVerify(t *testing.T) {
	fx := newSharedCacheFixture(t, "")
	token := issueThroughSharedCache(t, fx, models.Claims{Username: "alice", Email: "alice@example.com", Role: "ADMIN"})

	t.Run("valid", func(t *testing.T) {
		out, err := runCLI(t, "token", "verify", token.Value, "--config", fx.configFile)
		require.NoError(t, err)

		var view verifyView
		require.NoError(t, json.Unmarshal([]byte(out), &view))
		assert.True(t, view.Valid)
		assert.Equal(t, "alice", view.Username)
		assert.Equal(t, "ADMIN", view.Role)
	})

	t.Run("key evicted from shared cache", func(t *testing.T) {
		fx.mr.FlushAll()

		out, err := runCLI(t, "token", "verify", token.Value, "--config", fx.configFile)
		require.Error(t, err)

		var view verifyView
		require.NoError(t, json.Unmarshal([]byte(out), &view))
		assert.False(t, view.Valid)
		assert.Equal(t, "key_not_found", view.Reason)
	})

	t.Run("malformed", func(t *testing.T) {
		out, err := runCLI(t, "token", "verify", "not-a-token", "--config", fx.configFile)
		require.Error(t, err)

		var view verifyView
		require.NoError(t, json.Unmarshal([]byte(out), &view))
		assert.Equal(t, "malformed_token", view.Reason)
	})
}

func TestTokenVerify_Remote(t *testing.T) {
	fx := newSharedCacheFixture(t, "")
	token := issueThroughSharedCache(t, fx, models.Claims{Username: "carol", Role: "USER"})

	record, err := fx.cache.Get(context.Background(), token.KeyID)
	require.NoError(t, err)
	pub, err := record.Decode()
	require.NoError(t, err)
	srv := newAdminServer(t, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: pub, KeyID: token.KeyID, Algorithm: "RS256", Use: "sig"},
	}})

	// the shared cache is gone; only the node's JWKS can vouch for the key
	fx.mr.FlushAll()
	out, err := runCLI(t, "token", "verify", token.Value, "--remote", "--server", srv.URL)
	require.NoError(t, err)

	var view verifyView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.True(t, view.Valid)
	assert.Equal(t, "carol", view.Username)
}

func TestTokenDecode(t *testing.T) {
	fx := newSharedCacheFixture(t, "")
	token := issueThroughSharedCache(t, fx, models.Claims{Username: "bob", Role: "USER"})

	out, err := runCLI(t, "token", "decode", token.Value)
	require.NoError(t, err)

	var view decodeView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, token.KeyID, view.Header["kid"])
	assert.Equal(t, "RS256", view.Header["alg"])
	assert.Equal(t, "bob", view.Claims["username"])
	assert.Equal(t, token.ExpiresAt.UTC().Format(time.RFC3339), view.Claims["exp_time"])

	_, err = runCLI(t, "token", "decode", "abc")
	assert.Error(t, err)
}

func TestConfigShow(t *testing.T) {
	fx := newSharedCacheFixture(t, "  password: hunter2\nkafka:\n  signing_secret: s3cret\njwt:\n  rotation_interval: 30m\n")

	out, err := runCLI(t, "config", "show", "--config", fx.configFile, "-o", "yaml")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")

	var settings map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &settings))
	assert.Equal(t, "******", settings["redis"]["password"])
	assert.Equal(t, "******", settings["kafka"]["signing_secret"])
	assert.Equal(t, "30m", settings["jwt"]["rotation_interval"])
	assert.Equal(t, "15m0s", settings["jwt"]["access_token_ttl"])
}

// fakeAuditSource replays records and records how it was opened.
type fakeAuditSource struct {
	records []audit.Record
	groupID string
	closed  bool
}

func (s *fakeAuditSource) Consume(ctx context.Context, handle func(audit.Record) error) error {
	for _, r := range s.records {
		if err := handle(r); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

func (s *fakeAuditSource) Close() error {
	s.closed = true
	return nil
}

func TestAuditTail(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeAuditSource{records: []audit.Record{
		{Offset: 7, Signed: true, Verified: true, Event: models.AuditEvent{
			EventType: constants.AuditEventKeyRotated, KeyID: "key-2", PreviousKeyID: "key-1", Success: true, Timestamp: at,
		}},
		{Offset: 8, Signed: true, Event: models.AuditEvent{
			EventType: constants.AuditEventKeyRotationFailed, Error: "publish failed", Timestamp: at,
		}},
		{Offset: 9, Event: models.AuditEvent{EventType: constants.AuditEventKeyRotated, KeyID: "key-3", Timestamp: at}},
	}}
	original := openAuditSource
	openAuditSource = func(cfg config.KafkaConfig, groupID string) auditSource {
		assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
		source.groupID = groupID
		return source
	}
	t.Cleanup(func() { openAuditSource = original })

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "kafka:\n  brokers: [\"localhost:9092\"]\n  signing_secret: s3cret\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	out, err := runCLI(t, "audit", "tail", "--config", path, "--limit", "2")
	require.NoError(t, err)

	var views []auditView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, auditView{
		Offset: 7, EventType: "key.rotated", KeyID: "key-2", PreviousKeyID: "key-1",
		Success: true, Timestamp: "2024-03-01T12:00:00Z", Signature: "verified",
	}, views[0])
	assert.Equal(t, "invalid", views[1].Signature)
	assert.Equal(t, "publish failed", views[1].Error)
	assert.True(t, source.closed)
	assert.Contains(t, source.groupID, "sharedauth-admin-")

	// without a limit the command reads until the timeout and keeps what it saw
	out, err = runCLI(t, "audit", "tail", "--config", path, "--limit", "0", "--timeout", "1", "--group", "ops")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 3)
	assert.Equal(t, "unsigned", views[2].Signature)
	assert.Equal(t, "ops", source.groupID)
}

func TestAuditTail_RequiresBrokers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kafka:\n  audit_topic: audit\n"), 0o600))

	_, err := runCLI(t, "audit", "tail", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.brokers")
}
