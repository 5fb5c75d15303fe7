package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	jose "github.com/go-jose/go-jose/v4"

	"github.com/turtacn/sharedauth/internal/infrastructure/crypto"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// PublicKeySet lists the public keys a node can vouch for.
type PublicKeySet interface {
	Snapshot() []crypto.PublicKeyEntry
}

// JWKSHandler publishes the node's known public keys as a JSON Web Key Set, so verifiers outside
// the shared cache can still check signatures.
type JWKSHandler struct {
	keys   PublicKeySet
	logger logger.Logger
}

// NewJWKSHandler creates a new JWKSHandler.
func NewJWKSHandler(keys PublicKeySet, log logger.Logger) *JWKSHandler {
	return &JWKSHandler{keys: keys, logger: log.WithComponent("jwks_handler")}
}

// GetJWKS handles GET /.well-known/jwks.json. The optional kid query narrows the set to one key;
// an unknown kid answers 404.
func (h *JWKSHandler) GetJWKS(c *gin.Context) {
	kid := c.Query("kid")

	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	for _, entry := range h.keys.Snapshot() {
		if kid != "" && entry.KeyID != kid {
			continue
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       entry.PublicKey,
			KeyID:     entry.KeyID,
			Algorithm: constants.AlgorithmRS256,
			Use:       "sig",
		})
	}

	if kid != "" && len(set.Keys) == 0 {
		h.logger.Debug(c.Request.Context(), "JWKS lookup for unknown key", logger.String("kid", kid))
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.Header("Cache-Control", "public, max-age=60")
	c.JSON(http.StatusOK, set)
}
