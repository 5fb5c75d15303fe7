package cli

import (
	"context"
	stdcrypto "crypto"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"

	"github.com/turtacn/sharedauth/internal/application/dto"
	"github.com/turtacn/sharedauth/pkg/jwks"
)

// keyView describes one public key.
type keyView struct {
	KeyID       string `json:"kid" yaml:"kid"`
	Bits        int    `json:"bits" yaml:"bits"`
	Thumbprint  string `json:"thumbprint" yaml:"thumbprint"`
	GeneratedAt string `json:"generated_at,omitempty" yaml:"generated_at,omitempty"`
	ExpiresIn   string `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
}

// thumbprint is the RFC 7638 SHA-256 thumbprint, base64url encoded.
func thumbprint(pub *rsa.PublicKey) (string, error) {
	sum, err := (&jose.JSONWebKey{Key: pub}).Thumbprint(stdcrypto.SHA256)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

func newKeysCommand(opts *options) *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing keys",
	}
	keysCmd.AddCommand(
		newKeysRotateCommand(opts),
		newKeysListCommand(opts),
		newKeysInspectCommand(opts),
	)
	return keysCmd
}

func newKeysRotateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the signing key of an auth node now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			var resp dto.RotationResponse
			if err := newAdminClient(opts).do(ctx, http.MethodPost, "/api/v1/admin/keys/rotate", nil, &resp); err != nil {
				return fmt.Errorf("rotation failed: %w", err)
			}
			return printOutput(cmd.OutOrStdout(), opts.output, keyView{
				KeyID:       resp.KeyID,
				GeneratedAt: resp.CreatedAt.UTC().Format(time.RFC3339),
			})
		},
	}
}

func newKeysListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the public keys an auth node publishes in its JWKS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			resolver := jwks.NewResolver(jwksURL(opts), jwks.WithHTTPClient(newAdminClient(opts).httpClient()))
			if err := resolver.Refresh(ctx); err != nil {
				return err
			}

			keys := resolver.Keys()
			views := make([]keyView, 0, len(keys))
			for _, k := range keys {
				tp, err := thumbprint(k.PublicKey)
				if err != nil {
					return err
				}
				views = append(views, keyView{KeyID: k.KeyID, Bits: k.PublicKey.N.BitLen(), Thumbprint: tp})
			}
			return printOutput(cmd.OutOrStdout(), opts.output, views)
		},
	}
}

func newKeysInspectCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <kid>",
		Short: "Show a public key record straight from the shared key cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			shared, err := openSharedCache(ctx, opts)
			if err != nil {
				return err
			}
			defer shared.Close()

			kid := args[0]
			record, err := shared.cache.Get(ctx, kid)
			if err != nil {
				return err
			}
			ttl, err := shared.cache.TTL(ctx, kid)
			if err != nil {
				return err
			}
			pub, err := record.Decode()
			if err != nil {
				return err
			}
			tp, err := thumbprint(pub)
			if err != nil {
				return err
			}

			return printOutput(cmd.OutOrStdout(), opts.output, keyView{
				KeyID:       record.ID,
				Bits:        pub.N.BitLen(),
				Thumbprint:  tp,
				GeneratedAt: time.UnixMilli(record.GeneratedAt).UTC().Format(time.RFC3339),
				ExpiresIn:   ttl.String(),
			})
		},
	}
}

// jwksURL is the JWKS document of the node named by --server.
func jwksURL(opts *options) string {
	return strings.TrimRight(opts.server, "/") + "/.well-known/jwks.json"
}

func commandContext(cmd *cobra.Command, opts *options) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, time.Duration(opts.timeoutSec)*time.Second)
}
