package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/turtacn/sharedauth/internal/application/dto"
	"github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/internal/infrastructure/crypto"
	"github.com/turtacn/sharedauth/pkg/jwks"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// verifyView is the outcome of an offline verification.
type verifyView struct {
	Valid    bool   `json:"valid" yaml:"valid"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
	Role     string `json:"role,omitempty" yaml:"role,omitempty"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// decodeView is the unverified content of a token.
type decodeView struct {
	Header map[string]interface{} `json:"header" yaml:"header"`
	Claims map[string]interface{} `json:"claims" yaml:"claims"`
}

func newTokenCommand(opts *options) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue, verify and decode tokens",
	}
	tokenCmd.AddCommand(
		newTokenIssueCommand(opts),
		newTokenVerifyCommand(opts),
		newTokenDecodeCommand(opts),
	)
	return tokenCmd
}

func newTokenIssueCommand(opts *options) *cobra.Command {
	req := &dto.IssueTokenRequest{}
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint an access and refresh token pair through the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			var pair dto.TokenPairResponse
			if err := newAdminClient(opts).do(ctx, http.MethodPost, "/api/v1/admin/tokens", req, &pair); err != nil {
				return fmt.Errorf("token issue failed: %w", err)
			}
			return printOutput(cmd.OutOrStdout(), opts.output, pair)
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "username claim (required)")
	cmd.Flags().StringVar(&req.Email, "email", "", "email claim")
	cmd.Flags().StringVar(&req.Role, "role", "", "role claim (required)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newTokenVerifyCommand(opts *options) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a token against the shared key cache, or against a node's JWKS with --remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			log := logger.NewNoopLogger()
			var keys service.KeyResolver
			if remote {
				keys = jwks.NewResolver(jwksURL(opts), jwks.WithHTTPClient(newAdminClient(opts).httpClient()))
			} else {
				shared, err := openSharedCache(ctx, opts)
				if err != nil {
					return err
				}
				defer shared.Close()
				keys = crypto.NewTrustStore(shared.cache, shared.cfg.JWT.CacheTimeout, log)
			}
			result := crypto.NewTokenVerifier(keys, log).Verify(ctx, args[0])

			view := verifyView{Valid: result.IsAuthenticated()}
			if view.Valid {
				claims := result.Claims()
				view.Username, view.Email, view.Role = claims.Username, claims.Email, claims.Role
			} else {
				view.Reason = string(result.Reason())
				view.Error = result.Err().Error()
			}
			if err := printOutput(cmd.OutOrStdout(), opts.output, view); err != nil {
				return err
			}
			if !view.Valid {
				return fmt.Errorf("token rejected: %s", view.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "resolve keys from the JWKS of --server instead of the shared cache")
	return cmd
}

func newTokenDecodeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "Print the header and claims of a token without checking its signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims := jwt.MapClaims{}
			token, _, err := jwt.NewParser().ParseUnverified(args[0], claims)
			if err != nil {
				return fmt.Errorf("malformed token: %w", err)
			}

			view := decodeView{Header: token.Header, Claims: map[string]interface{}(claims)}
			for _, name := range []string{"iat", "exp", "nbf"} {
				if v, ok := claims[name].(float64); ok {
					view.Claims[name+"_time"] = time.Unix(int64(v), 0).UTC().Format(time.RFC3339)
				}
			}
			return printOutput(cmd.OutOrStdout(), opts.output, view)
		},
	}
}
