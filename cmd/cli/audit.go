package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/infrastructure/audit"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// auditView is one rotation audit event as printed by audit tail.
type auditView struct {
	Partition     int    `json:"partition" yaml:"partition"`
	Offset        int64  `json:"offset" yaml:"offset"`
	EventType     string `json:"event_type" yaml:"event_type"`
	KeyID         string `json:"key_id,omitempty" yaml:"key_id,omitempty"`
	PreviousKeyID string `json:"previous_key_id,omitempty" yaml:"previous_key_id,omitempty"`
	Success       bool   `json:"success" yaml:"success"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
	Timestamp     string `json:"timestamp" yaml:"timestamp"`
	Signature     string `json:"signature" yaml:"signature"`
}

// auditSource is what audit tail reads from.
type auditSource interface {
	Consume(ctx context.Context, handle func(audit.Record) error) error
	Close() error
}

// openAuditSource is replaced in tests.
var openAuditSource = func(cfg config.KafkaConfig, groupID string) auditSource {
	return audit.NewConsumer(cfg, groupID, logger.NewNoopLogger())
}

var errLimitReached = stderrors.New("limit reached")

func newAuditCommand(opts *options) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the key rotation audit trail",
	}
	auditCmd.AddCommand(newAuditTailCommand(opts))
	return auditCmd
}

func newAuditTailCommand(opts *options) *cobra.Command {
	var (
		limit   int
		groupID string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print rotation audit events from the audit topic and check their signatures",
		Long: `tail replays the audit topic from its oldest retained message and stops after --limit
events or when --timeout expires. With kafka.signing_secret configured every event is checked
against its x-audit-signature header.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configFile, logger.NewNoopLogger())
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 {
				return fmt.Errorf("no kafka.brokers configured")
			}
			if groupID == "" {
				groupID = "sharedauth-admin-" + uuid.NewString()
			}

			ctx, cancel := commandContext(cmd, opts)
			defer cancel()

			source := openAuditSource(cfg.Kafka, groupID)
			defer source.Close()

			checked := cfg.Kafka.SigningSecret != ""
			views := make([]auditView, 0, limit)
			err = source.Consume(ctx, func(r audit.Record) error {
				views = append(views, newAuditView(r, checked))
				if limit > 0 && len(views) >= limit {
					return errLimitReached
				}
				return nil
			})
			if err != nil && !stderrors.Is(err, errLimitReached) {
				return fmt.Errorf("audit tail failed: %w", err)
			}
			return printOutput(cmd.OutOrStdout(), opts.output, views)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "stop after this many events (0 reads until --timeout)")
	cmd.Flags().StringVar(&groupID, "group", "", "consumer group id (default a fresh group)")
	return cmd
}

func newAuditView(r audit.Record, checked bool) auditView {
	view := auditView{
		Partition:     r.Partition,
		Offset:        r.Offset,
		EventType:     string(r.Event.EventType),
		KeyID:         r.Event.KeyID,
		PreviousKeyID: r.Event.PreviousKeyID,
		Success:       r.Event.Success,
		Error:         r.Event.Error,
		Timestamp:     r.Event.Timestamp.UTC().Format(time.RFC3339),
	}
	switch {
	case !r.Signed:
		view.Signature = "unsigned"
	case !checked:
		view.Signature = "unchecked"
	case r.Verified:
		view.Signature = "verified"
	default:
		view.Signature = "invalid"
	}
	return view
}
