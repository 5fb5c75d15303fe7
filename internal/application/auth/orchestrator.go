// Package auth applies an authentication policy to inbound credentials.
package auth

import (
	"context"
	"strings"

	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/internal/infrastructure/monitoring"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// Policy decides what happens to a request whose credential does not verify.
type Policy int

const (
	// FailFast rejects the request before any downstream handler runs.
	FailFast Policy = iota
	// BestEffort lets the request through as anonymous.
	BestEffort
)

// String returns the metric/log label of the policy.
func (p Policy) String() string {
	switch p {
	case FailFast:
		return "fail_fast"
	case BestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

const (
	decisionAuthenticated = "authenticated"
	decisionRejected      = "rejected"
	decisionAnonymous     = "anonymous"
)

// Decision is the outcome of authenticating one request.
type Decision struct {
	Policy    Policy
	TokenType constants.TokenType
	// Identity is the caller; the zero value when authentication failed
	Identity models.IdentityContext
	Result   models.AuthenticationResult
}

// Proceed reports whether the downstream handler may run.
func (d Decision) Proceed() bool {
	return d.Result.IsAuthenticated() || d.Policy == BestEffort
}

// Orchestrator verifies request credentials and applies a Policy.
type Orchestrator struct {
	verifier service.TokenVerifier
	metrics  *monitoring.Metrics
	log      logger.Logger
}

// NewOrchestrator creates an Orchestrator. metrics may be nil.
func NewOrchestrator(verifier service.TokenVerifier, metrics *monitoring.Metrics, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		verifier: verifier,
		metrics:  metrics,
		log:      log.WithComponent("auth_orchestrator"),
	}
}

// Authenticate verifies rawToken as a token of tokenType under policy. An empty rawToken fails
// with MissingToken without reaching the verifier.
func (o *Orchestrator) Authenticate(ctx context.Context, policy Policy, tokenType constants.TokenType, rawToken string) Decision {
	d := Decision{Policy: policy, TokenType: tokenType}

	if strings.TrimSpace(rawToken) == "" {
		d.Result = models.Failed(errors.ErrMissingToken)
	} else {
		d.Result = o.verifier.Verify(ctx, rawToken)
	}

	switch {
	case d.Result.IsAuthenticated():
		d.Identity = models.NewIdentityContext(d.Result.Claims())
		o.metrics.RecordAuthDecision(policy.String(), tokenType.Abbreviation(), decisionAuthenticated)
	case policy == BestEffort:
		o.log.Info(ctx, "Optional authentication failed, continuing anonymously",
			logger.String("token_type", tokenType.Abbreviation()),
			logger.String("reason", string(d.Result.Reason())),
		)
		o.metrics.RecordAuthDecision(policy.String(), tokenType.Abbreviation(), decisionAnonymous)
	default:
		o.log.Warn(ctx, "Authentication failed",
			logger.String("token_type", tokenType.Abbreviation()),
			logger.String("reason", string(d.Result.Reason())),
			logger.Error(d.Result.Err()),
		)
		o.metrics.RecordAuthDecision(policy.String(), tokenType.Abbreviation(), decisionRejected)
	}
	return d
}
