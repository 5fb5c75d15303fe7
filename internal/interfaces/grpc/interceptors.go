// Package grpc provides the gRPC server of the auth node and the interceptors that let embedding
// services authenticate calls with the same tokens as the HTTP surface.
package grpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/turtacn/sharedauth/internal/application/auth"
	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// metadata keys are lower case on the wire
var (
	metadataAuthorization = strings.ToLower(constants.HeaderAuthorization)
	metadataRefreshToken  = strings.ToLower(constants.HeaderRefreshToken)
)

// MethodPolicy is how one RPC authenticates its caller.
type MethodPolicy struct {
	Policy    auth.Policy
	TokenType constants.TokenType
}

// InterceptorChain builds the unary interceptors of the gRPC server.
type InterceptorChain struct {
	log           logger.Logger
	orchestrator  *auth.Orchestrator
	defaultPolicy MethodPolicy
	methods       map[string]MethodPolicy
	public        []string
}

// NewInterceptorChain creates a chain where every RPC requires a valid access token unless
// overridden with WithMethodPolicy or exempted with WithPublicPrefix.
func NewInterceptorChain(log logger.Logger, orchestrator *auth.Orchestrator) *InterceptorChain {
	return &InterceptorChain{
		log:           log.WithComponent("grpc_interceptor"),
		orchestrator:  orchestrator,
		defaultPolicy: MethodPolicy{Policy: auth.FailFast, TokenType: constants.TokenTypeAccess},
		methods:       make(map[string]MethodPolicy),
	}
}

// WithMethodPolicy overrides the policy of one full method name ("/pkg.Service/Method").
func (ic *InterceptorChain) WithMethodPolicy(fullMethod string, p MethodPolicy) *InterceptorChain {
	ic.methods[fullMethod] = p
	return ic
}

// WithPublicPrefix skips authentication for every method starting with prefix.
func (ic *InterceptorChain) WithPublicPrefix(prefix string) *InterceptorChain {
	ic.public = append(ic.public, prefix)
	return ic
}

func (ic *InterceptorChain) isPublic(fullMethod string) bool {
	for _, p := range ic.public {
		if strings.HasPrefix(fullMethod, p) {
			return true
		}
	}
	return false
}

func (ic *InterceptorChain) policyFor(fullMethod string) MethodPolicy {
	if p, ok := ic.methods[fullMethod]; ok {
		return p
	}
	return ic.defaultPolicy
}

// UnaryRecoveryInterceptor turns a handler panic into codes.Internal.
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.String("method", info.FullMethod),
				)
				err = status.Error(grpcCodes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor logs every completed call.
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()
		resp, err := handler(ctx, req)

		ic.log.Info(ctx, "gRPC request completed",
			logger.String("method", info.FullMethod),
			logger.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			logger.String("status", status.Code(err).String()),
		)
		return resp, err
	}
}

// UnaryAuthInterceptor authenticates the caller from metadata. The access token is read from
// "authorization: Bearer <token>", the refresh token from "x-refresh-token". Under FailFast a
// failure answers codes.Unauthenticated without reaching the handler; otherwise the handler
// runs with the identity (possibly anonymous) in its context.
func (ic *InterceptorChain) UnaryAuthInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if ic.isPublic(info.FullMethod) {
			return handler(ctx, req)
		}

		p := ic.policyFor(info.FullMethod)
		decision := ic.orchestrator.Authenticate(ctx, p.Policy, p.TokenType, tokenFromMetadata(ctx, p.TokenType))
		if !decision.Proceed() {
			return nil, status.Errorf(grpcCodes.Unauthenticated, "Invalid %s.", p.TokenType.DisplayName())
		}
		return handler(models.WithIdentity(ctx, decision.Identity), req)
	}
}

func tokenFromMetadata(ctx context.Context, tokenType constants.TokenType) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if tokenType == constants.TokenTypeRefresh {
		if v := md.Get(metadataRefreshToken); len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	v := md.Get(metadataAuthorization)
	if len(v) == 0 {
		return ""
	}
	parts := strings.Fields(v[0])
	if len(parts) != 2 || !strings.EqualFold(parts[0], constants.BearerPrefix) {
		return ""
	}
	return parts[1]
}

// UnaryErrorInterceptor converts AppErrors returned by handlers into gRPC status errors.
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		return resp, toStatus(err)
	}
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		return status.Error(grpcCodes.Internal, "internal server error")
	}

	switch appErr.HTTPStatus() {
	case 400:
		return status.Error(grpcCodes.InvalidArgument, appErr.Message)
	case 401:
		return status.Error(grpcCodes.Unauthenticated, appErr.Message)
	case 403:
		return status.Error(grpcCodes.PermissionDenied, appErr.Message)
	case 409:
		return status.Error(grpcCodes.Aborted, appErr.Message)
	case 503:
		return status.Error(grpcCodes.Unavailable, appErr.Message)
	default:
		return status.Error(grpcCodes.Internal, "internal server error")
	}
}

// ChainUnaryInterceptors returns all interceptors as a server option, outermost first.
func (ic *InterceptorChain) ChainUnaryInterceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		ic.UnaryRecoveryInterceptor(), // 1. recover panics
		ic.UnaryLoggingInterceptor(),  // 2. log
		ic.UnaryAuthInterceptor(),     // 3. authenticate
		ic.UnaryErrorInterceptor(),    // 4. map domain errors
	)
}

//Personal.AI order the ending
