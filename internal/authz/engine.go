package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vyrodovalexey/gatekeeper/internal/auth"
	"github.com/vyrodovalexey/gatekeeper/internal/model"
	"github.com/vyrodovalexey/gatekeeper/internal/observability"
	"github.com/vyrodovalexey/gatekeeper/internal/routing"
	"github.com/vyrodovalexey/gatekeeper/internal/store"
)

// Request carries the request metadata the engine decides on.
type Request struct {
	// Path is the request path, without query string.
	Path string

	// Method is the HTTP method.
	Method model.HTTPMethod

	// Domain is the request host, empty when unknown.
	Domain string

	// Headers holds the request headers. Lookup is case-insensitive.
	Headers map[string]string

	// Body is the raw request body, empty for bodyless methods.
	Body string

	// QueryParams holds the parsed query parameters.
	QueryParams map[string][]string
}

// ClientSource resolves clients by API key. It is implemented by the
// storage layer.
type ClientSource interface {
	ClientByAPIKey(ctx context.Context, apiKey string) (*model.Client, error)
}

// RateLimiter is the rate limiting contract consumed by the engine.
type RateLimiter interface {
	// Allow reports whether the client is within its request cap. The
	// error return is non-nil only for collaborator failures.
	Allow(ctx context.Context, clientID string) (bool, error)
}

// Engine is the authorization decision engine. It composes route
// matching, method policy resolution, credential verification, client
// status and permission checks and rate limiting into a linear pipeline
// with early exit at the first applicable deny.
type Engine struct {
	matcher     *routing.Matcher
	verifier    *auth.Verifier
	extractor   *auth.Extractor
	clients     ClientSource
	permissions *PermissionChecker
	limiter     RateLimiter
	logger      observability.Logger
	metrics     *observability.Metrics
}

// EngineOption is a functional option for the engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(logger observability.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineMetrics sets the metrics.
func WithEngineMetrics(metrics *observability.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithRateLimiter enables rate limiting. Without it the engine skips the
// rate limit step entirely.
func WithRateLimiter(limiter RateLimiter) EngineOption {
	return func(e *Engine) {
		e.limiter = limiter
	}
}

// WithExtractor overrides the credential extractor.
func WithExtractor(extractor *auth.Extractor) EngineOption {
	return func(e *Engine) {
		e.extractor = extractor
	}
}

// NewEngine creates an authorization engine.
func NewEngine(
	matcher *routing.Matcher,
	verifier *auth.Verifier,
	clients ClientSource,
	permissions *PermissionChecker,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		matcher:     matcher,
		verifier:    verifier,
		extractor:   auth.NewExtractor(),
		clients:     clients,
		permissions: permissions,
		logger:      observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize decides whether a request may proceed. Policy denials are
// returned as a Result with Allowed false and a reason code; a non-nil
// error indicates a collaborator failure and the caller must fail
// closed. An error is never paired with an allow.
func (e *Engine) Authorize(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	result, err := e.decide(ctx, req)
	e.observe(req, result, err, time.Since(start))
	return result, err
}

// decide runs the decision pipeline.
func (e *Engine) decide(ctx context.Context, req *Request) (*Result, error) {
	route, err := e.matcher.FindBestMatch(ctx, req.Path, req.Domain)
	if err != nil {
		return nil, err
	}
	if route == nil {
		return deny(ReasonNoRouteMatch), nil
	}

	policy, ok := route.Policy(req.Method)
	if !ok {
		result := deny(ReasonMethodNotConfigured)
		result.MatchedRouteID = route.ID
		return result, nil
	}

	if !policy.AuthRequired {
		return allowPublic(route.ID), nil
	}

	client, err := e.authenticate(ctx, req)
	if err != nil {
		return nil, err
	}
	if client == nil {
		result := deny(ReasonInvalidCredentials)
		result.MatchedRouteID = route.ID
		return result, nil
	}

	if !client.IsActive() {
		result := deny(statusReason(client.Status))
		result.ClientID = client.ID
		result.ClientName = client.Name
		result.MatchedRouteID = route.ID
		return result, nil
	}

	allowed, reason, err := e.permissions.Check(ctx, client.ID, route.ID, req.Method)
	if err != nil {
		return nil, err
	}
	if !allowed {
		result := deny(reason)
		result.ClientID = client.ID
		result.ClientName = client.Name
		result.MatchedRouteID = route.ID
		return result, nil
	}

	if e.limiter != nil {
		withinCap, err := e.limiter.Allow(ctx, client.ID)
		if err != nil {
			return nil, err
		}
		if !withinCap {
			result := deny(ReasonRateLimitExceeded)
			result.ClientID = client.ID
			result.ClientName = client.Name
			result.MatchedRouteID = route.ID
			return result, nil
		}
	}

	return &Result{
		Allowed:        true,
		Reason:         ReasonAuthenticated,
		ClientID:       client.ID,
		ClientName:     client.Name,
		MatchedRouteID: route.ID,
	}, nil
}

// authenticate resolves the request's credentials to a client. An HMAC
// envelope in the credential header is always attempted first; only when
// absent is API key extraction tried. A nil client with a nil error
// means the credentials did not authenticate.
func (e *Engine) authenticate(ctx context.Context, req *Request) (*model.Client, error) {
	authHeader := headerLookup(req.Headers, auth.DefaultHeaderName)

	if auth.IsHMACHeader(authHeader) {
		client, err := e.verifier.Authenticate(ctx, authHeader, string(req.Method), req.Path, req.Body)
		if err != nil {
			if auth.IsVerificationFailure(err) {
				e.logger.Debug("hmac verification failed", observability.Error(err))
				return nil, nil
			}
			return nil, err
		}
		return client, nil
	}

	apiKey := e.extractor.Extract(req.Headers, req.QueryParams)
	if apiKey == "" {
		return nil, nil
	}

	client, err := e.clients.ClientByAPIKey(ctx, apiKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("client lookup: %w", err)
	}
	return client, nil
}

// statusReason encodes a non-active client status as a reason code.
func statusReason(status model.ClientStatus) string {
	switch status {
	case model.ClientStatusRevoked:
		return ReasonClientRevoked
	default:
		return ReasonClientSuspended
	}
}

// headerLookup finds a header value case-insensitively.
func headerLookup(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// observe records metrics and logs for a decision.
func (e *Engine) observe(req *Request, result *Result, err error, duration time.Duration) {
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordAuthError("internal")
		}
		e.logger.Error("authorization error",
			observability.String("path", req.Path),
			observability.String("method", string(req.Method)),
			observability.Error(err),
			observability.Duration("duration", duration),
		)
		return
	}

	outcome := "denied"
	if result.Allowed {
		outcome = "allowed"
	}
	if e.metrics != nil {
		e.metrics.RecordAuthRequest(outcome, result.Reason, string(req.Method), duration)
	}

	fields := []observability.Field{
		observability.String("path", req.Path),
		observability.String("method", string(req.Method)),
		observability.Bool("allowed", result.Allowed),
		observability.String("reason", result.Reason),
		observability.Duration("duration", duration),
	}
	if result.ClientID != "" {
		fields = append(fields, observability.String("client_id", result.ClientID))
	}
	if result.Allowed {
		e.logger.Info("authorization decision", fields...)
	} else {
		e.logger.Warn("authorization denied", fields...)
	}
}
