// Package authz implements the authorization decision engine: route
// matching, method policy resolution, credential verification, client
// status and permission checks, and rate limiting, composed into a
// single allow/deny decision.
package authz

// Reason codes for authorization decisions. These are machine-readable
// and surface to the caller as the decision's reason field.
const (
	// ReasonNoRouteMatch means no configured route matches the request.
	ReasonNoRouteMatch = "no_route_match"

	// ReasonMethodNotConfigured means the matched route has no policy for
	// the requested method.
	ReasonMethodNotConfigured = "method_not_configured"

	// ReasonNoAuthRequired means the method is public.
	ReasonNoAuthRequired = "no_auth_required"

	// ReasonInvalidCredentials means no presented credential authenticated.
	ReasonInvalidCredentials = "invalid_credentials"

	// ReasonClientSuspended means the client is suspended.
	ReasonClientSuspended = "client_suspended"

	// ReasonClientRevoked means the client is revoked.
	ReasonClientRevoked = "client_revoked"

	// ReasonNoPermission means the client holds no grant on the route.
	ReasonNoPermission = "no_permission"

	// ReasonMethodNotAllowed means the grant does not cover the method.
	ReasonMethodNotAllowed = "method_not_allowed"

	// ReasonRateLimitExceeded means the client exhausted its request cap.
	ReasonRateLimitExceeded = "rate_limit_exceeded"

	// ReasonAuthenticated means all checks passed.
	ReasonAuthenticated = "authenticated"
)

// Result is the outcome of an authorization decision.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool `json:"allowed"`

	// Reason is the machine-readable reason code for the decision.
	Reason string `json:"reason"`

	// ClientID identifies the authenticated client, if any.
	ClientID string `json:"client_id,omitempty"`

	// ClientName is the authenticated client's display name, if any.
	ClientName string `json:"client_name,omitempty"`

	// MatchedRouteID identifies the route the request matched, if any.
	MatchedRouteID string `json:"matched_route_id,omitempty"`
}

// deny builds a denial result.
func deny(reason string) *Result {
	return &Result{Allowed: false, Reason: reason}
}

// allowPublic builds an allow result for a public method. No client
// identity is attached.
func allowPublic(routeID string) *Result {
	return &Result{Allowed: true, Reason: ReasonNoAuthRequired, MatchedRouteID: routeID}
}
