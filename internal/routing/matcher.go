// Package routing matches request paths and domains against configured
// routes and ranks candidates by specificity.
package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vyrodovalexey/gatekeeper/internal/model"
	"github.com/vyrodovalexey/gatekeeper/internal/observability"
)

// Domain specificity scores, lower is more specific.
const (
	domainScoreExact    = 0
	domainScoreWildcard = 1
	domainScoreAny      = 2
)

// RouteSource lists the configured routes. It is implemented by the
// storage layer.
type RouteSource interface {
	AllRoutes(ctx context.Context) ([]*model.Route, error)
}

// Matcher finds the most specific route for a request.
type Matcher struct {
	routes RouteSource
	logger observability.Logger
}

// MatcherOption is a functional option for the matcher.
type MatcherOption func(*Matcher)

// WithMatcherLogger sets the logger.
func WithMatcherLogger(logger observability.Logger) MatcherOption {
	return func(m *Matcher) {
		m.logger = logger
	}
}

// NewMatcher creates a route matcher.
func NewMatcher(routes RouteSource, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		routes: routes,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindBestMatch returns the most specific route matching the path and
// domain, or nil if no route matches. The domain may be empty when the
// caller has no host information; only any-domain routes match then.
func (m *Matcher) FindBestMatch(ctx context.Context, path, domain string) (*model.Route, error) {
	routes, err := m.routes.AllRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("route lookup: %w", err)
	}

	var candidates []*model.Route
	for _, route := range routes {
		if route.MatchesPath(path) && route.MatchesDomain(domain) {
			candidates = append(candidates, route)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	best := SelectBest(candidates)

	m.logger.Debug("route matched",
		observability.String("path", path),
		observability.String("domain", domain),
		observability.String("route_id", best.ID),
		observability.String("pattern", best.PathPattern),
		observability.Int("candidates", len(candidates)),
	)
	return best, nil
}

// SelectBest ranks candidates and returns the most specific one.
// Ordering, most specific first: domain specificity (exact, then
// wildcard-subdomain, then any-domain), path specificity (exact over
// wildcard), then longest wildcard pattern. Remaining ties break by
// lexicographic pattern order and finally route ID, so selection is
// deterministic regardless of storage return order.
func SelectBest(candidates []*model.Route) *model.Route {
	if len(candidates) == 1 {
		return candidates[0]
	}

	sorted := append([]*model.Route(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]

		da, db := domainScore(a.DomainPattern), domainScore(b.DomainPattern)
		if da != db {
			return da < db
		}

		pa, pb := pathScore(a), pathScore(b)
		if pa != pb {
			return pa < pb
		}

		if len(a.PathPattern) != len(b.PathPattern) {
			return len(a.PathPattern) > len(b.PathPattern)
		}

		if a.PathPattern != b.PathPattern {
			return a.PathPattern < b.PathPattern
		}
		return a.ID < b.ID
	})
	return sorted[0]
}

// domainScore scores a domain pattern by specificity.
func domainScore(pattern string) int {
	switch {
	case pattern == "*":
		return domainScoreAny
	case strings.HasPrefix(pattern, "*."):
		return domainScoreWildcard
	default:
		return domainScoreExact
	}
}

// pathScore scores a path pattern: exact patterns beat wildcards.
func pathScore(route *model.Route) int {
	if route.IsWildcard() {
		return 1
	}
	return 0
}
