// Package auth provides credential extraction and verification for the
// authorization service: API keys presented in headers or query
// parameters, and HMAC-signed request envelopes with replay protection.
package auth

import "strings"

// Default extraction locations.
const (
	// DefaultHeaderName is the header checked for credentials.
	DefaultHeaderName = "Authorization"

	// DefaultQueryParamName is the query parameter checked as a fallback.
	DefaultQueryParamName = "api_key"
)

// Authorization scheme prefixes.
const (
	schemeBearer = "bearer "
	schemeAPIKey = "apikey "
	schemeHMAC   = "hmac "
)

// Extractor pulls API keys out of request headers and query parameters.
type Extractor struct {
	headerName     string
	queryParamName string
}

// ExtractorOption is a functional option for the extractor.
type ExtractorOption func(*Extractor)

// WithHeaderName overrides the header checked for credentials.
func WithHeaderName(name string) ExtractorOption {
	return func(e *Extractor) {
		e.headerName = name
	}
}

// WithQueryParamName overrides the query parameter checked as a fallback.
func WithQueryParamName(name string) ExtractorOption {
	return func(e *Extractor) {
		e.queryParamName = name
	}
}

// NewExtractor creates a credential extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		headerName:     DefaultHeaderName,
		queryParamName: DefaultQueryParamName,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsHMACHeader reports whether an authorization header value carries an
// HMAC-signed envelope rather than an API key.
func IsHMACHeader(value string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(value)), schemeHMAC)
}

// Extract returns the API key presented in the request, or an empty
// string if none was found. The header takes priority over the query
// parameter. An HMAC envelope in the header is not an API key and is
// skipped, deferring to the HMAC verification path.
func (e *Extractor) Extract(headers map[string]string, queryParams map[string][]string) string {
	if key := e.ExtractFromHeader(headers); key != "" {
		return key
	}
	return e.ExtractFromQuery(queryParams)
}

// ExtractFromHeader returns the API key carried in the configured header,
// stripping a Bearer or ApiKey prefix. Header name matching is
// case-insensitive.
func (e *Extractor) ExtractFromHeader(headers map[string]string) string {
	var value string
	for name, v := range headers {
		if strings.EqualFold(name, e.headerName) {
			value = v
			break
		}
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	lower := strings.ToLower(value)
	switch {
	case strings.HasPrefix(lower, schemeBearer):
		return strings.TrimSpace(value[len(schemeBearer):])
	case strings.HasPrefix(lower, schemeAPIKey):
		return strings.TrimSpace(value[len(schemeAPIKey):])
	case strings.HasPrefix(lower, schemeHMAC):
		return ""
	}

	// A bare value is treated as the key itself.
	return value
}

// ExtractFromQuery returns the API key carried in the configured query
// parameter. Parameter name matching is case-insensitive; for repeated
// parameters the first value is used.
func (e *Extractor) ExtractFromQuery(queryParams map[string][]string) string {
	for name, values := range queryParams {
		if !strings.EqualFold(name, e.queryParamName) {
			continue
		}
		if len(values) == 0 {
			return ""
		}
		return strings.TrimSpace(values[0])
	}
	return ""
}
