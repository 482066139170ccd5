package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/gatekeeper/internal/authz"
	"github.com/vyrodovalexey/gatekeeper/internal/model"
	"github.com/vyrodovalexey/gatekeeper/internal/observability"
)

// Headers carrying the original request metadata from the reverse proxy
// subrequest, and headers returned to it on an allowed decision.
const (
	OriginalURIHeader    = "X-Original-URI"
	OriginalMethodHeader = "X-Original-Method"
	OriginalHostHeader   = "X-Original-Host"

	AuthClientIDHeader   = "X-Auth-Client-ID"
	AuthClientNameHeader = "X-Auth-Client-Name"
	AuthRouteIDHeader    = "X-Auth-Route-ID"
)

// maxAuthzBodySize bounds the subrequest body read for signature
// verification.
const maxAuthzBodySize = 1 << 20

// readinessTimeout bounds the store ping in the readiness probe.
const readinessTimeout = 5 * time.Second

// errorResponse is the JSON body for request-level failures.
type errorResponse struct {
	Error string `json:"error"`
}

// handleAuthz is the auth subrequest endpoint. The reverse proxy sends
// the original request's metadata in X-Original-* headers; the response
// status is the decision: 200 allows, 403 denies, 400 rejects malformed
// subrequests and 500 signals an internal failure the proxy must treat
// as a denial.
func (s *Server) handleAuthz(c *gin.Context) {
	originalURI := c.GetHeader(OriginalURIHeader)
	if originalURI == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "missing " + OriginalURIHeader + " header"})
		return
	}

	methodValue := c.GetHeader(OriginalMethodHeader)
	if methodValue == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "missing " + OriginalMethodHeader + " header"})
		return
	}
	method, err := model.ParseHTTPMethod(methodValue)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unsupported method: " + methodValue})
		return
	}

	parsed, err := url.ParseRequestURI(originalURI)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed " + OriginalURIHeader + " header"})
		return
	}

	domain := stripPort(c.GetHeader(OriginalHostHeader))

	body := ""
	if c.Request.Body != nil {
		// Read one byte past the limit so an oversized body is
		// rejected rather than silently truncated into a signature
		// mismatch.
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAuthzBodySize+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
			return
		}
		if len(raw) > maxAuthzBodySize {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "request body exceeds limit"})
			return
		}
		body = string(raw)
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	req := &authz.Request{
		Path:        parsed.Path,
		Method:      method,
		Domain:      domain,
		Headers:     headers,
		Body:        body,
		QueryParams: parsed.Query(),
	}

	result, err := s.authorizer.Authorize(c.Request.Context(), req)
	if err != nil {
		// Fail closed: the caller must treat this as a denial.
		s.logger.Error("authorization failed",
			observability.String("request_id", observability.RequestIDFromContext(c.Request.Context())),
			observability.String("path", req.Path),
			observability.Error(err),
		)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	if !result.Allowed {
		c.JSON(http.StatusForbidden, result)
		return
	}

	if result.ClientID != "" {
		c.Header(AuthClientIDHeader, result.ClientID)
	}
	if result.ClientName != "" {
		c.Header(AuthClientNameHeader, result.ClientName)
	}
	if result.MatchedRouteID != "" {
		c.Header(AuthRouteIDHeader, result.MatchedRouteID)
	}
	c.JSON(http.StatusOK, result)
}

// stripPort drops the port from a forwarded host value. IPv6 literals
// like [::1]:8080 are handled; a bare host passes through unchanged.
func stripPort(host string) string {
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	// No port. Unbracket a bare IPv6 literal for consistency.
	return strings.Trim(host, "[]")
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReady is the readiness probe. It reports unready while the
// backing store is unreachable.
func (s *Server) handleReady(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", observability.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// handleUsage reports a client's current consumption against its cap.
func (s *Server) handleUsage(c *gin.Context) {
	clientID := c.Param("client_id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "missing client id"})
		return
	}

	usage, err := s.limiter.Usage(c.Request.Context(), clientID)
	if err != nil {
		s.logger.Error("usage lookup failed",
			observability.String("client_id", clientID),
			observability.Error(err),
		)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, usage)
}
