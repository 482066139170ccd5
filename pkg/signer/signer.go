// Package signer builds signed authorization headers for clients
// calling services protected by the authorization engine. It is
// self-contained so client programs only depend on it.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scheme is the authorization scheme emitted by the signer.
const Scheme = "HMAC"

// ErrMissingCredentials is returned when the signer lacks a client ID
// or shared secret.
var ErrMissingCredentials = errors.New("signer: client id and secret are required")

// Signer produces signed request envelopes for one client.
type Signer struct {
	clientID string
	secret   string
	now      func() time.Time
	nonce    func() string
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// WithNonceSource overrides the nonce generator. Intended for tests.
func WithNonceSource(nonce func() string) Option {
	return func(s *Signer) {
		s.nonce = nonce
	}
}

// New creates a Signer for the given client credentials.
func New(clientID, secret string, opts ...Option) (*Signer, error) {
	if clientID == "" || secret == "" {
		return nil, ErrMissingCredentials
	}
	s := &Signer{
		clientID: clientID,
		secret:   secret,
		now:      time.Now,
		nonce:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Header returns the Authorization header value for a request with the
// given method, path and body. Each call uses a fresh nonce, so a
// header must not be reused across requests.
func (s *Signer) Header(method, path, body string) string {
	timestamp := s.now().Unix()
	nonce := s.nonce()
	signature := Sign(s.secret, method, path, timestamp, nonce, body)

	return fmt.Sprintf(`%s client_id="%s",timestamp="%d",nonce="%s",signature="%s"`,
		Scheme, s.clientID, timestamp, nonce, signature)
}

// SignRequest sets the Authorization header on an http.Request. The
// body must be passed explicitly because the request body reader cannot
// be consumed here.
func (s *Signer) SignRequest(req *http.Request, body string) {
	req.Header.Set("Authorization", s.Header(req.Method, req.URL.Path, body))
}

// Sign computes the hex-encoded HMAC-SHA256 signature over the
// canonical request representation.
func Sign(secret, method, path string, timestamp int64, nonce, body string) string {
	message := strings.Join([]string{
		strings.ToUpper(method),
		path,
		fmt.Sprintf("%d", timestamp),
		nonce,
		body,
	}, "\n")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
