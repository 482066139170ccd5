package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vyrodovalexey/gatekeeper/internal/model"
	"github.com/vyrodovalexey/gatekeeper/internal/observability"
	"github.com/vyrodovalexey/gatekeeper/internal/store"
)

// DefaultTimestampTolerance is the accepted clock skew in either
// direction for signed requests.
const DefaultTimestampTolerance = 5 * time.Minute

// attrPattern matches key="value" attributes in the HMAC header.
var attrPattern = regexp.MustCompile(`(\w+)="([^"]*)"`)

// SignedRequest is the parsed content of an HMAC authorization header.
type SignedRequest struct {
	ClientID  string
	Timestamp int64
	Nonce     string
	Signature string
}

// ClientSource resolves client records for HMAC verification. It is
// implemented by the storage layer.
type ClientSource interface {
	ClientByID(ctx context.Context, clientID string) (*model.Client, error)
}

// Verifier validates HMAC-signed request envelopes: header structure,
// timestamp tolerance, nonce replay protection and signature.
type Verifier struct {
	clients   ClientSource
	nonces    NonceStore
	tolerance time.Duration
	logger    observability.Logger
	now       func() time.Time
}

// VerifierOption is a functional option for the verifier.
type VerifierOption func(*Verifier)

// WithTimestampTolerance overrides the accepted clock skew.
func WithTimestampTolerance(tolerance time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.tolerance = tolerance
	}
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(logger observability.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates an HMAC verifier.
func NewVerifier(clients ClientSource, nonces NonceStore, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		clients:   clients,
		nonces:    nonces,
		tolerance: DefaultTimestampTolerance,
		logger:    observability.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ParseHeader parses an HMAC authorization header of the form
//
//	HMAC client_id="<id>",timestamp="<unix-seconds>",nonce="<token>",signature="<hex>"
//
// returning ErrMalformedHeader for any structural defect.
func ParseHeader(header string) (*SignedRequest, error) {
	header = strings.TrimSpace(header)
	if !IsHMACHeader(header) {
		return nil, ErrMalformedHeader
	}
	attrs := header[len(schemeHMAC):]

	fields := make(map[string]string, 4)
	for _, match := range attrPattern.FindAllStringSubmatch(attrs, -1) {
		fields[match[1]] = match[2]
	}

	clientID := fields["client_id"]
	timestampStr := fields["timestamp"]
	nonce := fields["nonce"]
	signature := fields["signature"]
	if clientID == "" || timestampStr == "" || nonce == "" || signature == "" {
		return nil, ErrMalformedHeader
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrMalformedHeader)
	}

	if _, err := hex.DecodeString(signature); err != nil {
		return nil, fmt.Errorf("%w: bad signature encoding", ErrMalformedHeader)
	}

	return &SignedRequest{
		ClientID:  clientID,
		Timestamp: timestamp,
		Nonce:     nonce,
		Signature: signature,
	}, nil
}

// CanonicalMessage builds the string covered by the signature: the
// uppercased method, exact path, timestamp, nonce and raw body joined by
// newlines.
func CanonicalMessage(method, path string, timestamp int64, nonce, body string) string {
	return strings.Join([]string{
		strings.ToUpper(method),
		path,
		strconv.FormatInt(timestamp, 10),
		nonce,
		body,
	}, "\n")
}

// ComputeSignature returns the hex-encoded HMAC-SHA256 digest of the
// canonical message keyed by the shared secret.
func ComputeSignature(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate verifies a signed request envelope. On success it loads
// and returns the full client record so subsequent checks operate on
// live data, not a claim. Every verification failure returns a nil
// client and a sentinel error; there are no partial-trust states.
//
// The nonce is recorded only after all other checks pass, so a request
// that fails verification for unrelated reasons does not burn its nonce.
// The final atomic add closes the replay race under concurrent
// duplicate submissions.
func (v *Verifier) Authenticate(ctx context.Context, authHeader, method, path, body string) (*model.Client, error) {
	signed, err := ParseHeader(authHeader)
	if err != nil {
		return nil, err
	}

	if err := v.checkTimestamp(signed.Timestamp); err != nil {
		return nil, err
	}

	seen, err := v.nonces.Contains(ctx, signed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("nonce check: %w", err)
	}
	if seen {
		return nil, ErrNonceReplayed
	}

	client, err := v.lookupClient(ctx, signed.ClientID)
	if err != nil {
		return nil, err
	}

	message := CanonicalMessage(method, path, signed.Timestamp, signed.Nonce, body)
	expected := ComputeSignature(client.SharedSecret, message)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signed.Signature)) != 1 {
		return nil, ErrSignatureMismatch
	}

	added, err := v.nonces.Add(ctx, signed.Nonce, signed.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("nonce record: %w", err)
	}
	if !added {
		// A concurrent duplicate won the race.
		return nil, ErrNonceReplayed
	}

	return client, nil
}

// checkTimestamp enforces the tolerance window in both directions. The
// comparison stays in whole seconds; converting the skew to a
// time.Duration would overflow for absurd claimed timestamps and let
// them through.
func (v *Verifier) checkTimestamp(timestamp int64) error {
	now := v.now().Unix()
	skew := now - timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew < 0 || skew > int64(v.tolerance/time.Second) {
		return ErrTimestampOutOfRange
	}
	return nil
}

// lookupClient resolves the claimed client and requires a shared secret.
// Storage failures other than "not found" propagate unwrapped so the
// engine can fail closed with an internal error rather than a misleading
// credential denial.
func (v *Verifier) lookupClient(ctx context.Context, clientID string) (*model.Client, error) {
	client, err := v.clients.ClientByID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownClient
	}
	if err != nil {
		return nil, fmt.Errorf("client lookup: %w", err)
	}
	if client.SharedSecret == "" {
		return nil, ErrUnknownClient
	}
	return client, nil
}
