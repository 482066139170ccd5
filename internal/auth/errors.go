package auth

import "errors"

// Sentinel errors for authentication operations. All of them resolve to
// "not authenticated" at the engine level; they exist so logs and tests
// can tell verification failures apart.
var (
	// ErrNoCredentials indicates that no credentials were provided.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrMalformedHeader indicates a malformed HMAC authorization header.
	ErrMalformedHeader = errors.New("malformed authorization header")

	// ErrTimestampOutOfRange indicates a timestamp outside the tolerance window.
	ErrTimestampOutOfRange = errors.New("timestamp outside tolerance window")

	// ErrNonceReplayed indicates a nonce that has already been seen.
	ErrNonceReplayed = errors.New("nonce already used")

	// ErrUnknownClient indicates the claimed client does not exist or has
	// no shared secret.
	ErrUnknownClient = errors.New("unknown client or missing shared secret")

	// ErrSignatureMismatch indicates the signature does not match the
	// recomputed value.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// IsVerificationFailure reports whether err is an expected verification
// failure rather than a collaborator failure. Verification failures
// resolve to a credential denial; anything else must surface as an
// internal error so the caller fails closed.
func IsVerificationFailure(err error) bool {
	for _, sentinel := range []error{
		ErrNoCredentials,
		ErrMalformedHeader,
		ErrTimestampOutOfRange,
		ErrNonceReplayed,
		ErrUnknownClient,
		ErrSignatureMismatch,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
