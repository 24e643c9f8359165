package hrms

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrMissingSignature is returned when a source requires signed
	// webhooks and the request carried no signature header.
	ErrMissingSignature = errors.New("webhook signature required but absent")

	// ErrInvalidSignature is returned when the presented signature does
	// not match the HMAC computed over the raw request body.
	ErrInvalidSignature = errors.New("webhook signature mismatch")

	// ErrNoWebhookSecret is returned when signature verification is
	// attempted for a source with no configured secret.
	ErrNoWebhookSecret = errors.New("no webhook secret configured")
)

// signatureEncoding selects how a source encodes its HMAC digest.
type signatureEncoding int

const (
	encodeHex signatureEncoding = iota
	encodeBase64
)

// encodingFor returns the digest encoding a source uses. SuccessFactors
// sends base64; everything else sends lowercase hex.
func encodingFor(source string) signatureEncoding {
	if source == SourceSuccessFactors {
		return encodeBase64
	}
	return encodeHex
}

// SignBody computes the HMAC-SHA256 signature a source would attach to
// rawBody. Exposed so callers can sign simulated deliveries.
func SignBody(source string, rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	sum := mac.Sum(nil)

	if encodingFor(source) == encodeBase64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

// VerifySignature checks the presented signature against the HMAC-SHA256
// of rawBody under the shared secret. A "sha256=" prefix on the presented
// value is tolerated since several providers prepend the algorithm name.
// Comparison is constant-time.
func VerifySignature(source string, rawBody []byte, signature, secret string) error {
	if secret == "" {
		return ErrNoWebhookSecret
	}
	if signature == "" {
		return ErrMissingSignature
	}

	presented := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	expected := SignBody(source, rawBody, secret)

	if encodingFor(source) == encodeHex {
		// Hex digests compare case-insensitively. Base64 stays exact.
		presented = strings.ToLower(presented)
	}
	if !hmac.Equal([]byte(presented), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}
