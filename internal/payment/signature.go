package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// DigestScheme selects the hashing primitive of a provider. Digests are
// emitted as lowercase hex and compared case-insensitively.
type DigestScheme int

const (
	// SchemeHMACSHA256 is HMAC-SHA256 keyed by the secret over
	// "secret&v1&v2...".
	SchemeHMACSHA256 DigestScheme = iota
	// SchemeSHA256 is a plain SHA-256 over "secret&v1&v2...".
	SchemeSHA256
)

// SignatureEngine canonicalises a field set and produces or checks its keyed
// digest. An engine is immutable and safe for concurrent use.
type SignatureEngine struct {
	scheme         DigestScheme
	secret         string
	signatureField string
}

// NewSignatureEngine binds a scheme, a shared secret and the name of the
// field that carries the digest on the wire.
func NewSignatureEngine(scheme DigestScheme, secret, signatureField string) SignatureEngine {
	return SignatureEngine{scheme: scheme, secret: secret, signatureField: signatureField}
}

// SignatureField returns the wire name of the digest field.
func (e SignatureEngine) SignatureField() string { return e.signatureField }

// Configured reports whether the engine holds secret material.
func (e SignatureEngine) Configured() bool { return strings.TrimSpace(e.secret) != "" }

// Canonicalize drops the signature field and blank values, sorts the
// remaining keys bytewise and joins their values with '&', prefixed by the
// secret as first segment.
func (e SignatureEngine) Canonicalize(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if k == e.signatureField || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(e.secret)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(fields[k])
	}
	return b.String()
}

// ComputeDigest returns the hex digest over the canonical form of fields, or
// an empty string when no secret is configured.
func (e SignatureEngine) ComputeDigest(fields map[string]string) string {
	if !e.Configured() {
		return ""
	}
	canonical := e.Canonicalize(fields)
	switch e.scheme {
	case SchemeSHA256:
		sum := sha256.Sum256([]byte(canonical))
		return hex.EncodeToString(sum[:])
	default:
		mac := hmac.New(sha256.New, []byte(e.secret))
		mac.Write([]byte(canonical))
		return hex.EncodeToString(mac.Sum(nil))
	}
}

// VerifyDigest recomputes the digest over fields and compares it with
// provided in constant time. Any malformed input yields false.
func (e SignatureEngine) VerifyDigest(fields map[string]string, provided string) bool {
	expected := e.ComputeDigest(fields)
	provided = strings.TrimSpace(provided)
	if expected == "" || len(provided) != len(expected) {
		return false
	}
	if _, err := hex.DecodeString(provided); err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}

// ComputeDigest signs fields with the HMAC scheme using secret. The
// conventional "signature" key is excluded from the canonical form.
func ComputeDigest(fields map[string]string, secret string) string {
	return NewSignatureEngine(SchemeHMACSHA256, secret, "signature").ComputeDigest(fields)
}

// VerifyDigest is the counterpart of ComputeDigest.
func VerifyDigest(fields map[string]string, providedDigest, secret string) bool {
	return NewSignatureEngine(SchemeHMACSHA256, secret, "signature").VerifyDigest(fields, providedDigest)
}
