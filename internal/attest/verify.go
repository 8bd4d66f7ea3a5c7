package attest

import (
	"strings"

	"authority.dev/internal/canon"
	"authority.dev/internal/obs"
)

// KeyLookup resolves a signing key id to its PEM-encoded public key.
type KeyLookup interface {
	PublicKey(keyID string) (string, bool)
}

// StaticKeys is a fixed key id to PEM mapping, handy for offline verification.
type StaticKeys map[string]string

// PublicKey implements KeyLookup.
func (s StaticKeys) PublicKey(keyID string) (string, bool) {
	pemData, ok := s[keyID]
	if !ok || strings.TrimSpace(pemData) == "" {
		return "", false
	}
	return pemData, true
}

// Result describes a verification outcome. OK is false only when the input
// could not be evaluated at all; a tampered document is OK with Verified false.
type Result struct {
	OK       bool   `json:"ok"`
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
	KeyID    string `json:"keyId,omitempty"`
}

// VerifyDocument checks the attestation block embedded in document.
func VerifyDocument(document []byte, keys KeyLookup) Result {
	res := verify(document, keys)
	switch {
	case !res.OK:
		obs.Attestations.WithLabelValues("unevaluable").Inc()
	case res.Verified:
		obs.Attestations.WithLabelValues("verified").Inc()
	default:
		obs.Attestations.WithLabelValues("rejected").Inc()
	}
	return res
}

func verify(document []byte, keys KeyLookup) Result {
	value, err := canon.Decode(document)
	if err != nil {
		return Result{Reason: ErrInvalidJSON.Error()}
	}
	doc, ok := value.(map[string]any)
	if !ok {
		return Result{Reason: ErrInvalidJSON.Error()}
	}
	raw, ok := doc[Field]
	if !ok || raw == nil {
		return Result{Reason: ErrNoAttestationBlock.Error()}
	}
	block, reason := parseBlock(raw)
	if reason != "" {
		return Result{OK: true, Reason: reason, KeyID: block.SigningKeyID}
	}

	delete(doc, Field)
	canonical, err := canon.Encode(doc)
	if err != nil {
		return Result{OK: true, Reason: "Cannot canonicalize document: " + err.Error(), KeyID: block.SigningKeyID}
	}
	computed := Hash(canonical)
	if !strings.EqualFold(computed, block.Hash) {
		return Result{
			OK:     true,
			Reason: "Hash mismatch: attested " + block.Hash + ", computed " + computed,
			KeyID:  block.SigningKeyID,
		}
	}

	if keys == nil {
		return Result{OK: true, Reason: ErrUnknownSigningKey.Error() + ": " + block.SigningKeyID, KeyID: block.SigningKeyID}
	}
	pemData, found := keys.PublicKey(block.SigningKeyID)
	if !found {
		return Result{OK: true, Reason: ErrUnknownSigningKey.Error() + ": " + block.SigningKeyID, KeyID: block.SigningKeyID}
	}
	pub, err := ParsePublicKeyPEM(pemData)
	if err != nil {
		return Result{OK: true, Reason: "Invalid public key for " + block.SigningKeyID + ": " + err.Error(), KeyID: block.SigningKeyID}
	}
	if !Verify(block.Hash, block.Signature, pub) {
		return Result{OK: true, Reason: "Signature verification failed", KeyID: block.SigningKeyID}
	}
	return Result{OK: true, Verified: true, KeyID: block.SigningKeyID}
}

func parseBlock(raw any) (Block, string) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Block{}, "Malformed attestation block: not an object"
	}
	var b Block
	fields := []struct {
		name string
		dst  *string
	}{
		{"hash", &b.Hash},
		{"signature", &b.Signature},
		{"signing_key_id", &b.SigningKeyID},
		{"signed_at", &b.SignedAt},
		{"signature_scope", &b.SignatureScope},
	}
	for _, f := range fields {
		v, present := m[f.name]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return b, "Malformed attestation block: " + f.name + " must be a string"
		}
		*f.dst = s
	}
	switch {
	case b.Hash == "":
		return b, "Malformed attestation block: missing hash"
	case b.Signature == "":
		return b, "Malformed attestation block: missing signature"
	case b.SigningKeyID == "":
		return b, "Malformed attestation block: missing signing_key_id"
	}
	if b.SignatureScope == "" {
		b.SignatureScope = ScopeHash
	}
	if b.SignatureScope != ScopeHash {
		return b, "Unsupported signature scope: " + b.SignatureScope
	}
	return b, ""
}
