package attest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
)

func mustKeys(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey, string, string) {
	t.Helper()
	privPEM, pubPEM, err := GenerateKeyPEM()
	if err != nil {
		t.Fatalf("GenerateKeyPEM: %v", err)
	}
	priv, err := ParsePrivateKeyPEM(privPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKeyPEM: %v", err)
	}
	pub, err := ParsePublicKeyPEM(pubPEM)
	if err != nil {
		t.Fatalf("ParsePublicKeyPEM: %v", err)
	}
	return priv, pub, privPEM, pubPEM
}

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("record pack"))
	b := Hash([]byte("record pack"))
	if a != b {
		t.Fatalf("hash not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Fatalf("expected 64 lower-case hex chars, got %q", a)
	}
	if Hash([]byte("record pacK")) == a {
		t.Fatalf("different inputs must hash differently")
	}
	// Known vector: SHA-256 of the empty string.
	if got := Hash(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty hash %s", got)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, _, _ := mustKeys(t)
	_, otherPub, _, _ := mustKeys(t)
	hash := Hash([]byte(`{"a":1}`))

	sig, err := Sign(hash, priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(hash, sig, pub) {
		t.Fatalf("expected signature to verify")
	}
	if Verify(hash, sig, otherPub) {
		t.Fatalf("signature verified with unrelated key")
	}
	if Verify(Hash([]byte(`{"a":2}`)), sig, pub) {
		t.Fatalf("signature verified for a different hash")
	}

	raw, _ := base64.StdEncoding.DecodeString(sig)
	raw[0] ^= 0xff
	if Verify(hash, base64.StdEncoding.EncodeToString(raw), pub) {
		t.Fatalf("corrupted signature verified")
	}
	for _, bad := range []string{"", "!!!not-base64!!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if Verify(hash, bad, pub) {
			t.Fatalf("malformed signature %q verified", bad)
		}
	}
	if Verify(hash, sig, nil) {
		t.Fatalf("nil key must not verify")
	}
}

// Signatures cover the hex text of the digest. A verifier that signs or checks
// the raw 32-byte digest must not interoperate.
func TestSignatureCoversHexText(t *testing.T) {
	priv, pub, _, _ := mustKeys(t)
	payload := []byte(`{"bundle":"evidence-1"}`)
	hash := Hash(payload)

	sig, err := Sign(hash, priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	rawSig, _ := base64.StdEncoding.DecodeString(sig)
	if !ed25519.Verify(pub, []byte(hash), rawSig) {
		t.Fatalf("signature must verify over the UTF-8 hex text")
	}
	digest := sha256.Sum256(payload)
	if ed25519.Verify(pub, digest[:], rawSig) {
		t.Fatalf("signature must not verify over raw digest bytes")
	}
	byteSig := ed25519.Sign(priv, digest[:])
	if Verify(hash, base64.StdEncoding.EncodeToString(byteSig), pub) {
		t.Fatalf("raw-digest signature must be rejected")
	}
}

func TestParsePEMErrors(t *testing.T) {
	_, _, privPEM, pubPEM := mustKeys(t)
	if _, err := ParsePrivateKeyPEM(pubPEM); err == nil {
		t.Fatalf("expected error parsing public PEM as private")
	}
	if _, err := ParsePublicKeyPEM(privPEM); err == nil {
		t.Fatalf("expected error parsing private PEM as public")
	}
	if _, err := ParsePublicKeyPEM("garbage"); err == nil {
		t.Fatalf("expected error for garbage")
	}
	if _, err := Sign("abc", ed25519.PrivateKey("short")); err == nil {
		t.Fatalf("expected error for invalid private key")
	}
}
