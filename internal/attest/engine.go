// Package attest signs exported documents and verifies them later.
//
// A document's attestation block covers the canonical encoding of the
// document without its "attestation" member. Verification strips the block,
// re-canonicalizes the remainder and compares hashes before checking the
// Ed25519 signature with the key named in the block.
package attest

import (
	"fmt"
	"time"

	"authority.dev/internal/canon"
	"authority.dev/internal/obs"
)

const (
	// Field is the reserved document member carrying the block.
	Field = "attestation"
	// ScopeHash is the only signature scope currently issued.
	ScopeHash = "hash"

	signedAtLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Block is the signed proof attached to an export.
type Block struct {
	Hash           string `json:"hash"`
	Signature      string `json:"signature"`
	SigningKeyID   string `json:"signing_key_id"`
	SignedAt       string `json:"signed_at"`
	SignatureScope string `json:"signature_scope"`
}

// Signer exposes the active signing material.
type Signer interface {
	CanAttest() bool
	ActiveKeyID() string
	PrivateKeyPEM() string
}

// Engine builds attestation blocks with the signer's active key.
type Engine struct {
	signer Signer
	now    func() time.Time
}

// Option configures Engine.
type Option func(*Engine)

// WithClock overrides the signing timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs an Engine.
func NewEngine(signer Signer, opts ...Option) *Engine {
	e := &Engine{signer: signer, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CanAttest reports whether Build can currently succeed.
func (e *Engine) CanAttest() bool {
	return e != nil && e.signer != nil && e.signer.CanAttest()
}

// Build signs the canonical form of payload.
func (e *Engine) Build(payload any) (Block, error) {
	if !e.CanAttest() {
		return Block{}, ErrSigningUnavailable
	}
	keyID := e.signer.ActiveKeyID()
	key, err := ParsePrivateKeyPEM(e.signer.PrivateKeyPEM())
	if err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	canonical, err := canon.Marshal(payload)
	if err != nil {
		return Block{}, err
	}
	hash := Hash(canonical)
	sig, err := Sign(hash, key)
	if err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	obs.Attestations.WithLabelValues("built").Inc()
	return Block{
		Hash:           hash,
		Signature:      sig,
		SigningKeyID:   keyID,
		SignedAt:       e.now().UTC().Format(signedAtLayout),
		SignatureScope: ScopeHash,
	}, nil
}

// Attach signs document (a JSON object) and returns its canonical bytes with
// the attestation member set. An existing attestation member is replaced.
func (e *Engine) Attach(document []byte) ([]byte, Block, error) {
	value, err := canon.Decode(document)
	if err != nil {
		return nil, Block{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	doc, ok := value.(map[string]any)
	if !ok {
		return nil, Block{}, fmt.Errorf("%w: top-level value must be an object", ErrInvalidJSON)
	}
	delete(doc, Field)
	block, err := e.Build(doc)
	if err != nil {
		return nil, Block{}, err
	}
	doc[Field] = map[string]any{
		"hash":            block.Hash,
		"signature":       block.Signature,
		"signing_key_id":  block.SigningKeyID,
		"signed_at":       block.SignedAt,
		"signature_scope": block.SignatureScope,
	}
	out, err := canon.Encode(doc)
	if err != nil {
		return nil, Block{}, err
	}
	return out, block, nil
}
