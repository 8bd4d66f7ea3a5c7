package attest

import "errors"

var (
	ErrSigningUnavailable = errors.New("attest: signing unavailable")
	ErrInvalidJSON        = errors.New("attest: invalid JSON document")
	ErrNoAttestationBlock = errors.New("attest: document has no attestation block")
	ErrUnknownSigningKey  = errors.New("attest: unknown signing key")
)
