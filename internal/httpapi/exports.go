package httpapi

import (
	"errors"
	"net/http"

	"authority.dev/internal/attest"
	"authority.dev/internal/audit"
)

const keyIDHeader = "X-Attestation-Key-Id"

// handleAttestExport signs a JSON export and returns it in canonical form
// with its attestation member.
func (a *API) handleAttestExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	doc, err := readDocument(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	out, block, err := a.attester.Attach(doc)
	if err != nil {
		switch {
		case errors.Is(err, attest.ErrSigningUnavailable):
			writeError(w, r, http.StatusServiceUnavailable, "signing unavailable")
		case errors.Is(err, attest.ErrInvalidJSON):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			handleAccessError(w, r, err)
		}
		return
	}

	_, tenant := operator(r)
	_ = audit.LogEvent(r.Context(), "export.attested", map[string]any{
		"tenant_id":      tenant,
		"hash":           block.Hash,
		"signing_key_id": block.SigningKeyID,
	})

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set(keyIDHeader, block.SigningKeyID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// handleVerifyExport checks an attested document. Tampering is reported in
// the body with 200; 400 means the document could not be evaluated.
func (a *API) handleVerifyExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	doc, err := readDocument(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if a.keys == nil {
		writeError(w, r, http.StatusServiceUnavailable, "verification keys unavailable")
		return
	}
	res := attest.VerifyDocument(doc, a.keys)
	code := http.StatusOK
	if !res.OK {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, res)
}

func (a *API) handleAttestationHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.keys == nil {
		writeJSON(w, http.StatusOK, map[string]any{"canAttest": false, "warnings": []string{"no key registry configured"}})
		return
	}
	h := a.keys.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"canAttest":     a.keys.CanAttest(),
		"activeKeyId":   h.ActiveKeyID,
		"hasPrivateKey": h.HasPrivateKey,
		"publicKeyIds":  h.PublicKeyIDs,
		"warnings":      h.Warnings,
	})
}
