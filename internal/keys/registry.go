// Package keys resolves attestation signing keys from configuration.
//
// Key material is read from the environment and an optional YAML key file,
// never from the grant database. The first read is cached; Invalidate forces
// the next call to read configuration again.
package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"authority.dev/internal/attest"
)

const (
	EnvActiveKeyID = "AUTHORITY_SIGNING_KEY_ID"
	EnvPrivateKey  = "AUTHORITY_SIGNING_PRIVATE_KEY"
	EnvPublicKeys  = "AUTHORITY_SIGNING_PUBLIC_KEYS"
	EnvKeysFile    = "AUTHORITY_SIGNING_KEYS_FILE"
)

// Health summarizes the registry state for operators.
type Health struct {
	ActiveKeyID   string   `json:"activeKeyId"`
	HasPrivateKey bool     `json:"hasPrivateKey"`
	PublicKeyIDs  []string `json:"publicKeyIds"`
	Warnings      []string `json:"warnings"`
}

// File is the on-disk YAML layout of AUTHORITY_SIGNING_KEYS_FILE.
type File struct {
	ActiveKeyID   string            `yaml:"active_key_id"`
	PrivateKeyPEM string            `yaml:"private_key_pem"`
	PublicKeys    map[string]string `yaml:"public_keys"`
}

type snapshot struct {
	activeKeyID string
	privatePEM  string
	hasPrivate  bool
	publicKeys  map[string]string
	canAttest   bool
	warnings    []string
}

// Registry serves the active signing key and the verification key set.
type Registry struct {
	lookup func(string) (string, bool)

	mu   sync.Mutex
	snap *snapshot
}

// Option configures Registry.
type Option func(*Registry)

// WithLookup replaces os.LookupEnv as the configuration source.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(r *Registry) {
		if fn != nil {
			r.lookup = fn
		}
	}
}

// NewRegistry constructs a Registry reading from the process environment.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invalidate drops the cached configuration.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = nil
}

// ActiveKeyID returns the id of the key used for new attestations.
func (r *Registry) ActiveKeyID() string { return r.load().activeKeyID }

// PrivateKeyPEM returns the active private key PEM, or "" when unset.
func (r *Registry) PrivateKeyPEM() string { return r.load().privatePEM }

// PublicKey returns the PEM public key for keyID.
func (r *Registry) PublicKey(keyID string) (string, bool) {
	pemData, ok := r.load().publicKeys[strings.TrimSpace(keyID)]
	return pemData, ok
}

// PublicKeyIDs lists the ids usable for verification, sorted.
func (r *Registry) PublicKeyIDs() []string {
	snap := r.load()
	out := make([]string, 0, len(snap.publicKeys))
	for kid := range snap.publicKeys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

// CanAttest reports whether the active key id, its private key and its
// published public key are all present and consistent.
func (r *Registry) CanAttest() bool { return r.load().canAttest }

// Health reports the registry state, including misconfiguration warnings.
func (r *Registry) Health() Health {
	snap := r.load()
	warnings := make([]string, len(snap.warnings))
	copy(warnings, snap.warnings)
	return Health{
		ActiveKeyID:   snap.activeKeyID,
		HasPrivateKey: snap.hasPrivate,
		PublicKeyIDs:  r.PublicKeyIDs(),
		Warnings:      warnings,
	}
}

func (r *Registry) load() *snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		r.snap = r.read()
	}
	return r.snap
}

func (r *Registry) read() *snapshot {
	var (
		file     File
		warnings []string
	)
	if path := r.env(EnvKeysFile); path != "" {
		loaded, err := readKeyFile(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("key file %s: %v", path, err))
		} else {
			file = loaded
		}
	}

	activeKeyID := strings.TrimSpace(file.ActiveKeyID)
	if v := r.env(EnvActiveKeyID); v != "" {
		activeKeyID = v
	}
	privatePEM := normalizePEM(file.PrivateKeyPEM)
	if v := r.env(EnvPrivateKey); v != "" {
		privatePEM = normalizePEM(v)
	}

	candidates := make(map[string]string, len(file.PublicKeys))
	for kid, pemData := range file.PublicKeys {
		candidates[strings.TrimSpace(kid)] = normalizePEM(pemData)
	}
	if raw := r.env(EnvPublicKeys); raw != "" {
		var fromEnv map[string]string
		if err := json.Unmarshal([]byte(raw), &fromEnv); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s is not a JSON object of key id to PEM: %v", EnvPublicKeys, err))
		}
		for kid, pemData := range fromEnv {
			candidates[strings.TrimSpace(kid)] = normalizePEM(pemData)
		}
	}

	publicKeys := make(map[string]string, len(candidates))
	parsed := make(map[string]ed25519.PublicKey, len(candidates))
	kids := make([]string, 0, len(candidates))
	for kid := range candidates {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	for _, kid := range kids {
		if kid == "" {
			warnings = append(warnings, "public key with empty id ignored")
			continue
		}
		pub, err := attest.ParsePublicKeyPEM(candidates[kid])
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("public key %s is invalid: %v", kid, err))
			continue
		}
		publicKeys[kid] = candidates[kid]
		parsed[kid] = pub
	}

	snap := &snapshot{
		activeKeyID: activeKeyID,
		privatePEM:  privatePEM,
		hasPrivate:  privatePEM != "",
		publicKeys:  publicKeys,
	}

	if activeKeyID == "" {
		warnings = append(warnings, EnvActiveKeyID+" is not set; new exports cannot be attested")
	}
	var priv ed25519.PrivateKey
	if privatePEM == "" {
		warnings = append(warnings, "signing private key is not configured")
	} else {
		key, err := attest.ParsePrivateKeyPEM(privatePEM)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("signing private key is invalid: %v", err))
		} else {
			priv = key
		}
	}

	consistent := false
	if activeKeyID != "" {
		pub, published := parsed[activeKeyID]
		switch {
		case !published:
			warnings = append(warnings, fmt.Sprintf("active key %s is missing from the public key set", activeKeyID))
		case priv != nil && !bytes.Equal(priv.Public().(ed25519.PublicKey), pub):
			warnings = append(warnings, fmt.Sprintf("public key %s does not match the signing private key", activeKeyID))
		case priv != nil:
			consistent = true
		}
	}
	snap.canAttest = consistent
	snap.warnings = warnings
	return snap
}

func (r *Registry) env(key string) string {
	v, ok := r.lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Marshal encodes f as YAML.
func (f File) Marshal() ([]byte, error) { return yaml.Marshal(f) }

func readKeyFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var kf File
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return File{}, err
	}
	return kf, nil
}

// normalizePEM accepts PEM blocks whose newlines were escaped for env files.
func normalizePEM(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "\n") && strings.Contains(s, `\n`) {
		s = strings.ReplaceAll(s, `\n`, "\n")
	}
	return s
}
