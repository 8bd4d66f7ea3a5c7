// Command exportctl manages attestation keys and signs or verifies exports
// offline, without a running API.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"authority.dev/internal/attest"
	"authority.dev/internal/auth"
	"authority.dev/internal/config"
	"authority.dev/internal/keys"
)

func main() {
	_ = config.LoadEnvFiles()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	var err error
	switch args[0] {
	case "keygen":
		err = runKeygen(args[1:], stdout)
	case "sign":
		err = runSign(args[1:], stdin, stdout)
	case "verify":
		var ok bool
		ok, err = runVerify(args[1:], stdin, stdout)
		if err == nil && !ok {
			return 1
		}
	case "health":
		err = runHealth(args[1:], stdout)
	case "operator-token":
		err = runOperatorToken(args[1:], stdout)
	case "-h", "--help", "help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: exportctl <command> [flags]

commands:
  keygen          generate an Ed25519 signing key (YAML key file or env lines)
  sign            attest a JSON export read from --in or stdin
  verify          check an attested export; exit 1 when it does not verify
  health          report signing key configuration
  operator-token  mint an operator bearer token (needs AUTHORITY_OPERATOR_SECRET)`)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	kid := fs.String("kid", "", "key id (default: k<YYYYMMDD>)")
	format := fs.String("format", "yaml", "output format: yaml or env")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kid == "" {
		*kid = "k" + time.Now().UTC().Format("20060102")
	}
	priv, pub, err := attest.GenerateKeyPEM()
	if err != nil {
		return err
	}

	switch *format {
	case "yaml":
		data, err := keys.File{
			ActiveKeyID:   *kid,
			PrivateKeyPEM: priv,
			PublicKeys:    map[string]string{*kid: pub},
		}.Marshal()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	case "env":
		pubs, err := json.Marshal(map[string]string{*kid: pub})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s=%s\n", keys.EnvActiveKeyID, *kid)
		fmt.Fprintf(out, "%s=%q\n", keys.EnvPrivateKey, priv)
		fmt.Fprintf(out, "%s=%s\n", keys.EnvPublicKeys, pubs)
		return nil
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
}

// registryFlags adds --keys-file, which takes precedence over the environment.
func registryFlags(fs *flag.FlagSet) func() *keys.Registry {
	path := fs.String("keys-file", "", "YAML key file (overrides "+keys.EnvKeysFile+")")
	return func() *keys.Registry {
		return keys.NewRegistry(keys.WithLookup(func(k string) (string, bool) {
			if k == keys.EnvKeysFile && *path != "" {
				return *path, true
			}
			return os.LookupEnv(k)
		}))
	}
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func runSign(args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	in := fs.String("in", "", "input document (default stdin)")
	registry := registryFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	doc, err := readInput(*in, stdin)
	if err != nil {
		return err
	}
	reg := registry()
	signed, _, err := attest.NewEngine(reg).Attach(doc)
	if err != nil {
		if errors.Is(err, attest.ErrSigningUnavailable) {
			return fmt.Errorf("%w (%s)", err, strings.Join(reg.Health().Warnings, "; "))
		}
		return err
	}
	_, err = fmt.Fprintln(out, string(signed))
	return err
}

func runVerify(args []string, stdin io.Reader, out io.Writer) (bool, error) {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	in := fs.String("in", "", "attested document (default stdin)")
	registry := registryFlags(fs)
	if err := fs.Parse(args); err != nil {
		return false, err
	}
	doc, err := readInput(*in, stdin)
	if err != nil {
		return false, err
	}
	res := attest.VerifyDocument(doc, registry())
	if err := writeJSON(out, res); err != nil {
		return false, err
	}
	return res.OK && res.Verified, nil
}

func runHealth(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	registry := registryFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	reg := registry()
	return writeJSON(out, map[string]any{
		"canAttest": reg.CanAttest(),
		"health":    reg.Health(),
	})
}

func runOperatorToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("operator-token", flag.ContinueOnError)
	user := fs.String("user", "", "operator user id")
	tenant := fs.String("tenant", "", "tenant id")
	roles := fs.StringSlice("roles", []string{"operator"}, "roles to embed")
	ttl := fs.Duration("ttl", 8*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := auth.GenerateToken(*user, *tenant, *roles, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
