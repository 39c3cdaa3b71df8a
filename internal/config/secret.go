package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"
)

// placeholderRegex matches {{env:VAR}}, {{file:path}} and {{keyring:service:account}}.
var placeholderRegex = regexp.MustCompile(`{{\s*(env|keyring|file)\s*:\s*([^}]+)\s*}}`)

// SecretResolver expands secret placeholders so the shortkey does not have
// to live in the environment in clear text.
type SecretResolver struct {
	lookup     func(string) (string, bool)
	fs         afero.Fs
	keyringGet func(service, user string) (string, error)
}

func NewSecretResolver(lookup func(string) (string, bool), fs afero.Fs) *SecretResolver {
	return &SecretResolver{
		lookup:     lookup,
		fs:         fs,
		keyringGet: keyring.Get,
	}
}

// Resolve expands every placeholder in value. Values without placeholders
// are returned unchanged.
func (r *SecretResolver) Resolve(value string) (string, error) {
	var firstErr error

	resolved := placeholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		if firstErr != nil {
			return match
		}
		parts := placeholderRegex.FindStringSubmatch(match)
		if len(parts) != 3 {
			firstErr = fmt.Errorf("invalid placeholder format: %s", match)
			return match
		}

		kind := strings.TrimSpace(parts[1])
		arg := strings.TrimSpace(parts[2])

		switch kind {
		case "env":
			v, ok := r.lookup(arg)
			if !ok {
				firstErr = fmt.Errorf("environment variable %q not found", arg)
				return match
			}
			return v
		case "keyring":
			service, user, ok := strings.Cut(arg, ":")
			if !ok {
				firstErr = fmt.Errorf("invalid keyring reference %q, expected service:account", arg)
				return match
			}
			secret, err := r.keyringGet(service, user)
			if err != nil {
				firstErr = fmt.Errorf("keyring %s:%s: %w", service, user, err)
				return match
			}
			return secret
		case "file":
			b, err := afero.ReadFile(r.fs, arg)
			if err != nil {
				firstErr = fmt.Errorf("read secret file %q: %w", arg, err)
				return match
			}
			return strings.TrimSpace(string(b))
		default:
			firstErr = fmt.Errorf("unknown placeholder type %q", kind)
			return match
		}
	})

	return resolved, firstErr
}
