// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package secrets

import (
	"strings"

	valeterr "github.com/valet-dev/valet/pkg/errors"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// URI scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI splits a keyring://service/key URI into its service and
// key parts.
func ParseKeyringURI(uri string) (service, key string, err error) {
	rest, ok := strings.CutPrefix(uri, keyringScheme)
	if !ok {
		return "", "", valeterr.Errorf(valeterr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	service, key, ok = strings.Cut(rest, "/")
	if !ok || service == "" || key == "" {
		return "", "", valeterr.Errorf(valeterr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}

	return service, key, nil
}

// ResolveKeyringURI looks up the secret a keyring:// URI points at. Values
// that are not keyring URIs pass through unchanged, so config fields may hold
// either a literal secret or a reference.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", valeterr.Wrapf(err, valeterr.CodeSecretResolveFailure,
			"resolving keyring URI %q", value)
	}

	return secret, nil
}
