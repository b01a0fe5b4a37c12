// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package secrets

import (
	"errors"
	"slices"
	"strings"

	"github.com/zalando/go-keyring"

	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// indexKey is the reserved key under which each service keeps a
// newline-separated, sorted list of its stored key names. go-keyring cannot
// enumerate keys, so List works off this index; Store and Delete keep it
// current.
const indexKey = "!keys"

// KeyringStore implements Store on the OS keyring via zalando/go-keyring:
// Keychain on macOS, secret-service over D-Bus on Linux, Credential Manager
// on Windows.
type KeyringStore struct{}

// NewKeyringStore returns a KeyringStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func checkRef(op, service, key string) error {
	if service == "" {
		return valeterr.Errorf(valeterr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return valeterr.Errorf(valeterr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	if key == indexKey {
		return valeterr.Errorf(valeterr.CodeSecretInvalidInput, "secret %s: key %q is reserved", op, key)
	}
	return nil
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := checkRef("store", service, key); err != nil {
		return err
	}

	if err := keyring.Set(service, key, value); err != nil {
		return valeterr.Wrapf(err, valeterr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}

	return s.updateIndex(service, func(keys []string) []string {
		if slices.Contains(keys, key) {
			return keys
		}
		keys = append(keys, key)
		slices.Sort(keys)
		return keys
	})
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := checkRef("retrieve", service, key); err != nil {
		return "", err
	}

	val, err := keyring.Get(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", valeterr.Errorf(valeterr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	if err != nil {
		return "", valeterr.Wrapf(err, valeterr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkRef("delete", service, key); err != nil {
		return err
	}

	err := keyring.Delete(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return valeterr.Errorf(valeterr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	if err != nil {
		return valeterr.Wrapf(err, valeterr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}

	return s.updateIndex(service, func(keys []string) []string {
		return slices.DeleteFunc(keys, func(k string) bool { return k == key })
	})
}

func (s *KeyringStore) List(service string) ([]string, error) {
	if service == "" {
		return nil, valeterr.New(valeterr.CodeSecretInvalidInput, "secret list: service must not be empty")
	}
	return s.readIndex(service)
}

func (s *KeyringStore) readIndex(service string) ([]string, error) {
	raw, err := keyring.Get(service, indexKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, valeterr.Wrapf(err, valeterr.CodeSecretListFailure, "reading key index for service %s", service)
	}

	var keys []string
	for _, line := range strings.Split(raw, "\n") {
		if line != "" {
			keys = append(keys, line)
		}
	}
	return keys, nil
}

// updateIndex rewrites the service's key index through apply. An empty result
// removes the index entry entirely so the service leaves no residue in the
// keyring once its last secret is gone.
func (s *KeyringStore) updateIndex(service string, apply func([]string) []string) error {
	keys, err := s.readIndex(service)
	if err != nil {
		return err
	}

	keys = apply(keys)
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return valeterr.Wrapf(err, valeterr.CodeSecretListFailure, "clearing key index for service %s", service)
		}
		return nil
	}

	if err := keyring.Set(service, indexKey, strings.Join(keys, "\n")); err != nil {
		return valeterr.Wrapf(err, valeterr.CodeSecretListFailure, "saving key index for service %s", service)
	}
	return nil
}
