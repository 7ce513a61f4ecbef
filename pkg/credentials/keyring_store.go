package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/zalando/go-keyring"
)

const (
	keyringService  = appName
	keyringPrefix   = "proxy:"
	keyringIndexKey = "proxy-index"
)

// KeyringStore keeps credentials in the system keychain. go-keyring cannot
// enumerate entries, so an index item tracks the stored endpoints.
type KeyringStore struct{}

// NewKeyringStore probes the keychain and returns a store when it works
func NewKeyringStore() (*KeyringStore, error) {
	const probe = "availability-probe"
	if err := keyring.Set(keyringService, probe, "ok"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, probe)
	return &KeyringStore{}, nil
}

func (k *KeyringStore) Store(cred *ProxyCredential) error {
	if cred == nil || cred.Endpoint == "" {
		return ErrInvalidCredentials
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	if err := keyring.Set(keyringService, keyringPrefix+cred.Endpoint, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return k.updateIndex(cred.Endpoint, true)
}

func (k *KeyringStore) Retrieve(endpoint string) (*ProxyCredential, error) {
	if endpoint == "" {
		return nil, ErrInvalidCredentials
	}
	data, err := keyring.Get(keyringService, keyringPrefix+endpoint)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var cred ProxyCredential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

func (k *KeyringStore) List() ([]*ProxyCredential, error) {
	index, err := k.index()
	if err != nil {
		return nil, err
	}
	creds := make([]*ProxyCredential, 0, len(index))
	for _, endpoint := range index {
		if cred, err := k.Retrieve(endpoint); err == nil {
			creds = append(creds, cred)
		}
	}
	return creds, nil
}

func (k *KeyringStore) Delete(endpoint string) error {
	if endpoint == "" {
		return ErrInvalidCredentials
	}
	if err := keyring.Delete(keyringService, keyringPrefix+endpoint); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return k.updateIndex(endpoint, false)
}

func (k *KeyringStore) Exists(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+endpoint)
	return err == nil
}

func (k *KeyringStore) index() ([]string, error) {
	raw, err := keyring.Get(keyringService, keyringIndexKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}
	var endpoints []string
	if err := json.Unmarshal([]byte(raw), &endpoints); err != nil {
		return nil, fmt.Errorf("failed to parse keyring index: %w", err)
	}
	return endpoints, nil
}

func (k *KeyringStore) updateIndex(endpoint string, present bool) error {
	current, err := k.index()
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(current)+1)
	for _, e := range current {
		set[e] = struct{}{}
	}
	if present {
		set[endpoint] = struct{}{}
	} else {
		delete(set, endpoint)
	}

	endpoints := make([]string, 0, len(set))
	for e := range set {
		endpoints = append(endpoints, e)
	}
	sort.Strings(endpoints)

	data, err := json.Marshal(endpoints)
	if err != nil {
		return err
	}
	if err := keyring.Set(keyringService, keyringIndexKey, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring index: %w", err)
	}
	return nil
}
