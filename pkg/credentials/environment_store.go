package credentials

import (
	"os"
	"time"
)

const (
	envUsername = "GALLERYSCRAPER_PROXY_USERNAME"
	envPassword = "GALLERYSCRAPER_PROXY_PASSWORD"
)

// EnvironmentStore serves one read-only credential, applied to any endpoint,
// from GALLERYSCRAPER_PROXY_USERNAME and GALLERYSCRAPER_PROXY_PASSWORD
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Store(cred *ProxyCredential) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(endpoint string) (*ProxyCredential, error) {
	username := os.Getenv(envUsername)
	if username == "" {
		return nil, ErrCredentialsNotFound
	}
	if endpoint == "" {
		endpoint = "*"
	}
	return &ProxyCredential{
		Endpoint:     endpoint,
		Username:     username,
		Password:     os.Getenv(envPassword),
		LastModified: time.Time{},
	}, nil
}

func (e *EnvironmentStore) List() ([]*ProxyCredential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*ProxyCredential{}, nil
	}
	return []*ProxyCredential{cred}, nil
}

func (e *EnvironmentStore) Delete(endpoint string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(endpoint string) bool {
	return os.Getenv(envUsername) != ""
}
