package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/proxy"
)

const appName = "galleryscraper"

// ProxyCredential holds the secret for one proxy endpoint
type ProxyCredential struct {
	// Endpoint is the proxy key (scheme://host:port)
	Endpoint     string    `json:"endpoint"`
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the interface for storing and retrieving proxy credentials
type Store interface {
	Store(cred *ProxyCredential) error
	Retrieve(endpoint string) (*ProxyCredential, error)
	List() ([]*ProxyCredential, error)
	Delete(endpoint string) error
	Exists(endpoint string) bool
}

// Manager handles credential storage with fallback backends
type Manager struct {
	stores []Store
	log    logger.Logger
}

// NewManager builds the default chain: system keyring, encrypted file, environment
func NewManager(log logger.Logger) (*Manager, error) {
	log = logger.OrDefault(log)
	var stores []Store

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	} else {
		log.DebugWithFields("system keyring unavailable", map[string]interface{}{"error": err.Error()})
	}

	configDir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encrypted, err := NewEncryptedFileStore(filepath.Join(configDir, "proxies.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encrypted, NewEnvironmentStore())

	return &Manager{stores: stores, log: log}, nil
}

// NewManagerWithStores builds a Manager over explicit backends
func NewManagerWithStores(log logger.Logger, stores ...Store) *Manager {
	return &Manager{stores: stores, log: logger.OrDefault(log)}
}

// Store saves the credential in the first backend that accepts it
func (m *Manager) Store(cred *ProxyCredential) error {
	if cred == nil || cred.Endpoint == "" {
		return errors.New("proxy endpoint is required")
	}
	if cred.Username == "" {
		return errors.New("username is required")
	}
	cred.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(cred)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets the credential from the first backend holding it
func (m *Manager) Retrieve(endpoint string) (*ProxyCredential, error) {
	for _, store := range m.stores {
		if cred, err := store.Retrieve(endpoint); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("%w for proxy: %s", ErrCredentialsNotFound, endpoint)
}

// List returns every stored credential, newest version per endpoint
func (m *Manager) List() ([]*ProxyCredential, error) {
	byEndpoint := make(map[string]*ProxyCredential)
	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, cred := range creds {
			if existing, ok := byEndpoint[cred.Endpoint]; !ok || cred.LastModified.After(existing.LastModified) {
				byEndpoint[cred.Endpoint] = cred
			}
		}
	}

	result := make([]*ProxyCredential, 0, len(byEndpoint))
	for _, cred := range byEndpoint {
		result = append(result, cred)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Endpoint < result[j].Endpoint })
	return result, nil
}

// Delete removes the credential from every backend
func (m *Manager) Delete(endpoint string) error {
	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(endpoint); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}
	if deleted {
		return nil
	}
	if lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	return fmt.Errorf("%w for proxy: %s", ErrCredentialsNotFound, endpoint)
}

// Apply fills in credentials for endpoints that carry none in their URI
func (m *Manager) Apply(endpoints []proxy.Endpoint) []proxy.Endpoint {
	out := make([]proxy.Endpoint, len(endpoints))
	for i, e := range endpoints {
		out[i] = e
		if e.HasCredentials() {
			continue
		}
		cred, err := m.Retrieve(e.Key())
		if err != nil {
			continue
		}
		out[i].Username = cred.Username
		out[i].Password = cred.Password
		m.log.DebugWithFields("applied stored proxy credentials", map[string]interface{}{
			"endpoint": e.Key(),
		})
	}
	return out
}

// ConfigDir returns the per-user configuration directory, creating it
func ConfigDir() (string, error) {
	var dir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support", appName)
	case "windows":
		dir = filepath.Join(os.Getenv("APPDATA"), appName)
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, appName)
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dir = filepath.Join(home, ".config", appName)
		}
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// Sanitize returns a copy safe for display
func Sanitize(cred *ProxyCredential) *ProxyCredential {
	if cred == nil {
		return nil
	}
	return &ProxyCredential{
		Endpoint:     cred.Endpoint,
		Username:     cred.Username,
		Password:     maskString(cred.Password),
		LastModified: cred.LastModified,
	}
}

// maskString masks all but the first and last 2 characters
func maskString(s string) string {
	if len(s) <= 6 {
		return "******"
	}
	return s[:2] + "..." + s[len(s)-2:]
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
