package credentials

import (
	"sort"
	"sync"
)

// MemoryStore is an in-process Store, used by tests and dry runs
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]ProxyCredential

	// error injection
	StoreError  error
	DeleteError error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]ProxyCredential)}
}

func (m *MemoryStore) Store(cred *ProxyCredential) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if cred == nil || cred.Endpoint == "" {
		return ErrInvalidCredentials
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.Endpoint] = *cred
	return nil
}

func (m *MemoryStore) Retrieve(endpoint string) (*ProxyCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[endpoint]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &cred, nil
}

func (m *MemoryStore) List() ([]*ProxyCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ProxyCredential, 0, len(m.creds))
	for _, cred := range m.creds {
		c := cred
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (m *MemoryStore) Delete(endpoint string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[endpoint]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.creds, endpoint)
	return nil
}

func (m *MemoryStore) Exists(endpoint string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.creds[endpoint]
	return ok
}

// Count returns the number of stored credentials
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.creds)
}
