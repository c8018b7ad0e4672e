// Package secrets resolves provider credentials and webhook HMAC secrets
// through a SecretStore capability. Secrets are never stored inline in the
// YAML config.
package secrets

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Well-known secret names used across the engine.
const (
	KeyCRMClientSecret     = "CRM_CLIENT_SECRET"
	KeyLemlistAPIKey       = "LEMLIST_API_KEY"
	KeyPostmarkServerToken = "POSTMARK_SERVER_TOKEN"
	KeyPhantomBusterKey    = "PHANTOMBUSTER_API_KEY"
	KeyExploriumAPIKey     = "EXPLORIUM_API_KEY"
	KeyHeyGenAPIKey        = "HEYGEN_API_KEY"
	KeyWebhookSecretPrefix = "WEBHOOK_SECRET_" // + upper(provider)
)

// Store is the capability the engine uses to resolve secrets.
type Store interface {
	// Get returns the secret value for name. Returns an error if the
	// secret is not present; an empty secret is never valid.
	Get(name string) (string, error)
}

// WebhookSecretName returns the store key holding the HMAC secret for the
// given provider's webhooks.
func WebhookSecretName(provider string) string {
	return KeyWebhookSecretPrefix + strings.ToUpper(provider)
}

// EnvStore reads secrets from process environment variables.
type EnvStore struct{}

// Get returns the env var with the given name.
func (EnvStore) Get(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("secret %s not set", name)
	}
	return v, nil
}

// FileStore reads secrets from a YAML file of name: value pairs.
// The file is parsed once and cached.
type FileStore struct {
	path string
	once sync.Once
	vals map[string]string
	err  error
}

// NewFileStore creates a file-backed secret store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get returns the named secret from the file.
func (f *FileStore) Get(name string) (string, error) {
	f.once.Do(func() {
		data, err := os.ReadFile(f.path)
		if err != nil {
			f.err = fmt.Errorf("read secrets file: %w", err)
			return
		}
		f.vals = make(map[string]string)
		f.err = yaml.Unmarshal(data, &f.vals)
	})
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.vals[name]
	if !ok || v == "" {
		return "", fmt.Errorf("secret %s not in %s", name, f.path)
	}
	return v, nil
}

// VaultStore reads secrets from a HashiCorp Vault KV v2 mount over HTTP.
// The token comes from VAULT_TOKEN. Values are cached for the process
// lifetime; rotation requires a restart.
type VaultStore struct {
	address string
	path    string
	token   string
	client  *http.Client

	mu    sync.Mutex
	cache map[string]string
}

// NewVaultStore creates a Vault-backed secret store.
func NewVaultStore(address, path string) *VaultStore {
	return &VaultStore{
		address: strings.TrimRight(address, "/"),
		path:    strings.Trim(path, "/"),
		token:   os.Getenv("VAULT_TOKEN"),
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[string]string),
	}
}

// Get fetches the named secret from the Vault KV path.
func (v *VaultStore) Get(name string) (string, error) {
	v.mu.Lock()
	if val, ok := v.cache[name]; ok {
		v.mu.Unlock()
		return val, nil
	}
	v.mu.Unlock()

	url := fmt.Sprintf("%s/v1/%s", v.address, v.path)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Vault-Token", v.token)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("vault returned %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("vault decode: %w", err)
	}

	v.mu.Lock()
	for k, val := range out.Data.Data {
		v.cache[k] = val
	}
	val, ok := v.cache[name]
	v.mu.Unlock()

	if !ok || val == "" {
		return "", fmt.Errorf("secret %s not in vault path %s", name, v.path)
	}
	return val, nil
}

// New constructs the store named by the config value: "env", "file" or
// "vault". Unknown values fall back to env.
func New(store, filePath, vaultAddr, vaultPath string) Store {
	switch store {
	case "file":
		return NewFileStore(filePath)
	case "vault":
		return NewVaultStore(vaultAddr, vaultPath)
	default:
		return EnvStore{}
	}
}
