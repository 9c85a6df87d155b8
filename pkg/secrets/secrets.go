package secrets

import (
	"context"
	"errors"
	"sync"

	"streamkit/backend/pkg/logger"
)

// Well-known secret keys
const (
	KeyJWTSecret     = "jwt_secret"
	KeyDBPassword    = "db_password"
	KeyRedisPassword = "redis_password"
	KeyTwitchToken   = "twitch_token"
)

// ErrManagerNotInitialized is returned by the package helpers before Init
var ErrManagerNotInitialized = errors.New("secrets manager not initialized")

// Manager provides access to secrets from various sources
type Manager interface {
	GetSecret(ctx context.Context, key string) (string, error)
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

var (
	defaultManager Manager
	managerMu      sync.RWMutex
)

// Init builds the default manager from cfg
func Init(cfg VaultConfig, log *logger.Logger) (Manager, error) {
	manager, err := NewVaultManager(cfg, log)
	if err != nil {
		return nil, err
	}
	SetManager(manager)
	return manager, nil
}

// GetSecret retrieves a secret from the default manager
func GetSecret(ctx context.Context, key string) (string, error) {
	managerMu.RLock()
	m := defaultManager
	managerMu.RUnlock()

	if m == nil {
		return "", ErrManagerNotInitialized
	}
	return m.GetSecret(ctx, key)
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	managerMu.RLock()
	m := defaultManager
	managerMu.RUnlock()

	if m == nil {
		return defaultValue
	}
	return m.GetSecretWithDefault(ctx, key, defaultValue)
}

// SetManager replaces the default secrets manager
func SetManager(manager Manager) {
	managerMu.Lock()
	defer managerMu.Unlock()
	defaultManager = manager
}
