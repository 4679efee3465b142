// Package vault resolves exchange credentials. The only backend today is
// the process environment; the interface leaves room for a real secret
// manager without touching config.
package vault

import "os"

type SecretStore interface {
	Get(key string) string
}

// EnvStore reads secrets from prefixed environment variables.
type EnvStore struct {
	Prefix string
}

func (s EnvStore) Get(key string) string {
	return os.Getenv(s.Prefix + key)
}
