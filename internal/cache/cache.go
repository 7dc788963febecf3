package cache

import (
	"strings"
	"time"
)

// Cache defines the interface for caching analyzer responses
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// CacheKey scopes a statement hash to the server version it was analyzed on
func CacheKey(version, statementHash string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "unknown"
	}
	return "qverify:v1:" + v + ":" + statementHash
}
