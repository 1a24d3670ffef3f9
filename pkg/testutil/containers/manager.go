//go:build integration

// Package containers starts shared testcontainers for integration tests. Each
// container is started once per test binary and reused by every suite.
package containers

import (
	"sync"
	"testing"
)

// Manager hands out lazily started shared containers.
type Manager struct {
	redisOnce    sync.Once
	redis        *RedisContainer
	postgresOnce sync.Once
	postgres     *PostgresContainer
	redpandaOnce sync.Once
	redpanda     *RedpandaContainer
}

var (
	manager     *Manager
	managerOnce sync.Once
)

// GetManager returns the process-wide manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}

func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.redisOnce.Do(func() {
		m.redis = NewRedisContainer(t)
	})
	if m.redis == nil {
		t.Fatal("redis container unavailable")
	}
	return m.redis
}

func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	m.postgresOnce.Do(func() {
		m.postgres = NewPostgresContainer(t)
	})
	if m.postgres == nil {
		t.Fatal("postgres container unavailable")
	}
	return m.postgres
}

func (m *Manager) GetRedpanda(t *testing.T) *RedpandaContainer {
	t.Helper()
	m.redpandaOnce.Do(func() {
		m.redpanda = NewRedpandaContainer(t)
	})
	if m.redpanda == nil {
		t.Fatal("redpanda container unavailable")
	}
	return m.redpanda
}
