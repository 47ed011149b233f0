package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/recallio/recall"
)

// memKV is an in-memory KV stub shared by the cache tests.
// failing simulates a transport outage: reads miss, writes error.
type memKV struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	version map[string]int64
	failing bool
}

func newMemKV() *memKV {
	return &memKV{
		data:    make(map[string]string),
		ttls:    make(map[string]time.Duration),
		version: make(map[string]int64),
	}
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return "", false, nil
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("kv down")
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memKV) ScanDel(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memKV) UserVersion(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.version[userID]
	if !ok {
		return "", nil
	}
	return itoa(v), nil
}

func (m *memKV) BumpUserVersion(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version[userID]++
	return itoa(m.version[userID]), nil
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	var b []byte
	for v > 0 {
		b = append([]byte{byte('0' + v%10)}, b...)
		v /= 10
	}
	return string(b)
}

var _ recall.KV = (*memKV)(nil)
