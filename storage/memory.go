package storage

import (
	"io"
	"sync"
)

// Memory keeps documents in a map. Handy for tests: Writes counts
// calls to WriteFile.
type Memory struct {
	m      map[string][]byte
	writes map[string]int
	mu     sync.Mutex
}

var _ Backend = &Memory{}

// NewMemory creates a backend with optional initial content
func NewMemory(m map[string][]byte) *Memory {
	res := &Memory{
		m:      map[string][]byte{},
		writes: map[string]int{},
	}
	for k, v := range m {
		res.m[k] = append([]byte(nil), v...)
	}
	return res
}

func (m *Memory) get(path string) ([]byte, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.m[p]
	if !ok {
		return nil, notExist("open", path)
	}
	return d, nil
}

// Open returns a reader over a snapshot. WriteFile never mutates
// a stored slice so the snapshot doesn't need a copy.
func (m *Memory) Open(path string) (io.ReadSeekCloser, error) {
	d, err := m.get(path)
	if err != nil {
		return nil, err
	}
	return newBytesReader(d), nil
}

func (m *Memory) ReadFile(path string) ([]byte, error) {
	d, err := m.get(path)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), d...), nil
}

func (m *Memory) WriteFile(path string, data []byte) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[p] = append([]byte(nil), data...)
	m.writes[p]++
	return nil
}

func (m *Memory) Exists(path string) (bool, error) {
	_, err := m.get(path)
	if err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Writes returns how many times path was written
func (m *Memory) Writes(path string) int {
	p, err := cleanPath(path)
	if err != nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[p]
}
