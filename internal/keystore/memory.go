package keystore

import (
	"slices"
	"sync"

	"github.com/glinharesb/signatory-go/internal/pkcs8"
)

// MemoryStore is a thread-safe in-memory key store backed by sync.RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[Label]*pkcs8.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[Label]*pkcs8.Document),
	}
}

func (m *MemoryStore) Store(label Label, doc *pkcs8.Document) error {
	if _, err := ParseLabel(string(label)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[label] = doc
	return nil
}

func (m *MemoryStore) Load(label Label) (*pkcs8.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[label]
	if !ok {
		return nil, notFound("keystore: load", label)
	}
	return doc, nil
}

func (m *MemoryStore) Delete(label Label) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[label]; !ok {
		return notFound("keystore: delete", label)
	}
	delete(m.docs, label)
	return nil
}

func (m *MemoryStore) List() ([]Label, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	labels := make([]Label, 0, len(m.docs))
	for l := range m.docs {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	return labels, nil
}
