package session

import (
	"github.com/google/uuid"
)

// Store holds the admitted client records, keyed by identity.
type Store interface {
	New(record *ClientRecord) error
	Get(identity uuid.UUID) (*ClientRecord, error)
	ByName(name string) (*ClientRecord, bool)
	All() []*ClientRecord
	Clear(identity uuid.UUID) error
}

// MemoryStore is the in-process Store used by a single server instance.
// The server mutates records only from its update loop, so the store does
// no locking of its own.
type MemoryStore struct {
	records map[uuid.UUID]*ClientRecord
	order   []uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*ClientRecord)}
}

func (s *MemoryStore) New(record *ClientRecord) error {
	if _, ok := s.records[record.Identity]; ok {
		return ErrSessionAlreadyExists
	}
	s.records[record.Identity] = record
	s.order = append(s.order, record.Identity)
	return nil
}

func (s *MemoryStore) Get(identity uuid.UUID) (*ClientRecord, error) {
	if record, ok := s.records[identity]; ok {
		return record, nil
	}
	return nil, ErrSessionNotFound
}

// ByName finds a record by display name, used to resolve kick/ban targets.
func (s *MemoryStore) ByName(name string) (*ClientRecord, bool) {
	for _, identity := range s.order {
		if record := s.records[identity]; record != nil && record.Name == name {
			return record, true
		}
	}
	return nil, false
}

// All returns records in admission order.
func (s *MemoryStore) All() []*ClientRecord {
	out := make([]*ClientRecord, 0, len(s.records))
	for _, identity := range s.order {
		if record, ok := s.records[identity]; ok {
			out = append(out, record)
		}
	}
	return out
}

func (s *MemoryStore) Clear(identity uuid.UUID) error {
	if _, ok := s.records[identity]; !ok {
		return ErrSessionNotFound
	}
	delete(s.records, identity)
	for i, id := range s.order {
		if id == identity {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
