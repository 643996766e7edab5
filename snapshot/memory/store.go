package memory

import "sync"

// Store is the in-memory implementation of the session snapshot port.
// Snapshots are opaque byte blobs keyed by name.
type Store struct {
	mx *sync.Mutex
	db map[string][]byte
}

func NewStore() *Store {
	return &Store{
		mx: &sync.Mutex{},
		db: make(map[string][]byte),
	}
}

func (s *Store) Get(name string) ([]byte, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	data, ok := s.db[name]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

func (s *Store) Set(name string, data []byte) {
	s.mx.Lock()
	defer s.mx.Unlock()
	in := make([]byte, len(data))
	copy(in, data)
	s.db[name] = in
}

func (s *Store) Clear(name string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	delete(s.db, name)
}
