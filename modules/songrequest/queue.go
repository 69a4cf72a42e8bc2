package songrequest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-json-experiment/json"

	"github.com/zephyrtronium/bluebot/deque"
)

// ErrFull is the error for requests to a full queue.
var ErrFull = errors.New("queue is full")

// Queue is a persistent FIFO of media requests.
type Queue struct {
	db    *badger.DB
	limit int

	mu sync.Mutex
	q  deque.Deque[*Media]
}

// prefix is the key prefix of queued media.
var prefix = []byte("songrequest:queue:")

func key(m *Media) []byte {
	return append(append([]byte{}, prefix...), m.ID[:]...)
}

// OpenQueue loads the queue stored in db. If limit is positive, the queue
// refuses requests beyond that many.
func OpenQueue(db *badger.DB, limit int) (*Queue, error) {
	q := &Queue{db: db, limit: limit}
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var m Media
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("couldn't decode queued media %q: %w", it.Item().Key(), err)
			}
			q.q = q.q.Append(&m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't load song queue: %w", err)
	}
	return q, nil
}

// Push adds a request to the end of the queue and returns its position,
// counting from 1.
func (q *Queue) Push(m *Media) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && q.q.Len() >= q.limit {
		return 0, ErrFull
	}
	b, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("couldn't encode media: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(m), b)
	})
	if err != nil {
		return 0, fmt.Errorf("couldn't store media: %w", err)
	}
	q.q = q.q.Append(m)
	return q.q.Len(), nil
}

// Front returns the request at the head of the queue, or nil if it is empty.
func (q *Queue) Front() *Media {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, _ := q.q.Front()
	return m
}

// Pop removes and returns the request at the head of the queue.
// The result is nil if the queue is empty.
func (q *Queue) Pop() (*Media, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.q.Front()
	if !ok {
		return nil, nil
	}
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(m))
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't remove media: %w", err)
	}
	q.q = q.q.DropFront(1)
	return m, nil
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.q.Len()
}

// List returns a copy of up to n requests from the head of the queue.
func (q *Queue) List(n int) []*Media {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.q.Slice()
	return append([]*Media(nil), s[:min(n, len(s))]...)
}
