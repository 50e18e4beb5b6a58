package ledger

import (
	"context"
	"sync"
)

// keyedMutex hands out one mutex per key so that unrelated users never wait
// on each other.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// MemoryBalances is an in-process Balances implementation.
type MemoryBalances struct {
	keys keyedMutex

	mu     sync.RWMutex
	values map[string]int64
	order  []string
}

// NewMemoryBalances returns an empty in-memory ledger.
func NewMemoryBalances() *MemoryBalances {
	return &MemoryBalances{values: make(map[string]int64)}
}

// ensure must be called with mu held for writing.
func (m *MemoryBalances) ensure(username string) int64 {
	v, ok := m.values[username]
	if !ok {
		m.values[username] = 0
		m.order = append(m.order, username)
	}
	return v
}

func (m *MemoryBalances) Balance(ctx context.Context, username string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	v, ok := m.values[username]
	m.mu.RUnlock()
	if ok {
		return v, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensure(username), nil
}

func (m *MemoryBalances) Credit(ctx context.Context, username string, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	unlock := m.keys.lock(username)
	defer unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.ensure(username) + amount
	m.values[username] = v
	return v, nil
}

func (m *MemoryBalances) Debit(ctx context.Context, username string, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	unlock := m.keys.lock(username)
	defer unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.ensure(username)
	if v < amount {
		return v, ErrInsufficientFunds
	}
	v -= amount
	m.values[username] = v
	return v, nil
}

func (m *MemoryBalances) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.order))
	for _, u := range m.order {
		out = append(out, Entry{Username: u, Value: m.values[u]})
	}
	return out, nil
}

// MemoryAttendance is an in-process Attendance implementation.
type MemoryAttendance struct {
	keys keyedMutex

	mu      sync.RWMutex
	records map[string]AttendanceRecord
	order   []string
}

// NewMemoryAttendance returns an empty in-memory attendance store.
func NewMemoryAttendance() *MemoryAttendance {
	return &MemoryAttendance{records: make(map[string]AttendanceRecord)}
}

func (m *MemoryAttendance) Get(ctx context.Context, username string) (AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return AttendanceRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[username]
	if !ok {
		return AttendanceRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryAttendance) Update(ctx context.Context, username string, fn UpdateFunc) (AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return AttendanceRecord{}, err
	}
	unlock := m.keys.lock(username)
	defer unlock()

	m.mu.RLock()
	cur, exists := m.records[username]
	m.mu.RUnlock()

	rec := cur.Clone()
	if !exists {
		rec = AttendanceRecord{Username: username}
	}
	changed, err := fn(&rec, exists)
	if err != nil {
		return cur.Clone(), err
	}
	if !changed {
		return rec, nil
	}
	rec.Username = username

	m.mu.Lock()
	if !exists {
		m.order = append(m.order, username)
	}
	m.records[username] = rec.Clone()
	m.mu.Unlock()
	return rec, nil
}

func (m *MemoryAttendance) All(ctx context.Context) ([]AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AttendanceRecord, 0, len(m.order))
	for _, u := range m.order {
		out = append(out, m.records[u].Clone())
	}
	return out, nil
}

// NewMemoryStore wires the three in-memory ledgers together.
func NewMemoryStore() *Store {
	return &Store{
		Gold:       NewMemoryBalances(),
		Coins:      NewMemoryBalances(),
		Attendance: NewMemoryAttendance(),
	}
}
