// Package session owns the fixed-capacity pool of logical database
// connections, mediates all access to them by integer id, and coordinates
// best-effort query cancellation. It generalizes the connection-string-keyed
// pool pattern into an id-addressed slot table, since the dispatcher must
// route every later request (tables, schema, query, cancel...) back to the
// exact connection a prior connect call opened.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mantis/gatewayd/internal/driver"
)

// MaxSlots bounds the number of concurrently open connections.
const MaxSlots = 64

// ErrCapacity is returned by Connect when all slots are occupied.
var ErrCapacity = fmt.Errorf("session: connection pool at capacity (%d slots)", MaxSlots)

// ErrNotFound is returned by operations addressing an id with no slot.
var ErrNotFound = fmt.Errorf("session: no connection with that id")

// slot holds one logical connection's state. The cancelHandle/queryActive
// pair is only ever written by the protocol thread (PrepareCancel,
// CancelQuery) and the worker that owns the in-flight call (FinishQuery);
// mu serializes those three against each other. Disconnect and List do not
// take it.
type slot struct {
	mu sync.Mutex

	id     int64
	drv    driver.Driver
	db     *sql.DB
	info   driver.ConnectionInfo

	queryActive  bool
	cancelHandle driver.CancelHandle
}

// Manager is the fixed-capacity connection pool. Slot ids are monotonically
// increasing and never reused within a process lifetime, so a stale id
// reliably misses rather than aliasing a newer connection.
type Manager struct {
	mu      sync.RWMutex
	slots   map[int64]*slot
	nextID  int64
	drivers *driver.Registry
}

// NewManager creates an empty pool resolving connection strings against reg.
func NewManager(reg *driver.Registry) *Manager {
	return &Manager{
		slots:   make(map[int64]*slot),
		drivers: reg,
	}
}

// Connect resolves connStr's scheme to a registered driver, opens it, and
// assigns a fresh id. Returns ErrCapacity once MaxSlots connections are open.
func (m *Manager) Connect(ctx context.Context, connStr, password string) (int64, error) {
	m.mu.Lock()
	if len(m.slots) >= MaxSlots {
		m.mu.Unlock()
		return 0, ErrCapacity
	}
	m.mu.Unlock()

	name, err := schemeOf(connStr)
	if err != nil {
		return 0, err
	}
	drv, err := m.drivers.Get(name)
	if err != nil {
		return 0, err
	}

	db, info, err := drv.Connect(ctx, connStr, password)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.slots) >= MaxSlots {
		db.Close()
		return 0, ErrCapacity
	}
	m.nextID++
	id := m.nextID
	m.slots[id] = &slot{id: id, drv: drv, db: db, info: info}
	slog.Info("connection opened", "conn_id", id, "driver", name)
	return id, nil
}

// Disconnect closes the connection and clears the slot. Any worker still
// running a query on this slot keeps its driver handle reference alive
// until it finishes; the id is never reused so a late finish cannot alias
// a new connection.
func (m *Manager) Disconnect(id int64) error {
	m.mu.Lock()
	s, ok := m.slots[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.slots, id)
	m.mu.Unlock()

	slog.Info("connection closed", "conn_id", id)
	return s.db.Close()
}

// Handle is the slot view exposed to the async worker and dispatcher: the
// driver, the live *sql.DB, and the slot id for cancellation routing.
type Handle struct {
	ID     int64
	Driver driver.Driver
	DB     *sql.DB
}

// Get looks up a live connection by id.
func (m *Manager) Get(id int64) (Handle, bool) {
	m.mu.RLock()
	s, ok := m.slots[id]
	m.mu.RUnlock()
	if !ok {
		return Handle{}, false
	}
	return Handle{ID: s.id, Driver: s.drv, DB: s.db}, true
}

// ConnectionRecord is one entry of List's snapshot.
type ConnectionRecord struct {
	ID int64 `json:"id"`
	driver.ConnectionInfo
}

// List returns a snapshot of descriptive records, safe to hold across other
// session calls since it is copied out rather than referencing live slots.
func (m *Manager) List() []ConnectionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]ConnectionRecord, 0, len(m.slots))
	for _, s := range m.slots {
		records = append(records, ConnectionRecord{ID: s.id, ConnectionInfo: s.info})
	}
	return records
}

// PrepareCancel obtains a cancel handle for id's current connection state
// and marks the slot as carrying an in-flight query. Any stale handle from
// a prior call is freed first. Returns false and leaves the slot inactive
// if the driver has no cancellation capability, so cancel_handle stays nil
// exactly when query_active is false.
func (m *Manager) PrepareCancel(ctx context.Context, id int64) (bool, error) {
	m.mu.RLock()
	s, ok := m.slots[id]
	m.mu.RUnlock()
	if !ok {
		return false, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelHandle != nil {
		s.drv.FreeCancelHandle(s.cancelHandle)
		s.cancelHandle = nil
	}

	handle, err := s.drv.PrepareCancel(ctx, s.db)
	if err != nil {
		if err == driver.ErrNotSupported {
			return false, nil
		}
		return false, err
	}
	s.cancelHandle = handle
	s.queryActive = true
	return true, nil
}

// CancelQuery requests best-effort cancellation of the query currently
// in flight on id. A slot with no active query is a no-op success: there is
// nothing to cancel, not an error.
func (m *Manager) CancelQuery(id int64) error {
	m.mu.RLock()
	s, ok := m.slots[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.queryActive || s.cancelHandle == nil {
		return nil
	}
	return s.drv.CancelQuery(s.cancelHandle)
}

// FinishQuery frees the cancel handle and clears the active flag. Called by
// the worker after its driver call returns, regardless of outcome.
func (m *Manager) FinishQuery(id int64) {
	m.mu.RLock()
	s, ok := m.slots[id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelHandle != nil {
		s.drv.FreeCancelHandle(s.cancelHandle)
		s.cancelHandle = nil
	}
	s.queryActive = false
}

// Close closes every open connection. Called once at daemon teardown.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.slots)
	var lastErr error
	for id, s := range m.slots {
		if err := s.db.Close(); err != nil {
			lastErr = fmt.Errorf("close slot %d: %w", id, err)
		}
		delete(m.slots, id)
	}
	slog.Info("connection pool closed", "count", count)
	return lastErr
}

// Count returns the number of open connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

func schemeOf(connStr string) (string, error) {
	for i := 0; i < len(connStr); i++ {
		if connStr[i] == ':' {
			switch connStr[:i] {
			case "sqlite":
				return "sqlite", nil
			case "postgres", "postgresql", "pg":
				return "postgres", nil
			case "mysql", "mariadb":
				return "mysql", nil
			default:
				return "", fmt.Errorf("session: unrecognized connection scheme %q", connStr[:i])
			}
		}
		if connStr[i] == '/' {
			break
		}
	}
	return "sqlite", nil
}
