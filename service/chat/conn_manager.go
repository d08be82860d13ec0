package chat

import (
	"context"
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/tools/safe"
)

// ConnManager indexes live connections three ways: by connection id, by
// user id, and by subscribed routing key. All indexes move together under
// one lock.
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Client
	byUser map[string]map[string]*Client
	byKey  map[string]map[string]*Client
	keysOf map[string]map[string]struct{} // connID -> routing keys

	sweepEvery time.Duration
	staleAfter time.Duration
	onEvict    func(c *Client)
}

func NewConnManager(sweepEvery, staleAfter time.Duration) *ConnManager {
	if sweepEvery <= 0 {
		sweepEvery = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &ConnManager{
		byConn:     map[string]*Client{},
		byUser:     map[string]map[string]*Client{},
		byKey:      map[string]map[string]*Client{},
		keysOf:     map[string]map[string]struct{}{},
		sweepEvery: sweepEvery,
		staleAfter: staleAfter,
	}
}

func (m *ConnManager) Add(c *Client) {
	m.mu.Lock()
	m.byConn[c.ConnID] = c
	m.keysOf[c.ConnID] = map[string]struct{}{}
	m.mu.Unlock()
}

// Bind associates an authenticated user with the connection.
func (m *ConnManager) Bind(c *Client, userID string) {
	m.mu.Lock()
	c.UserID = userID
	c.Authorized = true
	if m.byUser[userID] == nil {
		m.byUser[userID] = map[string]*Client{}
	}
	m.byUser[userID][c.ConnID] = c
	m.mu.Unlock()
}

func (m *ConnManager) Subscribe(c *Client, keys ...string) {
	m.mu.Lock()
	for _, k := range keys {
		if m.byKey[k] == nil {
			m.byKey[k] = map[string]*Client{}
		}
		m.byKey[k][c.ConnID] = c
		if m.keysOf[c.ConnID] != nil {
			m.keysOf[c.ConnID][k] = struct{}{}
		}
	}
	m.mu.Unlock()
}

func (m *ConnManager) Remove(connID string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[connID]
	if !ok {
		return nil
	}
	delete(m.byConn, connID)
	if c.UserID != "" {
		if conns := m.byUser[c.UserID]; conns != nil {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.byUser, c.UserID)
			}
		}
	}
	for k := range m.keysOf[connID] {
		if conns := m.byKey[k]; conns != nil {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.byKey, k)
			}
		}
	}
	delete(m.keysOf, connID)
	return c
}

func (m *ConnManager) Get(connID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

// ConnsOnKey snapshots the subscribers of one routing key, optionally
// excluding the originating connection.
func (m *ConnManager) ConnsOnKey(key, excludeConnID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := m.byKey[key]
	out := make([]*Client, 0, len(conns))
	for id, c := range conns {
		if id == excludeConnID {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) ConnsOfUser(userID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := m.byUser[userID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// UserStillOnKey reports whether the user has another live connection
// subscribed to the key. Used to suppress offline broadcasts when one of
// several tabs closes.
func (m *ConnManager) UserStillOnKey(userID, key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.byKey[key] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (m *ConnManager) KeysOf(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.keysOf[connID]))
	for k := range m.keysOf[connID] {
		out = append(out, k)
	}
	return out
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

// StartSweeper closes connections whose heartbeat went silent.
func (m *ConnManager) StartSweeper(ctx context.Context, onEvict func(c *Client)) {
	m.onEvict = onEvict
	safe.Go(func() {
		ticker := time.NewTicker(m.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	})
}

func (m *ConnManager) sweep() {
	cutoff := time.Now().Add(-m.staleAfter)
	m.mu.RLock()
	stale := make([]*Client, 0)
	for _, c := range m.byConn {
		if c.LastHeartbeat().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	m.mu.RUnlock()
	for _, c := range stale {
		logger.Infof("[chat] sweeping stale conn=%s user=%s", c.ConnID, c.UserID)
		if m.onEvict != nil {
			m.onEvict(c)
		}
		c.Close()
	}
}
