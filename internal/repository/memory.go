package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/content-license-server/internal/model"
)

// The in-memory stores below back STORAGE=memory and the service tests.
// They honour the same contracts as the MySQL and Redis adapters.

// MemoryClientStore keeps clients in a map.
type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]model.ClientRecord
}

func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: map[string]model.ClientRecord{}}
}

func (s *MemoryClientStore) Insert(_ context.Context, rec model.ClientRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[rec.ID]; ok {
		return ErrDuplicate
	}
	s.clients[rec.ID] = rec
	return nil
}

func (s *MemoryClientStore) Get(_ context.Context, id string) (model.ClientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.clients[id]
	if !ok {
		return model.ClientRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryClientStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.clients[id]
	if !ok {
		return ErrNotFound
	}
	rec.Active = false
	rec.UpdatedAt = time.Now().UTC()
	s.clients[id] = rec
	return nil
}

func (s *MemoryClientStore) List(context.Context) ([]model.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Client, 0, len(s.clients))
	for _, rec := range s.clients {
		out = append(out, rec.Client)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MemoryTokenStore is the in-memory token ledger.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]model.TokenRecord
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: map[string]model.TokenRecord{}}
}

func (s *MemoryTokenStore) Insert(_ context.Context, rec model.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[rec.JTI]; ok {
		return ErrDuplicate
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.tokens[rec.JTI] = rec
	return nil
}

func (s *MemoryTokenStore) Get(_ context.Context, jti string) (model.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[jti]
	if !ok {
		return model.TokenRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryTokenStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[jti].Revoked(), nil
}

func (s *MemoryTokenStore) Revoke(_ context.Context, jti string) (bool, error) {
	n := s.revokeWhere(func(r model.TokenRecord) bool { return r.JTI == jti })
	return n > 0, nil
}

func (s *MemoryTokenStore) RevokeByOrder(_ context.Context, orderID string) (int64, error) {
	return s.revokeWhere(func(r model.TokenRecord) bool { return orderID != "" && r.OrderID == orderID }), nil
}

func (s *MemoryTokenStore) RevokeBySubscription(_ context.Context, subscriptionID string) (int64, error) {
	return s.revokeWhere(func(r model.TokenRecord) bool {
		return subscriptionID != "" && r.SubscriptionID == subscriptionID
	}), nil
}

func (s *MemoryTokenStore) revokeWhere(match func(model.TokenRecord) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for jti, rec := range s.tokens {
		if rec.Revoked() || !match(rec) {
			continue
		}
		t := now
		rec.RevokedAt = &t
		s.tokens[jti] = rec
		n++
	}
	return n
}

func (s *MemoryTokenStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for jti, rec := range s.tokens {
		if rec.ExpiresAt.Before(now) {
			delete(s.tokens, jti)
			n++
		}
	}
	return n, nil
}

// MemoryLicenseStore is a writable license source for development and tests.
type MemoryLicenseStore struct {
	mu       sync.RWMutex
	licenses map[int64]model.License
}

func NewMemoryLicenseStore(licenses ...model.License) *MemoryLicenseStore {
	s := &MemoryLicenseStore{licenses: map[int64]model.License{}}
	for _, l := range licenses {
		s.licenses[l.ID] = l
	}
	return s
}

// Put adds or replaces a license.
func (s *MemoryLicenseStore) Put(l model.License) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenses[l.ID] = l
}

func (s *MemoryLicenseStore) GetLicense(_ context.Context, id int64) (model.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.licenses[id]
	if !ok {
		return model.License{}, ErrNotFound
	}
	return l, nil
}

// MemorySettingStore keeps settings for the lifetime of the process.
type MemorySettingStore struct {
	mu   sync.Mutex
	vals map[string]string
}

func NewMemorySettingStore() *MemorySettingStore {
	return &MemorySettingStore{vals: map[string]string{}}
}

func (s *MemorySettingStore) PutIfAbsent(_ context.Context, name, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vals[name]; ok {
		return v, nil
	}
	s.vals[name] = value
	return value, nil
}

// MemorySessionStore keeps sessions in a map.  Expired entries linger until
// read or swept by DeleteExpired.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]model.Session{}}
}

func (s *MemorySessionStore) Put(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return copySession(sess), nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func copySession(s model.Session) model.Session {
	if s.Options != nil {
		opts := make(map[string]string, len(s.Options))
		for k, v := range s.Options {
			opts[k] = v
		}
		s.Options = opts
	}
	return s
}

// MemoryCounterStore implements fixed-window counters in process memory.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]memCounter
	now      func() time.Time
}

type memCounter struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: map[string]memCounter{}, now: time.Now}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c := s.counters[key]
	if !c.expiresAt.IsZero() && !now.Before(c.expiresAt) {
		c = memCounter{}
	}
	c.count++
	c.expiresAt = now.Add(ttl)
	s.counters[key] = c
	if len(s.counters) > 4096 {
		for k, v := range s.counters {
			if !now.Before(v.expiresAt) {
				delete(s.counters, k)
			}
		}
	}
	return c.count, nil
}
