package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ananth-NQI/rel8-backend/internal/models"
)

// MemoryStore holds all data in memory. It is meant for local development
// and tests; nothing survives a restart.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

type memoryData struct {
	users      map[string]*models.User // keyed by phone number
	predictors map[string]*models.Predictor
	outcomes   map[string]*models.Outcome
	intervals  map[string]*models.Interval
	sessions   map[string]*models.Session
	responses  map[string]*models.Response
}

func newMemoryData() *memoryData {
	return &memoryData{
		users:      make(map[string]*models.User),
		predictors: make(map[string]*models.Predictor),
		outcomes:   make(map[string]*models.Outcome),
		intervals:  make(map[string]*models.Interval),
		sessions:   make(map[string]*models.Session),
		responses:  make(map[string]*models.Response),
	}
}

// clone copies every record so a failed transaction can be thrown away.
func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range d.predictors {
		p := *v
		c.predictors[k] = &p
	}
	for k, v := range d.outcomes {
		o := *v
		c.outcomes[k] = &o
	}
	for k, v := range d.intervals {
		i := *v
		c.intervals[k] = &i
	}
	for k, v := range d.sessions {
		s := *v
		c.sessions[k] = &s
	}
	for k, v := range d.responses {
		r := *v
		c.responses[k] = &r
	}
	return c
}

func (d *memoryData) getUserByPhone(phone string) (*models.User, error) {
	user, ok := d.users[phone]
	if !ok {
		return nil, ErrNotFound
	}
	out := *user
	if p, ok := d.predictors[user.ID]; ok {
		cp := *p
		out.Predictor = &cp
	}
	if o, ok := d.outcomes[user.ID]; ok {
		co := *o
		out.Outcome = &co
	}
	if i, ok := d.intervals[user.ID]; ok {
		ci := *i
		out.Interval = &ci
	}
	return &out, nil
}

func (d *memoryData) createUser(user *models.User) error {
	if _, exists := d.users[user.PhoneNumber]; exists {
		return fmt.Errorf("create user: phone number %s already registered", user.PhoneNumber)
	}
	if err := user.BeforeCreate(nil); err != nil {
		return err
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	stored := *user
	stored.Predictor, stored.Outcome, stored.Interval = nil, nil, nil
	d.users[user.PhoneNumber] = &stored
	return nil
}

func (d *memoryData) userExists(userID string) bool {
	for _, u := range d.users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

func (d *memoryData) setVariables(userID string, vars Variables, now time.Time) error {
	if !d.userExists(userID) {
		return fmt.Errorf("set variables for %s: %w", userID, ErrNotFound)
	}

	if p, ok := d.predictors[userID]; ok {
		p.Name = models.NormalizeKeyword(vars.Predictor)
		p.UpdatedAt = now
	} else {
		d.predictors[userID] = &models.Predictor{
			ID: uuid.NewString(), UserID: userID, Name: models.NormalizeKeyword(vars.Predictor),
			CreatedAt: now, UpdatedAt: now,
		}
	}

	if o, ok := d.outcomes[userID]; ok {
		o.Name = models.NormalizeKeyword(vars.Outcome)
		o.UpdatedAt = now
	} else {
		d.outcomes[userID] = &models.Outcome{
			ID: uuid.NewString(), UserID: userID, Name: models.NormalizeKeyword(vars.Outcome),
			CreatedAt: now, UpdatedAt: now,
		}
	}

	if i, ok := d.intervals[userID]; ok {
		i.Duration = vars.IntervalHours
		i.UpdatedAt = now
	} else {
		d.intervals[userID] = &models.Interval{
			ID: uuid.NewString(), UserID: userID, Duration: vars.IntervalHours,
			CreatedAt: now, UpdatedAt: now,
		}
	}
	return nil
}

// userSessions returns the user's sessions newest first, matching the
// ORDER BY updated_at DESC, created_at DESC of the database store.
func (d *memoryData) userSessions(userID string) []*models.Session {
	var sessions []*models.Session
	for _, s := range d.sessions {
		if s.UserID == userID {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions
}

func (d *memoryData) latestSession(userID string) *models.Session {
	sessions := d.userSessions(userID)
	if len(sessions) == 0 {
		return nil
	}
	out := *sessions[0]
	return &out
}

func (d *memoryData) createSession(userID string, now time.Time) (*models.Session, error) {
	if !d.userExists(userID) {
		return nil, fmt.Errorf("create session for %s: %w", userID, ErrNotFound)
	}
	session := &models.Session{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	d.sessions[session.ID] = session
	out := *session
	return &out, nil
}

func (d *memoryData) completeSession(sessionID string, now time.Time) error {
	session, ok := d.sessions[sessionID]
	if !ok {
		return fmt.Errorf("complete session %s: %w", sessionID, ErrNotFound)
	}
	session.Complete = true
	session.UpdatedAt = now
	return nil
}

func (d *memoryData) listSessions(userID string) []*models.Session {
	sessions := d.userSessions(userID)
	out := make([]*models.Session, 0, len(sessions))
	for _, s := range sessions {
		cs := *s
		cs.Responses = nil
		for _, r := range d.responses {
			if r.SessionID == s.ID {
				cs.Responses = append(cs.Responses, *r)
			}
		}
		sort.Slice(cs.Responses, func(i, j int) bool {
			return cs.Responses[i].CreatedAt.Before(cs.Responses[j].CreatedAt)
		})
		out = append(out, &cs)
	}
	return out
}

func (d *memoryData) createResponse(in NewResponse) (*models.Response, error) {
	resp, err := in.build()
	if err != nil {
		return nil, err
	}
	if _, ok := d.sessions[in.SessionID]; !ok {
		return nil, fmt.Errorf("create response for session %s: %w", in.SessionID, ErrNotFound)
	}
	resp.ID = uuid.NewString()
	d.responses[resp.ID] = resp
	out := *resp
	return &out, nil
}

func (d *memoryData) responseExists(messageSID string) bool {
	if messageSID == "" {
		return false
	}
	for _, r := range d.responses {
		if r.MessageSID == messageSID {
			return true
		}
	}
	return false
}

// User operations
func (m *MemoryStore) GetUserByPhone(_ context.Context, phone string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getUserByPhone(phone)
}

func (m *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createUser(user)
}

func (m *MemoryStore) SetVariables(_ context.Context, userID string, vars Variables, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.setVariables(userID, vars, now)
}

// Session operations
func (m *MemoryStore) LatestSession(_ context.Context, userID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.latestSession(userID), nil
}

func (m *MemoryStore) CreateSession(_ context.Context, userID string, now time.Time) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createSession(userID, now)
}

func (m *MemoryStore) CompleteSession(_ context.Context, sessionID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.completeSession(sessionID, now)
}

func (m *MemoryStore) ListSessions(_ context.Context, userID string) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listSessions(userID), nil
}

// Response operations
func (m *MemoryStore) CreateResponse(_ context.Context, in NewResponse) (*models.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createResponse(in)
}

func (m *MemoryStore) ResponseExists(_ context.Context, messageSID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.responseExists(messageSID), nil
}

// Transaction runs fn against a private copy of the data and swaps it in
// only when fn succeeds. The store lock is held for the whole call.
func (m *MemoryStore) Transaction(_ context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.data.clone()
	if err := fn(&memoryTx{data: working}); err != nil {
		return err
	}
	m.data = working
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

// memoryTx is the Store handed to MemoryStore.Transaction callbacks. It
// works on the transaction's copy without taking the store lock.
type memoryTx struct {
	data *memoryData
}

func (t *memoryTx) GetUserByPhone(_ context.Context, phone string) (*models.User, error) {
	return t.data.getUserByPhone(phone)
}

func (t *memoryTx) CreateUser(_ context.Context, user *models.User) error {
	return t.data.createUser(user)
}

func (t *memoryTx) SetVariables(_ context.Context, userID string, vars Variables, now time.Time) error {
	return t.data.setVariables(userID, vars, now)
}

func (t *memoryTx) LatestSession(_ context.Context, userID string) (*models.Session, error) {
	return t.data.latestSession(userID), nil
}

func (t *memoryTx) CreateSession(_ context.Context, userID string, now time.Time) (*models.Session, error) {
	return t.data.createSession(userID, now)
}

func (t *memoryTx) CompleteSession(_ context.Context, sessionID string, now time.Time) error {
	return t.data.completeSession(sessionID, now)
}

func (t *memoryTx) ListSessions(_ context.Context, userID string) ([]*models.Session, error) {
	return t.data.listSessions(userID), nil
}

func (t *memoryTx) CreateResponse(_ context.Context, in NewResponse) (*models.Response, error) {
	return t.data.createResponse(in)
}

func (t *memoryTx) ResponseExists(_ context.Context, messageSID string) (bool, error) {
	return t.data.responseExists(messageSID), nil
}

// Transaction nests into the enclosing transaction.
func (t *memoryTx) Transaction(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memoryTx) Ping(context.Context) error { return nil }
func (t *memoryTx) Close() error               { return nil }
