package remote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
)

// MemoryStore is an in-process Store used by tests and by the
// `--remote memory` mode. It mimics the Postgres schema constraints that
// matter to the client: unique client_id, and child rows that block the
// deletion of their entry.
//
// SetDown and FailOn inject failures.
type MemoryStore struct {
	mu sync.Mutex

	entries  map[string]models.Entry
	profiles map[string]models.User
	comments map[string][]models.Comment
	reads    map[string]map[string]time.Time
	emails   []EmailLog

	down     bool
	failures map[string]error
	calls    []string

	newID func() string
	now   func() time.Time
}

// EmailLog is a row of the email_logs table.
type EmailLog struct {
	EntryID   string
	Recipient string
	Status    string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  map[string]models.Entry{},
		profiles: map[string]models.User{},
		comments: map[string][]models.Comment{},
		reads:    map[string]map[string]time.Time{},
		failures: map[string]error{},
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// SetDown makes every call fail with a connectivity error.
func (m *MemoryStore) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// FailOn makes op fail with err for the given id; an empty id matches any.
// Op names: insert, update, delete, delete_dependents, get, find, list,
// max_folio, profile, comment, comments, email_log.
func (m *MemoryStore) FailOn(op, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+"/"+id] = err
}

func (m *MemoryStore) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = map[string]error{}
}

// Calls returns the operations performed so far as "op id" strings.
func (m *MemoryStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MemoryStore) enter(op, id string) error {
	m.calls = append(m.calls, op+" "+id)
	if m.down {
		return common.Connectivity(fmt.Errorf("%s: failed to fetch", op))
	}
	if err, ok := m.failures[op+"/"+id]; ok {
		return err
	}
	if err, ok := m.failures[op+"/"]; ok {
		return err
	}
	return nil
}

// PutEntry stores e as-is, bypassing the insert rules.
func (m *MemoryStore) PutEntry(e models.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = m.now().UTC()
	}
	m.entries[e.ID] = e.Clone()
}

func (m *MemoryStore) PutProfile(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[u.ID] = u
}

// MarkRead records a read receipt.
func (m *MemoryStore) MarkRead(entryID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reads[entryID] == nil {
		m.reads[entryID] = map[string]time.Time{}
	}
	m.reads[entryID][userID] = m.now()
}

// Snapshot returns every entry, newest first.
func (m *MemoryStore) Snapshot() []models.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(models.EntryFilter{})
}

func (m *MemoryStore) EmailLogs() []EmailLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmailLog(nil), m.emails...)
}

// Dependents counts comments, read receipts and email logs of an entry.
func (m *MemoryStore) Dependents(entryID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.comments[entryID]) + len(m.reads[entryID])
	for _, l := range m.emails {
		if l.EntryID == entryID {
			n++
		}
	}
	return n
}

func (m *MemoryStore) sorted(f models.EntryFilter) []models.Entry {
	var out []models.Entry
	for _, e := range m.entries {
		if f.Match(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter("ping", "")
}

func (m *MemoryStore) InsertEntry(ctx context.Context, e models.Entry) (models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("insert", e.ClientID); err != nil {
		return models.Entry{}, err
	}
	if e.ClientID != "" {
		for _, existing := range m.entries {
			if existing.ClientID == e.ClientID {
				return models.Entry{}, &common.RemoteError{Op: "insert", Err: fmt.Errorf("%w: duplicate client_id %s", common.ErrConstraint, e.ClientID)}
			}
		}
	}
	e = e.Clone()
	e.ID = m.newID()
	e.IsOffline = false
	e.UpdatedAt = m.now().UTC()
	m.entries[e.ID] = e
	return e.Clone(), nil
}

func (m *MemoryStore) UpdateEntry(ctx context.Context, e models.Entry) (models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("update", e.ID); err != nil {
		return models.Entry{}, err
	}
	cur, ok := m.entries[e.ID]
	if !ok {
		return models.Entry{}, &common.RemoteError{Op: "update", Err: common.ErrNotFound}
	}
	e = e.Clone()
	e.Folio = cur.Folio
	e.ClientID = cur.ClientID
	e.UserID = cur.UserID
	e.IsOffline = false
	e.UpdatedAt = m.now().UTC()
	m.entries[e.ID] = e
	return e.Clone(), nil
}

func (m *MemoryStore) DeleteEntry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("delete", id); err != nil {
		return err
	}
	if len(m.comments[id]) > 0 || len(m.reads[id]) > 0 {
		return &common.RemoteError{Op: "delete", Err: fmt.Errorf("%w: entry %s still has dependents", common.ErrConstraint, id)}
	}
	for _, l := range m.emails {
		if l.EntryID == id {
			return &common.RemoteError{Op: "delete", Err: fmt.Errorf("%w: entry %s still has email logs", common.ErrConstraint, id)}
		}
	}
	delete(m.entries, id)
	return nil
}

func (m *MemoryStore) DeleteDependents(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("delete_dependents", id); err != nil {
		return err
	}
	delete(m.comments, id)
	delete(m.reads, id)
	kept := m.emails[:0]
	for _, l := range m.emails {
		if l.EntryID != id {
			kept = append(kept, l)
		}
	}
	m.emails = kept
	return nil
}

func (m *MemoryStore) GetEntry(ctx context.Context, id string) (models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get", id); err != nil {
		return models.Entry{}, err
	}
	e, ok := m.entries[id]
	if !ok {
		return models.Entry{}, &common.RemoteError{Op: "get", Err: common.ErrNotFound}
	}
	return e.Clone(), nil
}

func (m *MemoryStore) FindByClientID(ctx context.Context, clientID string) (models.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("find", clientID); err != nil {
		return models.Entry{}, false, err
	}
	if clientID == "" {
		return models.Entry{}, false, nil
	}
	for _, e := range m.entries {
		if e.ClientID == clientID {
			return e.Clone(), true, nil
		}
	}
	return models.Entry{}, false, nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, f models.EntryFilter) ([]models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("list", ""); err != nil {
		return nil, err
	}
	return m.sorted(f), nil
}

func (m *MemoryStore) MaxFolio(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("max_folio", ""); err != nil {
		return 0, err
	}
	maxFolio := 0
	for _, e := range m.entries {
		if !isDigits(e.Folio) {
			continue
		}
		if n, err := strconv.Atoi(e.Folio); err == nil && n > maxFolio {
			maxFolio = n
		}
	}
	return maxFolio, nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, userID string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("profile", userID); err != nil {
		return models.User{}, err
	}
	u, ok := m.profiles[userID]
	if !ok {
		return models.User{}, &common.RemoteError{Op: "profile", Err: common.ErrNotFound}
	}
	return u, nil
}

func (m *MemoryStore) AddComment(ctx context.Context, c models.Comment) (models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("comment", c.EntryID); err != nil {
		return models.Comment{}, err
	}
	if _, ok := m.entries[c.EntryID]; !ok {
		return models.Comment{}, &common.RemoteError{Op: "comment", Err: fmt.Errorf("%w: unknown entry %s", common.ErrConstraint, c.EntryID)}
	}
	c.ID = m.newID()
	c.CreatedAt = m.now().UTC()
	m.comments[c.EntryID] = append(m.comments[c.EntryID], c)
	return c, nil
}

func (m *MemoryStore) ListComments(ctx context.Context, entryID string) ([]models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("comments", entryID); err != nil {
		return nil, err
	}
	return append([]models.Comment(nil), m.comments[entryID]...), nil
}

func (m *MemoryStore) LogNotification(ctx context.Context, entryID, recipient, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("email_log", entryID); err != nil {
		return err
	}
	m.emails = append(m.emails, EmailLog{EntryID: entryID, Recipient: recipient, Status: status})
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
