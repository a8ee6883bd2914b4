package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/logging"
	"github.com/dmitrijs2005/bitacora/internal/metrics"
	"github.com/dmitrijs2005/bitacora/internal/remote"
	"github.com/dmitrijs2005/bitacora/internal/retry"
)

// LocalStore is the part of the local durable store a sync cycle touches.
type LocalStore interface {
	GetPendingQueueItems(ctx context.Context) ([]models.QueueItem, error)
	MarkQueueItemAsSynced(ctx context.Context, id int64) error
	RecordQueueFailure(ctx context.Context, id int64, cause error) error
	ClearSyncedQueueItems(ctx context.Context) (int64, error)
	PendingQueueCount(ctx context.Context) (int, error)

	GetEntryByID(ctx context.Context, id string) (models.Entry, bool, error)
	ReplaceEntryID(ctx context.Context, oldID string, e models.Entry) error
	DeleteEntry(ctx context.Context, id string) error
}

type Connectivity interface {
	IsOnline() bool
}

// Result summarises one cycle.
type Result struct {
	// Ran is false when the cycle was a no-op: no remote store, offline, or
	// another cycle in flight.
	Ran       bool
	Attempted int
	Synced    int
	Failed    int
	// Held counts items not attempted because an earlier item for the same
	// entry failed in this cycle.
	Held int
	// Skipped counts items left untouched after the cycle was aborted.
	Skipped int
	Pruned  int64
	Errors  []error
}

type Option func(*Manager)

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithMetrics(s *metrics.Sync) Option {
	return func(m *Manager) { m.metrics = s }
}

// WithPolicy sets the retry policy applied to each item's remote calls.
func WithPolicy(p retry.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithPrune removes synced items at the end of every cycle that synced
// something.
func WithPrune(prune bool) Option {
	return func(m *Manager) { m.prune = prune }
}

type Manager struct {
	local   LocalStore
	remote  remote.Store
	conn    Connectivity
	log     logging.Logger
	metrics *metrics.Sync
	policy  retry.Policy
	prune   bool

	running atomic.Bool
}

// New builds a Manager. remote may be nil, in which case Sync is a no-op.
func New(local LocalStore, rs remote.Store, conn Connectivity, opts ...Option) *Manager {
	m := &Manager{
		local:  local,
		remote: rs,
		conn:   conn,
		log:    logging.Discard(),
		policy: retry.DefaultPolicy(),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("module", "syncer")
	return m
}

// Sync runs one replay cycle. The returned error is non-nil only when the
// queue could not be read or the cycle was aborted; per-item failures are
// reported in Result.Errors.
func (m *Manager) Sync(ctx context.Context) (Result, error) {
	if m.remote == nil {
		m.log.Debug(ctx, "no remote store configured, sync skipped")
		return Result{}, nil
	}
	if m.conn == nil || !m.conn.IsOnline() {
		m.log.Debug(ctx, "offline, sync skipped")
		return Result{}, nil
	}
	if !m.running.CompareAndSwap(false, true) {
		m.log.Debug(ctx, "sync already running, dropped")
		return Result{}, nil
	}
	defer m.running.Store(false)

	start := time.Now()
	defer func() { m.metrics.ObserveCycle(time.Since(start)) }()

	items, err := m.local.GetPendingQueueItems(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read sync queue: %w", err)
	}

	res := Result{Ran: true}
	c := newCycle(items)

	for i, item := range items {
		key := c.keys[i]
		if c.held[key] {
			res.Held++
			m.metrics.ObserveReplay(string(item.Action), "held")
			m.log.Debug(ctx, "item held behind failed predecessor", "item", item.ID, "entry", key)
			continue
		}

		res.Attempted++
		err := m.policy.Do(ctx, func(ctx context.Context) error {
			return m.replay(ctx, c, i, item)
		})
		if err == nil {
			if err := m.local.MarkQueueItemAsSynced(ctx, item.ID); err != nil {
				res.Skipped = len(items) - i - 1
				return res, fmt.Errorf("failed to mark item %d synced: %w", item.ID, err)
			}
			res.Synced++
			m.metrics.ObserveReplay(string(item.Action), "synced")
			continue
		}

		itemErr := &common.SyncItemError{ItemID: item.ID, Action: string(item.Action), Err: err}
		res.Failed++
		res.Errors = append(res.Errors, itemErr)
		c.held[key] = true
		m.metrics.ObserveReplay(string(item.Action), "failed")

		if rerr := m.local.RecordQueueFailure(ctx, item.ID, err); rerr != nil {
			m.log.Error(ctx, "failed to record queue failure", "item", item.ID, "error", rerr)
		}

		if common.IsConnectivity(err) {
			res.Skipped = len(items) - i - 1
			m.log.Warn(ctx, "connectivity lost during sync, cycle aborted", "item", item.ID, "remaining", res.Skipped)
			m.finish(ctx, &res)
			return res, itemErr
		}
		m.log.Warn(ctx, "queue item failed", "item", item.ID, "action", item.Action, "error", err)
	}

	m.finish(ctx, &res)
	m.log.Info(ctx, "sync finished",
		"attempted", res.Attempted, "synced", res.Synced, "failed", res.Failed, "held", res.Held)
	return res, nil
}

func (m *Manager) finish(ctx context.Context, res *Result) {
	if m.prune && res.Synced > 0 {
		n, err := m.local.ClearSyncedQueueItems(ctx)
		if err != nil {
			m.log.Warn(ctx, "failed to prune synced items", "error", err)
		}
		res.Pruned = n
	}
	if n, err := m.local.PendingQueueCount(ctx); err == nil {
		m.metrics.SetQueueDepth(n)
	}
}

// cycle carries what one Sync run learns about ids.
type cycle struct {
	// keys[i] is the entry id items[i] was queued against.
	keys []string
	// later[i] is true when a subsequent item targets the same entry.
	later []bool
	// gone[i] is true when a subsequent item deletes the same entry.
	gone []bool
	held map[string]bool
	// resolved maps temporary ids to remote ids created in this cycle.
	resolved map[string]string
}

func newCycle(items []models.QueueItem) *cycle {
	c := &cycle{
		keys:     make([]string, len(items)),
		later:    make([]bool, len(items)),
		gone:     make([]bool, len(items)),
		held:     map[string]bool{},
		resolved: map[string]string{},
	}
	last := map[string]int{}
	for i, item := range items {
		id, err := item.TargetID()
		if err != nil || id == "" {
			id = fmt.Sprintf("item:%d", item.ID)
		}
		c.keys[i] = id
		if j, ok := last[id]; ok {
			c.later[j] = true
		}
		last[id] = i
	}
	deleted := map[string]bool{}
	for i := len(items) - 1; i >= 0; i-- {
		c.gone[i] = deleted[c.keys[i]]
		if items[i].Action == models.ActionDelete {
			deleted[c.keys[i]] = true
		}
	}
	return c
}

func (m *Manager) replay(ctx context.Context, c *cycle, i int, item models.QueueItem) error {
	switch item.Action {
	case models.ActionCreate:
		return m.replayCreate(ctx, c, i, item)
	case models.ActionUpdate:
		return m.replayUpdate(ctx, c, i, item)
	case models.ActionDelete:
		return m.replayDelete(ctx, c, item)
	default:
		return fmt.Errorf("unknown action %q", item.Action)
	}
}

func (m *Manager) replayCreate(ctx context.Context, c *cycle, i int, item models.QueueItem) error {
	e, err := item.Entry()
	if err != nil {
		return err
	}
	tempID := e.ID
	if e.ClientID == "" {
		e.ClientID = tempID
	}

	created, found, err := m.remote.FindByClientID(ctx, e.ClientID)
	if err != nil {
		return err
	}
	if found {
		m.log.Info(ctx, "create already applied remotely, adopting row", "item", item.ID, "id", created.ID)
	} else {
		created, err = m.remote.InsertEntry(ctx, e)
		if err != nil {
			return err
		}
	}
	c.resolved[tempID] = created.ID

	// Later items will rewrite the row; keep the local content and only
	// move it to the remote id.
	if c.later[i] {
		cur, ok, err := m.local.GetEntryByID(ctx, tempID)
		if err != nil {
			return err
		}
		if ok {
			cur.ID = created.ID
			cur.ClientID = created.ClientID
			cur.Folio = created.Folio
			return m.local.ReplaceEntryID(ctx, tempID, cur)
		}
		return nil
	}
	return m.reconcile(ctx, tempID, created)
}

func (m *Manager) replayUpdate(ctx context.Context, c *cycle, i int, item models.QueueItem) error {
	e, err := item.Entry()
	if err != nil {
		return err
	}
	queuedID := e.ID
	id, err := m.resolve(ctx, c, queuedID)
	if err != nil {
		return err
	}
	e.ID = id

	updated, err := m.remote.UpdateEntry(ctx, e)
	if errors.Is(err, common.ErrNotFound) && c.gone[i] {
		m.log.Info(ctx, "entry removed remotely, update superseded by queued delete", "item", item.ID, "id", id)
		return nil
	}
	if err != nil {
		return err
	}
	if c.later[i] {
		return nil
	}
	return m.reconcile(ctx, queuedID, updated)
}

func (m *Manager) replayDelete(ctx context.Context, c *cycle, item models.QueueItem) error {
	queuedID, err := item.TargetID()
	if err != nil {
		return err
	}
	id, err := m.resolve(ctx, c, queuedID)
	if errors.Is(err, common.ErrNotFound) && models.IsTemporaryID(queuedID) {
		// Created and deleted offline: nothing ever reached the remote.
		return m.local.DeleteEntry(ctx, queuedID)
	}
	if err != nil {
		return err
	}

	if err := m.remote.DeleteDependents(ctx, id); err != nil {
		return err
	}
	if err := m.remote.DeleteEntry(ctx, id); err != nil {
		return err
	}
	if err := m.local.DeleteEntry(ctx, queuedID); err != nil {
		return err
	}
	if id != queuedID {
		return m.local.DeleteEntry(ctx, id)
	}
	return nil
}

// resolve maps a queued id to the remote id. Remote ids map to themselves;
// temporary ids go through this cycle's creates, then client_id.
func (m *Manager) resolve(ctx context.Context, c *cycle, id string) (string, error) {
	if !models.IsTemporaryID(id) {
		return id, nil
	}
	if rid, ok := c.resolved[id]; ok {
		return rid, nil
	}
	e, found, err := m.remote.FindByClientID(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", &common.RemoteError{Op: "resolve", Err: fmt.Errorf("%w: no remote row for temporary id %s", common.ErrNotFound, id)}
	}
	c.resolved[id] = e.ID
	return e.ID, nil
}

// reconcile replaces the local row queued under oldID with the remote
// record, which is no longer pending.
func (m *Manager) reconcile(ctx context.Context, oldID string, e models.Entry) error {
	e.IsOffline = false
	if err := m.local.ReplaceEntryID(ctx, oldID, e); err != nil {
		return err
	}
	return nil
}
