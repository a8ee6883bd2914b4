// Package services contains the application services of the bitacora
// client. This file defines the entry service, the single entry point for
// creating, updating, deleting and loading logbook entries. It decides
// between the remote store and the local offline path on every call.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/client/appstate"
	"github.com/dmitrijs2005/bitacora/internal/client/files"
	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/logging"
	"github.com/dmitrijs2005/bitacora/internal/metrics"
	"github.com/dmitrijs2005/bitacora/internal/remote"
	"github.com/dmitrijs2005/bitacora/internal/retry"
)

// AttachmentsSkippedWarning is reported when uploads were dropped because
// the entry was saved offline.
const AttachmentsSkippedWarning = "attachments are not uploaded while offline and were skipped"

const notifyTimeout = 15 * time.Second

// Sources reported by LoadEntries.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
	SourceMemory = "memory"
)

// EntryService defines the entry operations of the CLI.
//
// Contract:
//   - Create, Update: validate first (no I/O on a ValidationError), write to
//     the remote store when online, fall back to the local store plus the
//     sync queue on a connectivity error.
//   - Update, Delete: an entry with unsynced queue items is changed through
//     the queue so the new change replays after them.
//   - Delete: administrators only, checked before any I/O.
//   - LoadEntries, GetEntry: remote first, local store on connectivity errors.
//   - AddComment, ListComments: online only.
//   - Wait: blocks until background notifications are done.
//
// Connectivity errors never reach the caller of a mutation; remote logical
// errors and local storage errors do.
type EntryService interface {
	Create(ctx context.Context, draft models.EntryDraft) (MutationResult, error)
	Update(ctx context.Context, id string, changes models.EntryChanges) (MutationResult, error)
	Delete(ctx context.Context, id string) (MutationResult, error)
	LoadEntries(ctx context.Context, f models.EntryFilter) ([]models.Entry, string, error)
	GetEntry(ctx context.Context, id string) (models.Entry, error)
	AddComment(ctx context.Context, entryID, body string) (models.Comment, error)
	ListComments(ctx context.Context, entryID string) ([]models.Comment, error)
	Wait()
}

// MutationResult describes where a mutation landed.
type MutationResult struct {
	Entry models.Entry
	// Offline is true when the mutation was stored locally and queued.
	Offline     bool
	QueueItemID int64
	Warnings    []string
}

// LocalStore is the part of the local durable store the entry service uses.
type LocalStore interface {
	MirrorEntry(ctx context.Context, e models.Entry) (bool, error)
	GetAllEntries(ctx context.Context) ([]models.Entry, error)
	GetPendingEntries(ctx context.Context) ([]models.Entry, error)
	GetEntryByID(ctx context.Context, id string) (models.Entry, bool, error)
	GetPendingQueueItems(ctx context.Context) ([]models.QueueItem, error)
	DeleteEntry(ctx context.Context, id string) error
	CommitOffline(ctx context.Context, action models.Action, e models.Entry) (models.Entry, int64, error)
}

type FileStore interface {
	Upload(ctx context.Context, up models.Upload) (models.Attachment, error)
	Delete(ctx context.Context, fileName string) error
}

type FolioSource interface {
	Next(ctx context.Context) string
}

type Notifier interface {
	NotifyEntryCreated(ctx context.Context, e models.Entry, to []string) error
}

// EntryDeps are the collaborators of the entry service. Remote, Files and
// Notifier may be nil.
type EntryDeps struct {
	Local  LocalStore
	Remote remote.Store
	State  *appstate.State
	Folio  FolioSource
	Files  FileStore
}

type EntryOption func(*entryService)

func WithLogger(l logging.Logger) EntryOption {
	return func(s *entryService) { s.log = l }
}

func WithMetrics(m *metrics.Sync) EntryOption {
	return func(s *entryService) { s.metrics = m }
}

// WithPolicy sets the retry policy of remote writes.
func WithPolicy(p retry.Policy) EntryOption {
	return func(s *entryService) { s.policy = p }
}

// WithNotifier announces online creates to recipients.
func WithNotifier(n Notifier, recipients []string) EntryOption {
	return func(s *entryService) {
		s.notifier = n
		s.recipients = recipients
	}
}

func WithClock(now func() time.Time) EntryOption {
	return func(s *entryService) { s.now = now }
}

type entryService struct {
	local  LocalStore
	remote remote.Store
	state  *appstate.State
	folio  FolioSource
	files  FileStore

	notifier   Notifier
	recipients []string

	log     logging.Logger
	metrics *metrics.Sync
	policy  retry.Policy
	now     func() time.Time

	wg sync.WaitGroup
}

// NewEntryService constructs an EntryService from its collaborators.
func NewEntryService(deps EntryDeps, opts ...EntryOption) EntryService {
	s := &entryService{
		local:  deps.Local,
		remote: deps.Remote,
		state:  deps.State,
		folio:  deps.Folio,
		files:  deps.Files,
		log:    logging.Discard(),
		policy: retry.DefaultPolicy(),
		now:    time.Now,
	}
	if s.state == nil {
		s.state = appstate.New(nil)
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("module", "entries")
	return s
}

func (s *entryService) online() bool {
	return s.remote != nil && s.state.IsOnline()
}

// queued returns the last unsynced action per entry id. An unreadable queue
// is logged and reported as empty.
func (s *entryService) queued(ctx context.Context) map[string]models.Action {
	items, err := s.local.GetPendingQueueItems(ctx)
	if err != nil {
		s.log.Warn(ctx, "failed to read sync queue", "error", err)
		return nil
	}
	last := make(map[string]models.Action, len(items))
	for _, item := range items {
		id, err := item.TargetID()
		if err != nil || id == "" {
			continue
		}
		last[id] = item.Action
	}
	return last
}

// uploadAll uploads every file. A connectivity error reports ok=false so the
// caller switches to the offline path; files already uploaded are removed
// again. Any other error is returned.
func (s *entryService) uploadAll(ctx context.Context, uploads []models.Upload) (atts []models.Attachment, ok bool, err error) {
	if len(uploads) == 0 {
		return nil, true, nil
	}
	if s.files == nil {
		return nil, false, nil
	}
	for _, up := range uploads {
		a, err := s.files.Upload(ctx, up)
		if common.IsConnectivity(err) {
			s.log.Warn(ctx, "upload failed, continuing offline", "file", up.Name, "error", err)
			s.discard(ctx, atts)
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("upload %s: %w", up.Name, err)
		}
		atts = append(atts, a)
	}
	return atts, true, nil
}

// discard deletes uploaded files that no entry will reference.
func (s *entryService) discard(ctx context.Context, atts []models.Attachment) {
	for _, a := range atts {
		name := files.FileName(a)
		if err := s.files.Delete(ctx, name); err != nil {
			s.log.Warn(ctx, "failed to remove orphaned upload", "file", name, "error", err)
		}
	}
}

func (s *entryService) Create(ctx context.Context, draft models.EntryDraft) (MutationResult, error) {
	e := draft.Entry()
	if err := e.Validate(); err != nil {
		return MutationResult{}, err
	}

	now := s.now()
	tempID := models.NewTemporaryID(now)
	e.ClientID = tempID
	e.Folio = s.folio.Next(ctx)
	if u, ok := s.state.User(); ok {
		e.UserID = u.ID
	}

	var res MutationResult
	online := s.online()

	if online && len(draft.Uploads) > 0 {
		atts, ok, err := s.uploadAll(ctx, draft.Uploads)
		if err != nil {
			return MutationResult{}, err
		}
		if ok {
			e.Attachments = append(e.Attachments, atts...)
		} else {
			online = false
		}
	}
	if !online && len(draft.Uploads) > 0 {
		res.Warnings = append(res.Warnings, AttachmentsSkippedWarning)
	}

	if online {
		created, err := s.insert(ctx, e)
		if err == nil {
			s.mirror(ctx, created)
			s.state.PutEntry(created)
			s.notifyCreated(ctx, created)
			s.log.Info(ctx, "entry created", "id", created.ID, "folio", created.Folio)
			res.Entry = created
			return res, nil
		}
		if !common.IsConnectivity(err) {
			return MutationResult{}, err
		}
		s.log.Warn(ctx, "remote create failed, saving offline", "error", err)
	}

	e.ID = tempID
	e.IsOffline = true
	e.UpdatedAt = now.UTC()
	stored, itemID, err := s.local.CommitOffline(ctx, models.ActionCreate, e)
	if err != nil {
		return MutationResult{}, err
	}
	s.metrics.ObserveFallback("create")
	s.state.PutEntry(stored)
	s.log.Info(ctx, "entry saved offline", "id", stored.ID, "folio", stored.Folio, "item", itemID)

	res.Entry = stored
	res.Offline = true
	res.QueueItemID = itemID
	return res, nil
}

// insert creates the row, adopting an existing one with the same client id
// when a retried insert hits the uniqueness constraint.
func (s *entryService) insert(ctx context.Context, e models.Entry) (models.Entry, error) {
	var created models.Entry
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.remote.InsertEntry(ctx, e)
		if errors.Is(err, common.ErrConstraint) {
			existing, found, ferr := s.remote.FindByClientID(ctx, e.ClientID)
			if ferr != nil {
				return ferr
			}
			if found {
				created = existing
				return nil
			}
		}
		return err
	})
	return created, err
}

func (s *entryService) mirror(ctx context.Context, e models.Entry) {
	if _, err := s.local.MirrorEntry(ctx, e); err != nil {
		s.log.Warn(ctx, "failed to mirror entry locally", "id", e.ID, "error", err)
		s.state.SetDegraded(err)
	}
}

func (s *entryService) notifyCreated(ctx context.Context, e models.Entry) {
	if s.notifier == nil || len(s.recipients) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		status := "sent"
		if err := s.notifier.NotifyEntryCreated(ctx, e, s.recipients); err != nil {
			status = "failed"
			s.log.Warn(ctx, "notification failed", "id", e.ID, "error", err)
		}
		for _, r := range s.recipients {
			if err := s.remote.LogNotification(ctx, e.ID, r, status); err != nil {
				s.log.Warn(ctx, "failed to log notification", "id", e.ID, "recipient", r, "error", err)
			}
		}
	}()
}

func (s *entryService) Wait() {
	s.wg.Wait()
}

// current finds the record an update applies to: the local copy first,
// then the remote store.
func (s *entryService) current(ctx context.Context, id string) (models.Entry, error) {
	e, ok, err := s.local.GetEntryByID(ctx, id)
	if err != nil {
		s.log.Warn(ctx, "local lookup failed", "id", id, "error", err)
	}
	if ok {
		return e, nil
	}
	if s.online() && !models.IsTemporaryID(id) {
		e, err := s.remote.GetEntry(ctx, id)
		if err == nil {
			return e, nil
		}
		if !common.IsConnectivity(err) {
			return models.Entry{}, err
		}
	}
	return models.Entry{}, fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
}

func (s *entryService) Update(ctx context.Context, id string, changes models.EntryChanges) (MutationResult, error) {
	last, queued := s.queued(ctx)[id]
	if last == models.ActionDelete {
		return MutationResult{}, fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
	}
	cur, err := s.current(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}
	merged := changes.Apply(cur)
	if err := merged.Validate(); err != nil {
		return MutationResult{}, err
	}

	var res MutationResult
	// Queued work for the entry, including its create, replays first.
	online := s.online() && !models.IsTemporaryID(id) && !queued && !cur.IsOffline

	if online && len(changes.Uploads) > 0 {
		atts, ok, err := s.uploadAll(ctx, changes.Uploads)
		if err != nil {
			return MutationResult{}, err
		}
		if ok {
			merged.Attachments = append(merged.Attachments, atts...)
		} else {
			online = false
		}
	}
	if !online && len(changes.Uploads) > 0 {
		res.Warnings = append(res.Warnings, AttachmentsSkippedWarning)
	}

	if online {
		var updated models.Entry
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			updated, err = s.remote.UpdateEntry(ctx, merged)
			return err
		})
		if err == nil {
			s.mirror(ctx, updated)
			s.state.PutEntry(updated)
			s.log.Info(ctx, "entry updated", "id", updated.ID)
			res.Entry = updated
			return res, nil
		}
		if !common.IsConnectivity(err) {
			return MutationResult{}, err
		}
		s.log.Warn(ctx, "remote update failed, saving offline", "id", id, "error", err)
	}

	merged.IsOffline = true
	merged.UpdatedAt = s.now().UTC()
	stored, itemID, err := s.local.CommitOffline(ctx, models.ActionUpdate, merged)
	if err != nil {
		return MutationResult{}, err
	}
	s.metrics.ObserveFallback("update")
	s.state.PutEntry(stored)
	s.log.Info(ctx, "entry update saved offline", "id", id, "item", itemID)

	res.Entry = stored
	res.Offline = true
	res.QueueItemID = itemID
	return res, nil
}

func (s *entryService) Delete(ctx context.Context, id string) (MutationResult, error) {
	if !s.state.IsAdmin() {
		return MutationResult{}, fmt.Errorf("delete entry %s: %w", id, common.ErrPermissionDenied)
	}

	last, queued := s.queued(ctx)[id]
	if last == models.ActionDelete {
		return MutationResult{}, fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
	}

	var res MutationResult
	if s.online() && !models.IsTemporaryID(id) && !queued {
		warnings, err := s.deleteRemote(ctx, id)
		if err == nil {
			if err := s.local.DeleteEntry(ctx, id); err != nil {
				s.log.Warn(ctx, "failed to delete local mirror", "id", id, "error", err)
				s.state.SetDegraded(err)
			}
			s.state.RemoveEntry(id)
			s.log.Info(ctx, "entry deleted", "id", id)
			res.Entry = models.Entry{ID: id}
			res.Warnings = warnings
			return res, nil
		}
		if !common.IsConnectivity(err) {
			return MutationResult{}, err
		}
		s.log.Warn(ctx, "remote delete failed, saving offline", "id", id, "error", err)
	}

	_, itemID, err := s.local.CommitOffline(ctx, models.ActionDelete, models.Entry{ID: id})
	if err != nil {
		return MutationResult{}, err
	}
	s.metrics.ObserveFallback("delete")
	s.state.RemoveEntry(id)
	s.log.Info(ctx, "entry delete saved offline", "id", id, "item", itemID)

	res.Entry = models.Entry{ID: id}
	res.Offline = true
	res.QueueItemID = itemID
	return res, nil
}

// deleteRemote removes attachments (best effort), then dependent rows,
// then the entry itself.
func (s *entryService) deleteRemote(ctx context.Context, id string) ([]string, error) {
	e, err := s.remote.GetEntry(ctx, id)
	switch {
	case errors.Is(err, common.ErrNotFound):
		e, _, _ = s.local.GetEntryByID(ctx, id)
	case err != nil:
		return nil, err
	}

	var warnings []string
	if s.files != nil {
		for _, a := range e.Attachments {
			name := files.FileName(a)
			if err := s.files.Delete(ctx, name); err != nil {
				s.log.Warn(ctx, "failed to delete attachment", "id", id, "file", name, "error", err)
				warnings = append(warnings, fmt.Sprintf("attachment %s was not removed: %v", name, err))
			}
		}
	}

	err = s.policy.Do(ctx, func(ctx context.Context) error {
		if err := s.remote.DeleteDependents(ctx, id); err != nil {
			return err
		}
		return s.remote.DeleteEntry(ctx, id)
	})
	return warnings, err
}

func (s *entryService) LoadEntries(ctx context.Context, f models.EntryFilter) ([]models.Entry, string, error) {
	if s.online() {
		list, err := s.remote.ListEntries(ctx, f)
		if err == nil {
			queued := s.queued(ctx)
			kept := list[:0]
			for _, e := range list {
				// Deleted offline, gone once the queue drains.
				if queued[e.ID] == models.ActionDelete {
					continue
				}
				s.mirror(ctx, e)
				kept = append(kept, e)
			}
			list = s.withPending(ctx, kept, f)
			s.state.SetEntries(list, SourceRemote)
			return list, SourceRemote, nil
		}
		if !common.IsConnectivity(err) {
			return nil, "", err
		}
		s.log.Warn(ctx, "remote load failed, reading local store", "error", err)
	}

	all, err := s.local.GetAllEntries(ctx)
	if err != nil {
		s.state.SetDegraded(err)
		cached, _ := s.state.Entries()
		if len(cached) > 0 {
			s.log.Warn(ctx, "local store unavailable, serving cached entries", "error", err)
			return filterEntries(cached, f), SourceMemory, nil
		}
		return nil, "", err
	}
	list := filterEntries(all, f)
	s.state.SetEntries(list, SourceLocal)
	return list, SourceLocal, nil
}

// withPending overlays entries saved offline and not yet replayed: local
// edits replace their remote row and offline creates are added.
func (s *entryService) withPending(ctx context.Context, list []models.Entry, f models.EntryFilter) []models.Entry {
	pending, err := s.local.GetPendingEntries(ctx)
	if err != nil {
		s.log.Warn(ctx, "failed to read pending entries", "error", err)
		return list
	}
	if len(pending) == 0 {
		return list
	}

	byID := make(map[string]int, len(list))
	for i, e := range list {
		byID[e.ID] = i
	}
	for _, p := range pending {
		if !f.Match(p) {
			continue
		}
		if i, ok := byID[p.ID]; ok {
			list[i] = p
			continue
		}
		list = append(list, p)
	}
	sortEntries(list)
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list
}

func filterEntries(all []models.Entry, f models.EntryFilter) []models.Entry {
	out := make([]models.Entry, 0, len(all))
	for _, e := range all {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func sortEntries(list []models.Entry) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date.Time) {
			return list[i].Date.After(list[j].Date.Time)
		}
		return list[i].ID > list[j].ID
	})
}

func (s *entryService) GetEntry(ctx context.Context, id string) (models.Entry, error) {
	if s.queued(ctx)[id] == models.ActionDelete {
		return models.Entry{}, fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
	}
	if s.online() && !models.IsTemporaryID(id) {
		e, err := s.remote.GetEntry(ctx, id)
		if err == nil {
			// A pending local edit is newer than the remote row.
			if local, ok, _ := s.local.GetEntryByID(ctx, id); ok && local.IsOffline {
				return local, nil
			}
			s.mirror(ctx, e)
			return e, nil
		}
		if !common.IsConnectivity(err) {
			return models.Entry{}, err
		}
	}

	e, ok, err := s.local.GetEntryByID(ctx, id)
	if err != nil {
		return models.Entry{}, err
	}
	if !ok {
		return models.Entry{}, fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
	}
	return e, nil
}

func (s *entryService) AddComment(ctx context.Context, entryID, body string) (models.Comment, error) {
	if body == "" {
		return models.Comment{}, &common.ValidationError{Fields: []string{"comentario"}}
	}
	u, ok := s.state.User()
	if !ok {
		return models.Comment{}, common.ErrNotLoggedIn
	}
	if !s.online() || models.IsTemporaryID(entryID) {
		return models.Comment{}, fmt.Errorf("comments need a connection: %w", common.ErrConnectivity)
	}
	return s.remote.AddComment(ctx, models.Comment{EntryID: entryID, UserID: u.ID, Body: body, CreatedAt: s.now().UTC()})
}

func (s *entryService) ListComments(ctx context.Context, entryID string) ([]models.Comment, error) {
	if !s.online() || models.IsTemporaryID(entryID) {
		return nil, fmt.Errorf("comments need a connection: %w", common.ErrConnectivity)
	}
	return s.remote.ListComments(ctx, entryID)
}
