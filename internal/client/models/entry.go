// Package models defines the logbook types shared by the local store, the
// remote store and the sync machinery.
package models

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/common"
)

// Entry is a single logbook record.
//
// ID is either a temporary id (offline-created, see NewTemporaryID) or the
// remote-assigned UUID. ClientID carries the temporary id across replay so
// the remote row can be found again after a partial success.
type Entry struct {
	ID          string        `json:"id"`
	ClientID    string        `json:"client_id,omitempty"`
	Folio       string        `json:"folio"`
	Title       string        `json:"titulo"`
	Description string        `json:"descripcion"`
	Date        LocalDateTime `json:"fecha"`
	StartTime   string        `json:"hora_inicio,omitempty"`
	EndTime     string        `json:"hora_final,omitempty"`
	Category    string        `json:"tipo_nota"`
	Location    string        `json:"ubicacion"`
	Attachments []Attachment  `json:"archivos"`
	UserID      string        `json:"user_id"`
	IsOffline   bool          `json:"is_offline"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Clone returns a copy that does not share the attachments slice.
func (e Entry) Clone() Entry {
	if e.Attachments != nil {
		e.Attachments = append([]Attachment(nil), e.Attachments...)
	}
	return e
}

// Validate reports every missing required field at once.
func (e Entry) Validate() error {
	var missing []string
	if e.Date.IsZero() {
		missing = append(missing, "fecha")
	}
	if strings.TrimSpace(e.Title) == "" {
		missing = append(missing, "titulo")
	}
	if len(missing) > 0 {
		return &common.ValidationError{Fields: missing}
	}
	return nil
}

// Upload is a file the user attached to a draft; it becomes an Attachment
// once the file worker accepted it.
type Upload struct {
	Name    string
	Type    string
	Content []byte
}

// EntryDraft is the input of a create.
type EntryDraft struct {
	Title       string
	Description string
	Date        LocalDateTime
	StartTime   string
	EndTime     string
	Category    string
	Location    string
	Attachments []Attachment
	Uploads     []Upload
}

// Entry builds the record a draft describes. Identity, folio and ownership
// are left to the caller.
func (d EntryDraft) Entry() Entry {
	return Entry{
		Title:       strings.TrimSpace(d.Title),
		Description: d.Description,
		Date:        d.Date,
		StartTime:   d.StartTime,
		EndTime:     d.EndTime,
		Category:    d.Category,
		Location:    d.Location,
		Attachments: append([]Attachment(nil), d.Attachments...),
	}
}

// EntryChanges is a partial update; nil fields are left untouched.
type EntryChanges struct {
	Title       *string
	Description *string
	Date        *LocalDateTime
	StartTime   *string
	EndTime     *string
	Category    *string
	Location    *string
	Attachments *[]Attachment
	Uploads     []Upload
}

// Apply merges the changes into e. The folio and identity are never touched.
func (c EntryChanges) Apply(e Entry) Entry {
	out := e.Clone()
	if c.Title != nil {
		out.Title = strings.TrimSpace(*c.Title)
	}
	if c.Description != nil {
		out.Description = *c.Description
	}
	if c.Date != nil {
		out.Date = *c.Date
	}
	if c.StartTime != nil {
		out.StartTime = *c.StartTime
	}
	if c.EndTime != nil {
		out.EndTime = *c.EndTime
	}
	if c.Category != nil {
		out.Category = *c.Category
	}
	if c.Location != nil {
		out.Location = *c.Location
	}
	if c.Attachments != nil {
		out.Attachments = append([]Attachment(nil), (*c.Attachments)...)
	}
	return out
}

// IsEmpty is true when nothing would change.
func (c EntryChanges) IsEmpty() bool {
	return c.Title == nil && c.Description == nil && c.Date == nil &&
		c.StartTime == nil && c.EndTime == nil && c.Category == nil &&
		c.Location == nil && c.Attachments == nil && len(c.Uploads) == 0
}

// EntryFilter narrows a listing. Zero values mean "no constraint".
type EntryFilter struct {
	From     LocalDateTime
	To       LocalDateTime
	Category string
	UserID   string
	Search   string
	Limit    int
}

// Match applies the filter to an entry already in memory.
func (f EntryFilter) Match(e Entry) bool {
	if !f.From.IsZero() && e.Date.Before(f.From.Time) {
		return false
	}
	if !f.To.IsZero() && e.Date.After(f.To.Time) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, e.Category) {
		return false
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(e.Title), q) &&
			!strings.Contains(strings.ToLower(e.Description), q) &&
			!strings.Contains(strings.ToLower(e.Location), q) &&
			!strings.Contains(e.Folio, q) {
			return false
		}
	}
	return true
}
