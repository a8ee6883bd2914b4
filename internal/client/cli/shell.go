package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/client/app"
	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/client/services"
	"github.com/dmitrijs2005/bitacora/internal/common"
)

// Shell runs the user-facing operations against one session. The cobra
// commands and the REPL both go through it.
type Shell struct {
	app    *app.App
	reader *bufio.Reader
	out    io.Writer
	now    func() time.Time
}

func NewShell(a *app.App, in io.Reader, out io.Writer) *Shell {
	return &Shell{app: a, reader: bufio.NewReader(in), out: out, now: time.Now}
}

func (s *Shell) isLoggedIn() bool {
	_, ok := s.app.State.User()
	return ok
}

// prompt is the REPL prompt status, e.g. "(residente@obra.mx online 2 pending)".
func (s *Shell) prompt(ctx context.Context) string {
	st := s.app.Status(ctx)
	var parts []string
	if st.User != nil {
		parts = append(parts, st.User.Email)
	}
	switch {
	case !st.Connectivity.Known:
	case st.Connectivity.Online:
		parts = append(parts, "online")
	default:
		parts = append(parts, "offline")
	}
	if st.Pending > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", st.Pending))
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func loadUploads(paths []string) ([]models.Upload, error) {
	var ups []models.Upload
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		typ := mime.TypeByExtension(filepath.Ext(p))
		if typ == "" {
			typ = http.DetectContentType(b)
		}
		ups = append(ups, models.Upload{Name: filepath.Base(p), Type: typ, Content: b})
	}
	return ups, nil
}

// explain rewrites the errors a user can act on.
func explain(err error) error {
	var ve *common.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ve):
		return fmt.Errorf("missing required fields: %s", strings.Join(ve.Fields, ", "))
	case errors.Is(err, common.ErrPermissionDenied):
		return fmt.Errorf("permission denied: %w", err)
	case errors.Is(err, common.ErrNotFound):
		return fmt.Errorf("entry not found: %w", err)
	case errors.Is(err, common.ErrNotLoggedIn):
		return errors.New("not logged in, run login first")
	case errors.Is(err, common.ErrStorage):
		return fmt.Errorf("local storage unavailable, changes cannot be saved: %w", err)
	}
	return err
}

// warnSkippedUploads tells the user before submitting that the files will
// not be attached. It reports whether the warning was printed.
func (s *Shell) warnSkippedUploads(ups []models.Upload) bool {
	if len(ups) == 0 || s.app.State.IsOnline() {
		return false
	}
	fmt.Fprintf(s.out, "warning: offline, %d attachment(s) will not be uploaded and the entry is saved without them.\n", len(ups))
	return true
}

func dropSkippedWarning(res services.MutationResult) services.MutationResult {
	res.Warnings = slices.DeleteFunc(res.Warnings, func(w string) bool {
		return w == services.AttachmentsSkippedWarning
	})
	return res
}

func (s *Shell) createEntry(ctx context.Context, d models.EntryDraft, paths []string) error {
	ups, err := loadUploads(paths)
	if err != nil {
		return err
	}
	d.Uploads = ups
	warned := s.warnSkippedUploads(ups)
	res, err := s.app.Entries.Create(ctx, d)
	if err != nil {
		return explain(err)
	}
	if warned {
		res = dropSkippedWarning(res)
	}
	printResult(s.out, "created", res)
	return nil
}

func (s *Shell) updateEntry(ctx context.Context, id string, ch models.EntryChanges, paths []string) error {
	ups, err := loadUploads(paths)
	if err != nil {
		return err
	}
	ch.Uploads = ups
	if ch.IsEmpty() {
		fmt.Fprintln(s.out, "Nothing to change.")
		return nil
	}
	warned := s.warnSkippedUploads(ups)
	res, err := s.app.Entries.Update(ctx, id, ch)
	if err != nil {
		return explain(err)
	}
	if warned {
		res = dropSkippedWarning(res)
	}
	printResult(s.out, "updated", res)
	return nil
}

func (s *Shell) deleteEntry(ctx context.Context, id string) error {
	res, err := s.app.Entries.Delete(ctx, id)
	if err != nil {
		return explain(err)
	}
	if res.Offline {
		fmt.Fprintf(s.out, "Entry %s deleted offline (queue item #%d).\n", id, res.QueueItemID)
	} else {
		fmt.Fprintf(s.out, "Entry %s deleted.\n", id)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(s.out, "warning: %s\n", w)
	}
	return nil
}

func (s *Shell) listEntries(ctx context.Context, f models.EntryFilter) error {
	list, source, err := s.app.Entries.LoadEntries(ctx, f)
	if err != nil {
		return explain(err)
	}
	printEntries(s.out, list, source)
	return nil
}

func (s *Shell) showEntry(ctx context.Context, id string) error {
	e, err := s.app.Entries.GetEntry(ctx, id)
	if err != nil {
		return explain(err)
	}
	printEntry(s.out, e)

	comments, err := s.app.Entries.ListComments(ctx, id)
	switch {
	case err == nil:
		printComments(s.out, comments)
	case common.IsConnectivity(err):
		fmt.Fprintln(s.out, "\n(comments are not available offline)")
	case errors.Is(err, common.ErrNotFound):
	default:
		fmt.Fprintf(s.out, "\n(comments unavailable: %v)\n", err)
	}
	return nil
}

func (s *Shell) addComment(ctx context.Context, id, body string) error {
	c, err := s.app.Entries.AddComment(ctx, id, body)
	if err != nil {
		if common.IsConnectivity(err) {
			return errors.New("comments need a connection, try again when online")
		}
		return explain(err)
	}
	fmt.Fprintf(s.out, "Comment %s added.\n", c.ID)
	return nil
}

func (s *Shell) syncNow(ctx context.Context) error {
	st, _ := s.app.Monitor.Check(ctx)
	if !st.Online {
		n, _ := s.app.Local.PendingQueueCount(ctx)
		fmt.Fprintf(s.out, "Offline: %d items stay queued.\n", n)
		return nil
	}
	res, err := s.app.Syncer.Sync(ctx)
	if !res.Ran && err == nil {
		fmt.Fprintln(s.out, "Nothing to sync.")
		return nil
	}
	fmt.Fprintf(s.out, "Synced %d of %d items (failed %d, held %d, skipped %d).\n",
		res.Synced, res.Attempted, res.Failed, res.Held, res.Skipped)
	for _, e := range res.Errors {
		fmt.Fprintf(s.out, "  %v\n", e)
	}
	if err != nil {
		return err
	}
	_, _, err = s.app.Entries.LoadEntries(ctx, models.EntryFilter{})
	return explain(err)
}

func (s *Shell) showStatus(ctx context.Context) error {
	printStatus(s.out, s.app.Status(ctx))
	return nil
}

func (s *Shell) showQueue(ctx context.Context) error {
	items, err := s.app.Local.GetQueueItems(ctx)
	if err != nil {
		return explain(err)
	}
	printQueue(s.out, items)
	return nil
}

func (s *Shell) loginWith(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("empty token")
	}
	u, err := s.app.Auth.Login(ctx, token)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(s.out, "Logged in as %s (%s).\n", u.Email, roleOf(u))
	return nil
}

// Interactive variants used by the REPL.

func (s *Shell) Login(ctx context.Context) error {
	token, err := GetSecret(s.reader, "Access token", s.out)
	if err != nil {
		return err
	}
	return s.loginWith(ctx, token)
}

func (s *Shell) Logout(ctx context.Context) error {
	if err := s.app.Auth.Logout(ctx); err != nil {
		return explain(err)
	}
	fmt.Fprintln(s.out, "Logged out.")
	return nil
}

func (s *Shell) Create(ctx context.Context) error {
	title, err := GetSimpleText(s.reader, "Título", s.out)
	if err != nil {
		return err
	}
	desc, err := GetMultiline(s.reader, "Descripción", s.out)
	if err != nil {
		return err
	}
	now := models.NewLocalDateTime(s.now())
	rawDate, err := GetOptional(s.reader, "Fecha", now.String(), s.out)
	if err != nil {
		return err
	}
	date := now
	if rawDate != nil {
		if date, err = models.ParseLocalDateTime(*rawDate); err != nil {
			return err
		}
	}
	start, err := GetSimpleText(s.reader, "Hora de inicio (HH:MM, opcional)", s.out)
	if err != nil {
		return err
	}
	end, err := GetSimpleText(s.reader, "Hora final (HH:MM, opcional)", s.out)
	if err != nil {
		return err
	}
	category, err := GetSimpleText(s.reader, "Tipo de nota", s.out)
	if err != nil {
		return err
	}
	location, err := GetSimpleText(s.reader, "Ubicación", s.out)
	if err != nil {
		return err
	}
	files, err := GetSimpleText(s.reader, "Archivos (rutas separadas por coma, opcional)", s.out)
	if err != nil {
		return err
	}

	d := models.EntryDraft{
		Title:       title,
		Description: desc,
		Date:        date,
		StartTime:   start,
		EndTime:     end,
		Category:    category,
		Location:    location,
	}
	return s.createEntry(ctx, d, splitList(files))
}

func (s *Shell) Update(ctx context.Context, id string) error {
	cur, err := s.app.Entries.GetEntry(ctx, id)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintln(s.out, "Press Enter to keep the current value.")

	var ch models.EntryChanges
	if ch.Title, err = GetOptional(s.reader, "Título", cur.Title, s.out); err != nil {
		return err
	}
	if ch.Description, err = GetOptional(s.reader, "Descripción", truncate(cur.Description, 30), s.out); err != nil {
		return err
	}
	rawDate, err := GetOptional(s.reader, "Fecha", cur.Date.String(), s.out)
	if err != nil {
		return err
	}
	if rawDate != nil {
		d, err := models.ParseLocalDateTime(*rawDate)
		if err != nil {
			return err
		}
		ch.Date = &d
	}
	if ch.Category, err = GetOptional(s.reader, "Tipo de nota", cur.Category, s.out); err != nil {
		return err
	}
	if ch.Location, err = GetOptional(s.reader, "Ubicación", cur.Location, s.out); err != nil {
		return err
	}
	files, err := GetSimpleText(s.reader, "Archivos nuevos (rutas separadas por coma, opcional)", s.out)
	if err != nil {
		return err
	}
	return s.updateEntry(ctx, id, ch, splitList(files))
}

func (s *Shell) Delete(ctx context.Context, id string) error {
	answer, err := GetSimpleText(s.reader, fmt.Sprintf("Delete entry %s and its comments? (s/N)", id), s.out)
	if err != nil {
		return err
	}
	switch strings.ToLower(answer) {
	case "s", "si", "sí", "y", "yes":
		return s.deleteEntry(ctx, id)
	}
	fmt.Fprintln(s.out, "Cancelled.")
	return nil
}

func (s *Shell) Comment(ctx context.Context, id string) error {
	body, err := GetMultiline(s.reader, "Comentario", s.out)
	if err != nil {
		return err
	}
	return s.addComment(ctx, id, body)
}

func (s *Shell) List(ctx context.Context, search string) error {
	return s.listEntries(ctx, models.EntryFilter{Search: search})
}

func (s *Shell) Show(ctx context.Context, id string) error { return s.showEntry(ctx, id) }
func (s *Shell) Sync(ctx context.Context) error { return s.syncNow(ctx) }
func (s *Shell) Status(ctx context.Context) error { return s.showStatus(ctx) }
func (s *Shell) Queue(ctx context.Context) error { return s.showQueue(ctx) }
