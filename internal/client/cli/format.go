package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/client/app"
	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/client/services"
)

func entryState(e models.Entry) string {
	if e.IsOffline {
		return "pendiente"
	}
	return "sincronizada"
}

func printEntries(w io.Writer, list []models.Entry, source string) {
	if len(list) == 0 {
		fmt.Fprintf(w, "No entries (%s).\n", source)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FOLIO\tFECHA\tTÍTULO\tTIPO\tESTADO\tID")
	for _, e := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Folio, e.Date, truncate(e.Title, 40), e.Category, entryState(e), e.ID)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d entries (%s)\n", len(list), source)
}

func printEntry(w io.Writer, e models.Entry) {
	fmt.Fprintf(w, "Folio:       %s\n", e.Folio)
	fmt.Fprintf(w, "ID:          %s\n", e.ID)
	fmt.Fprintf(w, "Título:      %s\n", e.Title)
	fmt.Fprintf(w, "Fecha:       %s\n", e.Date)
	if e.StartTime != "" || e.EndTime != "" {
		fmt.Fprintf(w, "Horario:     %s - %s\n", e.StartTime, e.EndTime)
	}
	if e.Category != "" {
		fmt.Fprintf(w, "Tipo:        %s\n", e.Category)
	}
	if e.Location != "" {
		fmt.Fprintf(w, "Ubicación:   %s\n", e.Location)
	}
	fmt.Fprintf(w, "Estado:      %s\n", entryState(e))
	if e.Description != "" {
		fmt.Fprintf(w, "\n%s\n", e.Description)
	}
	if len(e.Attachments) > 0 {
		fmt.Fprintln(w, "\nArchivos:")
		for _, a := range e.Attachments {
			fmt.Fprintf(w, "  - %s %s\n", a.Name, a.URL)
		}
	}
}

func printComments(w io.Writer, list []models.Comment) {
	if len(list) == 0 {
		return
	}
	fmt.Fprintln(w, "\nComentarios:")
	for _, c := range list {
		fmt.Fprintf(w, "  [%s] %s: %s\n", c.CreatedAt.Local().Format("2006-01-02 15:04"), c.UserID, c.Body)
	}
}

func printResult(w io.Writer, verb string, res services.MutationResult) {
	e := res.Entry
	if res.Offline {
		fmt.Fprintf(w, "Entry %s saved offline (folio %s, queue item #%d); it will sync when the connection returns.\n",
			verb, e.Folio, res.QueueItemID)
	} else {
		fmt.Fprintf(w, "Entry %s (folio %s, id %s).\n", verb, e.Folio, e.ID)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}

func printStatus(w io.Writer, st app.Status) {
	conn := "unknown"
	switch {
	case !st.Connectivity.Known:
	case st.Connectivity.Online:
		conn = "online"
	default:
		conn = "offline"
	}
	if st.Connectivity.Known {
		conn += " (checked " + st.Connectivity.CheckedAt.Local().Format(time.TimeOnly) + ")"
	}
	fmt.Fprintf(w, "Connection:    %s\n", conn)
	fmt.Fprintf(w, "Remote:        %s\n", st.RemoteMode)
	if st.User != nil {
		fmt.Fprintf(w, "User:          %s (%s)\n", st.User.Email, roleOf(*st.User))
	} else {
		fmt.Fprintln(w, "User:          not logged in")
	}
	fmt.Fprintf(w, "Pending items: %d\n", st.Pending)
	if st.Source != "" {
		fmt.Fprintf(w, "Entries from:  %s\n", st.Source)
	}
	if st.Degraded != nil {
		fmt.Fprintf(w, "Local store:   degraded (%v)\n", st.Degraded)
	}
}

func roleOf(u models.User) string {
	if u.Role == "" {
		return "sin rol"
	}
	return u.Role
}

func printQueue(w io.Writer, items []models.QueueItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "Queue is empty.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tACTION\tENTRY\tENQUEUED\tSYNCED\tATTEMPTS\tLAST ERROR")
	for _, it := range items {
		target, _ := it.TargetID()
		synced := "no"
		if it.Synced {
			synced = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			it.ID, it.Action, target, it.EnqueuedAt.Local().Format("2006-01-02 15:04:05"),
			synced, it.Attempts, truncate(it.LastError, 50))
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
