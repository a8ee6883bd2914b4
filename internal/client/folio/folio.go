// Package folio assigns the human-readable sequence number of new entries.
package folio

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/bitacora/internal/logging"
)

// Width is the zero-padded length of a folio.
const Width = 4

type RemoteSource interface {
	MaxFolio(ctx context.Context) (int, error)
}

type LocalSource interface {
	MaxFolio(ctx context.Context, pendingOnly bool) (int, error)
}

type Connectivity interface {
	IsOnline() bool
}

type Option func(*Generator)

func WithLogger(l logging.Logger) Option {
	return func(g *Generator) { g.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// Generator consults the remote store when online, the local store
// otherwise, and the clock when neither knows a folio.
//
// Folios produced offline are provisional: another client may assign the
// same number before this one syncs. That collision is not detected.
type Generator struct {
	remote RemoteSource
	local  LocalSource
	conn   Connectivity
	now    func() time.Time
	log    logging.Logger
}

// New builds a generator. remote may be nil when no backend is configured.
func New(remote RemoteSource, local LocalSource, conn Connectivity, opts ...Option) *Generator {
	g := &Generator{
		remote: remote,
		local:  local,
		conn:   conn,
		now:    time.Now,
		log:    logging.Discard(),
	}
	for _, o := range opts {
		o(g)
	}
	g.log = g.log.With("module", "folio")
	return g
}

// Next returns the folio for a new entry. It never fails: every source
// error degrades to the next source.
func (g *Generator) Next(ctx context.Context) string {
	if g.remote != nil && g.conn != nil && g.conn.IsOnline() {
		n, err := g.remote.MaxFolio(ctx)
		if err == nil {
			// Offline entries not yet replayed hold folios the remote has
			// not seen.
			if pending, perr := g.localMax(ctx, true); perr == nil && pending > n {
				n = pending
			}
			return Format(n + 1)
		}
		g.log.Warn(ctx, "remote folio lookup failed, using local store", "error", err)
	}

	n, err := g.localMax(ctx, false)
	if err != nil {
		g.log.Warn(ctx, "local folio lookup failed", "error", err)
	} else if n > 0 {
		return Format(n + 1)
	}

	f := Fallback(g.now())
	g.log.Info(ctx, "no folio source available, using clock", "folio", f)
	return f
}

func (g *Generator) localMax(ctx context.Context, pendingOnly bool) (int, error) {
	if g.local == nil {
		return 0, fmt.Errorf("no local store")
	}
	return g.local.MaxFolio(ctx, pendingOnly)
}

// Format zero-pads n to Width digits. Larger numbers keep all their digits.
func Format(n int) string {
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("%0*d", Width, n)
}

// Fallback is the last four digits of the current millisecond timestamp.
// It is not guaranteed to be unique.
func Fallback(now time.Time) string {
	return Format(int(now.UnixMilli() % 10000))
}
