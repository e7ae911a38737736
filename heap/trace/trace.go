// Package trace emits one structured record per state-changing
// allocator operation: the operation name, the affected addresses, a
// compact visualization of the free pool, and the source site (file and
// line) that emitted the record.
//
// The global logger discards everything by default. Call Init to attach
// a sink, or set HEAPKIT_TRACE=1 to log to stderr.
package trace

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/heapkit/heap/block"
)

// L is the global trace logger.
var L *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

var enabled = os.Getenv("HEAPKIT_TRACE") != ""

var printer = message.NewPrinter(language.English)

func init() {
	if enabled {
		L = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

// Options configures trace emission.
type Options struct {
	Enabled bool
	Output  io.Writer  // defaults to stderr
	Level   slog.Level // defaults to LevelInfo
	JSON    bool
}

// Init configures the global trace logger. With Enabled false all
// output is discarded.
func Init(opts Options) {
	if !opts.Enabled {
		enabled = false
		L = slog.New(slog.NewTextHandler(io.Discard, nil))
		return
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	h := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		L = slog.New(slog.NewJSONHandler(out, h))
	} else {
		L = slog.New(slog.NewTextHandler(out, h))
	}
	enabled = true
}

// Enabled reports whether records are being emitted. Callers use it to
// skip building attributes on the hot path.
func Enabled() bool { return enabled }

// Op emits one record for a state-changing operation, labeled with the
// caller's source site.
func Op(name string, attrs ...any) {
	if !enabled {
		return
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		attrs = append(attrs, "site", fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}
	L.Info(name, attrs...)
}

// Render formats a pool snapshot as a compact one-line visualization,
// one segment per free span.
func Render(spans []block.Block) string {
	if len(spans) == 0 {
		return "<empty>"
	}
	var sb strings.Builder
	for _, s := range spans {
		fmt.Fprintf(&sb, "|0x%x+%d", s.Base(), s.Size())
	}
	sb.WriteByte('|')
	return sb.String()
}

// HumanBytes formats a byte count with thousands separators for
// operator-facing output.
func HumanBytes(n uint64) string {
	return printer.Sprintf("%d B", n)
}
