package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFlushInterval = 30 * time.Second

	// The final page flush retries so a single transient append failure
	// cannot drop the buffered tail of the run.
	finalFlushRetries = 3
	finalFlushBackoff = 100 * time.Millisecond
)

// PageSink publishes the execution record to the remote store. The engine
// supplies an implementation backed by the pages database; tests supply
// fakes. All methods are best-effort from the logger's point of view.
type PageSink interface {
	CreateRunPage(ctx context.Context, rec Record) (pageID string, err error)
	AppendRunLog(ctx context.Context, pageID string, lines []string) error
	FinalizeRunPage(ctx context.Context, pageID string, rec Record) error
}

// Options configures a Logger.
type Options struct {
	Pair          *FilePair
	RunID         string
	Console       slog.Handler // optional, usually a tint handler on stderr
	Page          PageSink     // optional
	Level         slog.Level
	FlushInterval time.Duration
	Clock         func() time.Time
}

// Logger fans every log entry out to the jsonl file, the plaintext file,
// the console, and a buffer bound for the remote execution page.
type Logger struct {
	pair    *FilePair
	runID   string
	console slog.Handler
	page    PageSink
	level   slog.Level
	clock   func() time.Time

	mu      sync.Mutex
	pending []string
	pageID  string

	fileErrOnce sync.Once

	flushEvery time.Duration
	stop       context.CancelFunc
	group      *errgroup.Group
}

// New builds a Logger over an open file pair.
func New(opts Options) *Logger {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}

	return &Logger{
		pair:       opts.Pair,
		runID:      opts.RunID,
		console:    opts.Console,
		page:       opts.Page,
		level:      opts.Level,
		clock:      opts.Clock,
		flushEvery: opts.FlushInterval,
	}
}

// Slog returns a structured logger whose entries reach every sink.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(&sinkHandler{logger: l, console: l.console})
}

// SetPageSink attaches the execution page sink. The sink usually needs a
// client built with this logger, so it arrives after construction. Must be
// called before Start.
func (l *Logger) SetPageSink(p PageSink) {
	l.page = p
}

// Start creates the remote execution page and begins periodic flushing.
// Page creation failure is reported through the returned error but the
// logger stays fully functional on its file sinks.
func (l *Logger) Start(ctx context.Context, rec Record) error {
	if l.page == nil {
		return nil
	}

	pageID, err := l.page.CreateRunPage(ctx, rec)
	if err != nil {
		return fmt.Errorf("runlog: creating execution page: %w", err)
	}

	l.mu.Lock()
	l.pageID = pageID
	l.mu.Unlock()

	flushCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.stop = cancel
	l.group, flushCtx = errgroup.WithContext(flushCtx)

	l.group.Go(func() error {
		ticker := time.NewTicker(l.flushEvery)
		defer ticker.Stop()

		for {
			select {
			case <-flushCtx.Done():
				return nil
			case <-ticker.C:
				l.flushPage(flushCtx)
			}
		}
	})

	return nil
}

// flushPage sends buffered plaintext lines to the execution page. Lines are
// requeued on failure so the next flush retries them.
func (l *Logger) flushPage(ctx context.Context) error {
	l.mu.Lock()
	pageID := l.pageID
	lines := l.pending
	l.pending = nil
	l.mu.Unlock()

	if pageID == "" || len(lines) == 0 {
		return nil
	}

	if err := l.page.AppendRunLog(ctx, pageID, lines); err != nil {
		l.mu.Lock()
		l.pending = append(lines, l.pending...)
		l.mu.Unlock()

		return err
	}

	return nil
}

// Finalize writes the summary entry, renames the file pair to its final
// status, and closes out the execution page. The page's final status is set
// last; page errors never block the file rename.
func (l *Logger) Finalize(ctx context.Context, rec Record) error {
	if l.stop != nil {
		l.stop()
		l.group.Wait()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("runlog: encoding summary: %w", err)
	}

	if err := l.pair.WriteJSONL(line); err != nil {
		return err
	}

	summary := fmt.Sprintf("%s run %s: %s (%.1fs)", rec.Status, rec.RunID, rec.Summary, rec.DurationSeconds)
	if err := l.pair.WritePlain(summary); err != nil {
		return err
	}

	if err := l.pair.Finalize(rec.Status); err != nil {
		return err
	}

	if l.page == nil {
		return nil
	}

	l.mu.Lock()
	pageID := l.pageID
	l.mu.Unlock()

	if pageID == "" {
		return nil
	}

	backoff := retry.WithMaxRetries(finalFlushRetries, retry.NewExponential(finalFlushBackoff))

	flushErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := l.flushPage(ctx); err != nil {
			return retry.RetryableError(err)
		}

		return nil
	})
	if flushErr != nil {
		return fmt.Errorf("runlog: flushing execution page: %w", flushErr)
	}

	if err := l.page.FinalizeRunPage(ctx, pageID, rec); err != nil {
		return fmt.Errorf("runlog: finalizing execution page: %w", err)
	}

	return nil
}

// write is the fan-out point all slog entries funnel through.
func (l *Logger) write(e Entry) {
	var sinkErr error

	line, err := json.Marshal(e)
	if err != nil {
		sinkErr = err
	} else if jerr := l.pair.WriteJSONL(line); jerr != nil {
		sinkErr = jerr
	}

	plain := formatPlain(e)
	if perr := l.pair.WritePlain(plain); perr != nil && sinkErr == nil {
		sinkErr = perr
	}

	if l.page != nil {
		l.mu.Lock()
		l.pending = append(l.pending, plain)
		l.mu.Unlock()
	}

	if sinkErr != nil {
		l.reportFileError(sinkErr)
	}
}

// reportFileError raises the first file-sink failure on the console, once,
// so a run cannot end with silently empty log files.
func (l *Logger) reportFileError(err error) {
	l.fileErrOnce.Do(func() {
		if l.console == nil {
			return
		}

		r := slog.NewRecord(l.clock(), slog.LevelWarn, "log file write failed: "+err.Error(), 0)
		l.console.Handle(context.Background(), r)
	})
}

func formatPlain(e Entry) string {
	var b strings.Builder

	b.WriteString(e.Timestamp.Format("2006-01-02 15:04:05"))
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%-5s", e.Level))

	if e.Component != "" {
		b.WriteString(" [" + e.Component + "]")
	}

	b.WriteString(" " + e.Message)

	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		b.WriteString(fmt.Sprintf(" %s=%v", k, e.Context[k]))
	}

	return b.String()
}

// sinkHandler adapts the Logger to slog. Groups flatten into dotted keys;
// the "component" attribute is promoted out of the context object.
type sinkHandler struct {
	logger  *Logger
	console slog.Handler
	attrs   []slog.Attr
	prefix  string
}

func (h *sinkHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.logger.level
}

func (h *sinkHandler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{
		RunID:     h.logger.runID,
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Context:   make(map[string]any),
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = h.logger.clock()
	}

	collect := func(a slog.Attr, prefix string) {
		key := prefix + a.Key
		if key == "component" {
			e.Component = a.Value.Resolve().String()
			return
		}

		e.Context[key] = a.Value.Resolve().Any()
	}

	for _, a := range h.attrs {
		collect(a, "")
	}

	r.Attrs(func(a slog.Attr) bool {
		collect(a, h.prefix)
		return true
	})

	if len(e.Context) == 0 {
		e.Context = nil
	}

	h.logger.write(e)

	if h.console != nil && h.console.Enabled(ctx, r.Level) {
		return h.console.Handle(ctx, r)
	}

	return nil
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)

	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}

	if h.console != nil {
		next.console = h.console.WithAttrs(attrs)
	}

	return &next
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	next := *h
	next.prefix = h.prefix + name + "."

	if h.console != nil {
		next.console = h.console.WithGroup(name)
	}

	return &next
}
