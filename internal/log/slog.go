package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type slogLogger struct {
	h                 slog.Handler
	attrs             []slog.Attr
	includeErrorLinks bool
	maxErrorLinks     int
}

type hasPC interface {
	PC() uintptr
}

type hasStack interface {
	StackPCs() []uintptr
}

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}
	if opts.MaxErrorLinks <= 0 {
		opts.MaxErrorLinks = 8
	}

	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	var h slog.Handler
	if opts.JsonFormat {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	h = otelHandler{next: h}
	h = stackHandler{next: h, level: opts.StacktraceLevel}

	base := []slog.Attr{slog.String("app", opts.App)}
	if opts.Version != "" {
		base = append(base, slog.String("version", opts.Version))
	}
	if opts.Commit != "" {
		base = append(base, slog.String("commit", opts.Commit))
	}
	if opts.BuildId != "" {
		base = append(base, slog.String("build_id", opts.BuildId))
	}

	return &slogLogger{
		h:                 h,
		attrs:             base,
		includeErrorLinks: opts.IncludeErrorLinks,
		maxErrorLinks:     opts.MaxErrorLinks,
	}, nil
}

func (s *slogLogger) With(kv ...any) Logger {
	// copy-on-write so derived loggers can be shared across goroutines
	next := make([]slog.Attr, 0, len(s.attrs)+len(kv)/2)
	next = append(next, s.attrs...)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			next = append(next, slog.Any(k, kv[i+1]))
		}
	}
	return &slogLogger{
		h:                 s.h,
		attrs:             next,
		includeErrorLinks: s.includeErrorLinks,
		maxErrorLinks:     s.maxErrorLinks,
	}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.log(ctx, slog.LevelDebug, msg, kv...)
}

func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.log(ctx, slog.LevelInfo, msg, kv...)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.log(ctx, slog.LevelWarn, msg, kv...)
}

func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err != nil {
		surface, root := classifyTypes(err)
		kv = append(kv,
			"err", err,
			"error_type", surface,
			"cause_type", root,
		)
		if chain := errorChain(err); len(chain) > 1 {
			kv = append(kv, "error_chain", chain)
		}
		if s.includeErrorLinks {
			kv = append(kv, "error_links", chainLinks(err, s.maxErrorLinks))
		}
	}
	s.log(ctx, slog.LevelError, msg, kv...)
}

func (s *slogLogger) Sync() error { return nil }

func (s *slogLogger) log(ctx context.Context, lvl slog.Level, msg string, kv ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// skip runtime.Callers, log, and the exported level method
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	r.AddAttrs(s.attrs...)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			r.AddAttrs(slog.Any(k, kv[i+1]))
		}
	}
	_ = s.h.Handle(ctx, r)
}

// otelHandler adds trace_id and span_id when ctx carries a span
type otelHandler struct{ next slog.Handler }

func (h otelHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h otelHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}

func (h otelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return otelHandler{next: h.next.WithAttrs(attrs)}
}

func (h otelHandler) WithGroup(name string) slog.Handler {
	return otelHandler{next: h.next.WithGroup(name)}
}

// stackHandler attaches a stack to records at or above level, preferring the
// stack captured on the logged error over the logging call site.
type stackHandler struct {
	next  slog.Handler
	level slog.Level
}

func (h stackHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h stackHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level {
		var pcs []uintptr
		r.Attrs(func(a slog.Attr) bool {
			if a.Key != "err" {
				return true
			}
			var hs hasStack
			if err, ok := a.Value.Any().(error); ok && errors.As(err, &hs) {
				pcs = hs.StackPCs()
			}
			return false
		})
		if len(pcs) == 0 {
			pcs = make([]uintptr, 64)
			// skip runtime.Callers and Handle
			pcs = pcs[:runtime.Callers(2, pcs)]
		}
		r.AddAttrs(slog.String("stack", renderPCs(pcs)))
	}
	return h.next.Handle(ctx, r)
}

func (h stackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return stackHandler{next: h.next.WithAttrs(attrs), level: h.level}
}

func (h stackHandler) WithGroup(name string) slog.Handler {
	return stackHandler{next: h.next.WithGroup(name), level: h.level}
}

func internalFrame(fn string) bool {
	return strings.HasPrefix(fn, "log/slog.") ||
		strings.Contains(fn, "/internal/log.") ||
		strings.Contains(fn, "/internal/xerrors.")
}

// renderPCs prints func/file:line pairs, dropping leading logger frames and
// stopping at the runtime.
func renderPCs(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	started := false
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		if !started && !internalFrame(fr.Function) {
			started = true
		}
		if started {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

func errorChain(err error) []string {
	out := make([]string, 0, 8)
	var prev string
	add := func(msg string) {
		if msg != prev {
			out = append(out, msg)
			prev = msg
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
	}
	// errors.Join results do not unwrap through errors.Unwrap
	if m, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range m.Unwrap() {
			add(e.Error())
		}
	}
	return out
}

func chainLinks(err error, max int) []map[string]any {
	links := make([]map[string]any, 0, 8)
	for depth, e := 0, err; e != nil && (max <= 0 || depth < max); depth, e = depth+1, errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		fn, file, line, ok := "", "", 0, false
		switch v := e.(type) {
		case hasPC:
			fn, file, line, ok = frameFromPC(v.PC())
		case hasStack:
			fn, file, line, ok = firstExtFrame(v.StackPCs())
		}
		if ok {
			link["func"], link["file"], link["line"] = fn, file, line
		}
		if depth == 0 || ok {
			links = append(links, link)
		}
	}
	return links
}

func frameFromPC(pc uintptr) (fn, file string, line int, ok bool) {
	if pc == 0 {
		return "", "", 0, false
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr.Function, fr.File, fr.Line, true
}

func firstExtFrame(pcs []uintptr) (fn, file string, line int, ok bool) {
	frames := runtime.CallersFrames(pcs)
	for len(pcs) > 0 {
		fr, more := frames.Next()
		if !strings.HasPrefix(fr.Function, "runtime.") && !internalFrame(fr.Function) {
			return fr.Function, fr.File, fr.Line, true
		}
		if !more {
			break
		}
	}
	return "", "", 0, false
}

// classifyTypes returns the first non-wrapper type in the chain and the
// type of the innermost error.
func classifyTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		u := t
		for u.Kind() == reflect.Ptr {
			u = u.Elem()
		}
		if strings.Contains(u.PkgPath(), "/internal/xerrors") {
			continue
		}
		if u.PkgPath() == "fmt" && u.Name() == "wrapError" {
			continue
		}
		surface = t.String()
		break
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}

	last := err
	for e := err; e != nil; e = errors.Unwrap(e) {
		last = e
	}
	return surface, fmt.Sprintf("%T", last)
}
