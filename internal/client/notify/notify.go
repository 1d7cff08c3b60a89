// Package notify delivers user-visible notices: auth teardown, transport
// loss, positioning failures and sharing prompts.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cravecart/cravecart/internal/logging"
)

type Level int

const (
	Info Level = iota
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

type Notice struct {
	Level   Level
	Message string
	Err     error
	At      time.Time
}

func (n Notice) String() string {
	if n.Err != nil {
		return fmt.Sprintf("%s: %v", n.Message, n.Err)
	}
	return n.Message
}

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notice)

func (f Func) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Send stamps and delivers a notice; a nil Notifier drops it.
func Send(ctx context.Context, to Notifier, level Level, msg string, err error) {
	if to == nil {
		return
	}
	to.Notify(ctx, Notice{Level: level, Message: msg, Err: err, At: time.Now()})
}

// Printer writes one line per notice, e.g. to the terminal.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Notify(_ context.Context, n Notice) {
	prefix := "*"
	switch n.Level {
	case Warn:
		prefix = "!"
	case Error:
		prefix = "x"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] %s\n", prefix, n)
}

// Log records notices in the structured log.
type Log struct {
	log logging.Logger
}

func NewLog(l logging.Logger) *Log {
	return &Log{log: l.With("module", "notify")}
}

func (l *Log) Notify(ctx context.Context, n Notice) {
	args := []any{"message", n.Message}
	if n.Err != nil {
		args = append(args, "error", n.Err)
	}
	switch n.Level {
	case Error:
		l.log.Error(ctx, "notice", args...)
	case Warn:
		l.log.Warn(ctx, "notice", args...)
	default:
		l.log.Info(ctx, "notice", args...)
	}
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, x := range m {
		x.Notify(ctx, n)
	}
}

// Recorder keeps every notice; tests use it to assert on user-visible
// output.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Last returns the most recent notice and whether there was one.
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}
