package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cravecart/cravecart/internal/logging"
)

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	Send(context.Background(), p, Info, "tracking started", nil)
	Send(context.Background(), p, Error, "session ended", errors.New("refresh failed"))

	assert.Equal(t, "[*] tracking started\n[x] session ended: refresh failed\n", buf.String())
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	Send(context.Background(), Multi{&a, &b}, Warn, "reconnecting", nil)

	for _, r := range []*Recorder{&a, &b} {
		n, ok := r.Last()
		assert.True(t, ok)
		assert.Equal(t, Warn, n.Level)
		assert.Equal(t, "reconnecting", n.Message)
		assert.False(t, n.At.IsZero())
	}
}

func TestSend_NilNotifier(t *testing.T) {
	assert.NotPanics(t, func() { Send(context.Background(), nil, Info, "x", nil) })
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(logging.NewText(&buf, slog.LevelDebug))

	l.Notify(context.Background(), Notice{Level: Error, Message: "disconnected", Err: errors.New("eof")})

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "module=notify")
	assert.Contains(t, out, "message=disconnected")
	assert.Contains(t, out, "error=eof")
}

func TestFunc(t *testing.T) {
	var got string
	Func(func(_ context.Context, n Notice) { got = n.Message }).Notify(context.Background(), Notice{Message: "hi"})
	assert.Equal(t, "hi", got)
}
