package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cravecart/cravecart/internal/bus"
	"github.com/cravecart/cravecart/internal/logging"
	"github.com/cravecart/cravecart/internal/protocol"
	"github.com/cravecart/cravecart/internal/server/config"
	"github.com/cravecart/cravecart/internal/server/repositories/repomanager"
)

func newTestApp(t *testing.T) (*App, sqlmock.Sqlmock, *bus.Memory) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	b := bus.NewMemory()
	conn, err := b.Dial(context.Background(), bus.DialOptions{Name: "hub"})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.HTTPAddr = "127.0.0.1:0"

	return assemble(cfg, logging.NewNop(), db, repomanager.NewPostgresRepositoryManager(), conn), mock, b
}

func TestAssemble_ServesHealthAndMetrics(t *testing.T) {
	app, mock, _ := newTestApp(t)
	t.Cleanup(func() { _ = app.db.Close() })
	mock.ExpectPing()

	srv := httptest.NewServer(app.api.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mfs, err := app.registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["cravecart_hub_tracked_users"])
	assert.True(t, names["go_goroutines"])
}

func TestSweepTokens(t *testing.T) {
	app, mock, _ := newTestApp(t)
	t.Cleanup(func() { _ = app.db.Close() })
	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.sweepTokens(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRun_StopsOnCancel(t *testing.T) {
	app, mock, b := newTestApp(t)
	mock.ExpectClose()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- app.Run(ctx) }()

	// the hub answers once it is subscribed
	user, err := b.Dial(context.Background(), bus.DialOptions{})
	require.NoError(t, err)
	got := make(chan struct{}, 1)
	_, err = user.Subscribe(protocol.DownWildcard("alice"), func(string, []byte) {
		select {
		case got <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_ = user.Publish(context.Background(), protocol.UpSubject("alice", protocol.EventStartTracking), []byte(`{}`))
		select {
		case <-got:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 1, b.Conns(), "only the test client remains")
	assert.NoError(t, mock.ExpectationsWereMet())
}
