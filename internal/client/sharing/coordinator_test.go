package sharing

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cravecart/cravecart/internal/bus"
	"github.com/cravecart/cravecart/internal/client/location"
	"github.com/cravecart/cravecart/internal/client/notify"
	"github.com/cravecart/cravecart/internal/client/realtime"
	"github.com/cravecart/cravecart/internal/client/session/sessiontest"
	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/protocol"
)

type published struct {
	subject string
	body    string
}

type fixture struct {
	ch      *realtime.Channel
	server  bus.Conn
	coord   *Coordinator
	notices *notify.Recorder

	mu  sync.Mutex
	out []published
}

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	ctx := context.Background()
	broker := bus.NewMemory()
	f := &fixture{notices: &notify.Recorder{}}

	srv, err := broker.Dial(ctx, bus.DialOptions{Credential: func() string { return "service" }})
	require.NoError(t, err)
	f.server = srv
	_, err = srv.Subscribe(protocol.UpWildcard(), func(subject string, data []byte) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.out = append(f.out, published{subject, string(data)})
	})
	require.NoError(t, err)

	tok := sessiontest.User(t, userID)
	f.ch = realtime.New(realtime.Options{Dialer: broker, Credential: func() string { return tok }})
	_, err = f.ch.Connect(ctx, tok)
	require.NoError(t, err)
	t.Cleanup(f.ch.Disconnect)

	f.coord = New(f.ch, Options{
		Self:     func() string { return userID },
		Notifier: f.notices,
		Now:      func() time.Time { return time.Unix(100, 0) },
	})
	t.Cleanup(f.coord.Close)
	return f
}

func (f *fixture) deliver(t *testing.T, userID string, e protocol.Event, p protocol.Payload) {
	t.Helper()
	data, err := protocol.Encode(e, p)
	require.NoError(t, err)
	require.NoError(t, f.server.Publish(context.Background(), protocol.DownSubject(userID, e), data))
}

func (f *fixture) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.out...)
}

func TestShareLocation_EmitsRequest(t *testing.T) {
	f := newFixture(t, "u1")

	require.NoError(t, f.coord.ShareLocation(context.Background(), "user42", 30))

	out := f.sent()
	require.Len(t, out, 1)
	assert.Equal(t, protocol.UpSubject("u1", protocol.EventShare), out[0].subject)
	assert.JSONEq(t, `{"targetUserId":"user42","duration":30}`, out[0].body)

	grants := f.coord.Grants()
	require.Len(t, grants, 1)
	assert.Equal(t, Requested, grants[0].State)
	assert.True(t, grants[0].Outgoing)
	assert.Equal(t, "user42", grants[0].Counterpart())
}

func TestShareLocation_Preconditions(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()

	assert.ErrorIs(t, f.coord.ShareLocation(ctx, "", 30), common.ErrPrecondition)
	assert.ErrorIs(t, f.coord.ShareLocation(ctx, "u2", 0), common.ErrPrecondition)
	assert.ErrorIs(t, f.coord.ShareLocation(ctx, "u1", 5), common.ErrPrecondition)

	f.ch.Disconnect()
	assert.ErrorIs(t, f.coord.ShareLocation(ctx, "u2", 5), common.ErrPrecondition)

	assert.Empty(t, f.sent())
	assert.Empty(t, f.coord.Grants())
}

// A rejection must leave the nearby view alone.
func TestShareRejected_DoesNotTouchNearby(t *testing.T) {
	f := newFixture(t, "u1")
	loc := location.New(f.ch, nil, location.Options{})
	t.Cleanup(func() { loc.Close(context.Background()) })

	f.deliver(t, "u1", protocol.EventNearbyUsers, protocol.NearbyUsers{Users: []protocol.NearbyUser{
		{UserID: "user42", Latitude: 1, Longitude: 1, DistanceMeters: 12},
	}})
	before := loc.Nearby()
	require.Len(t, before, 1)

	require.NoError(t, f.coord.ShareLocation(context.Background(), "user42", 30))
	f.deliver(t, "u1", protocol.EventShareRejected, protocol.ShareResponse{ByUserEmail: "user42@example.com"})

	assert.Equal(t, before, loc.Nearby())

	grants := f.coord.Grants()
	require.Len(t, grants, 1)
	assert.Equal(t, Rejected, grants[0].State)

	n, ok := f.notices.Last()
	require.True(t, ok)
	assert.Equal(t, notify.Warn, n.Level)
	assert.Contains(t, n.Message, "user42@example.com")
}

func TestOutgoing_AcceptThenExpire(t *testing.T) {
	f := newFixture(t, "u1")
	require.NoError(t, f.coord.ShareLocation(context.Background(), "u2", 10))

	f.deliver(t, "u1", protocol.EventShareAccepted, protocol.ShareResponse{ByUserEmail: "u2@example.com", ByUserID: "u2", RoomID: "r1"})

	g, ok := f.coord.Grant("r1")
	require.True(t, ok)
	assert.Equal(t, Accepted, g.State)
	assert.Equal(t, "u2@example.com", g.ByUserEmail)
	assert.Len(t, f.coord.Grants(), 1, "moved from the per-target list to the room")

	f.deliver(t, "u1", protocol.EventSharedUpdate, protocol.SharedUpdate{
		RoomID: "r1", UserID: "u2", Sample: protocol.Sample{Latitude: 3, Longitude: 4, Timestamp: 9},
	})
	u, ok := f.coord.Shared("r1")
	require.True(t, ok)
	assert.Equal(t, 3.0, u.Sample.Latitude)

	f.deliver(t, "u1", protocol.EventShareExpired, protocol.ShareExpired{RoomID: "r1"})
	g, _ = f.coord.Grant("r1")
	assert.Equal(t, Expired, g.State)
	_, ok = f.coord.Shared("r1")
	assert.False(t, ok)

	// terminal: a late accept changes nothing
	f.deliver(t, "u1", protocol.EventShareAccepted, protocol.ShareResponse{ByUserID: "u2", RoomID: "r1"})
	g, _ = f.coord.Grant("r1")
	assert.Equal(t, Expired, g.State)
}

func TestOutgoing_RepeatedShareToSameUser(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()
	require.NoError(t, f.coord.ShareLocation(ctx, "u2", 10))
	require.NoError(t, f.coord.ShareLocation(ctx, "u2", 30))
	require.Len(t, f.coord.Grants(), 2)

	f.deliver(t, "u1", protocol.EventShareAccepted, protocol.ShareResponse{ByUserID: "u2", RoomID: "r1"})
	f.deliver(t, "u1", protocol.EventShareAccepted, protocol.ShareResponse{ByUserID: "u2", RoomID: "r2"})

	first, ok := f.coord.Grant("r1")
	require.True(t, ok)
	assert.Equal(t, Accepted, first.State)
	assert.Equal(t, 10, first.DurationMinutes)

	second, ok := f.coord.Grant("r2")
	require.True(t, ok)
	assert.Equal(t, Accepted, second.State)
	assert.Equal(t, 30, second.DurationMinutes)

	grants := f.coord.Grants()
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.NotEmpty(t, g.RoomID)
	}
}

func TestIncoming_AcceptEmitsExplicitAnswer(t *testing.T) {
	f := newFixture(t, "u2")
	var prompts []Grant
	f.coord.onRequest = func(g Grant) { prompts = append(prompts, g) }

	f.deliver(t, "u2", protocol.EventShareRequest, protocol.ShareRequest{
		FromUserID: "u1", FromUserEmail: "u1@example.com", Duration: 15, RoomID: "r9",
	})

	require.Len(t, prompts, 1)
	pending := f.coord.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "u1", pending[0].Counterpart())
	assert.Empty(t, f.sent(), "no implicit acceptance")

	require.NoError(t, f.coord.Accept(context.Background(), "r9"))

	out := f.sent()
	require.Len(t, out, 1)
	assert.Equal(t, protocol.UpSubject("u2", protocol.EventShareAccept), out[0].subject)
	var answer protocol.ShareAnswer
	require.NoError(t, json.Unmarshal([]byte(out[0].body), &answer))
	assert.Equal(t, protocol.ShareAnswer{FromUserID: "u1", RoomID: "r9"}, answer)

	g, _ := f.coord.Grant("r9")
	assert.Equal(t, Accepted, g.State)
	assert.Empty(t, f.coord.Pending())

	assert.ErrorIs(t, f.coord.Accept(context.Background(), "r9"), ErrInvalidTransition)
	assert.ErrorIs(t, f.coord.Reject(context.Background(), "r9"), ErrInvalidTransition)
}

func TestIncoming_Reject(t *testing.T) {
	f := newFixture(t, "u2")
	f.deliver(t, "u2", protocol.EventShareRequest, protocol.ShareRequest{FromUserID: "u1", Duration: 15, RoomID: "r9"})

	require.NoError(t, f.coord.Reject(context.Background(), "r9"))

	out := f.sent()
	require.Len(t, out, 1)
	assert.Equal(t, protocol.UpSubject("u2", protocol.EventShareReject), out[0].subject)

	g, _ := f.coord.Grant("r9")
	assert.Equal(t, Rejected, g.State)

	// a rejected grant never expires
	f.deliver(t, "u2", protocol.EventShareExpired, protocol.ShareExpired{RoomID: "r9"})
	g, _ = f.coord.Grant("r9")
	assert.Equal(t, Rejected, g.State)
}

func TestAnswerUnknownRoom(t *testing.T) {
	f := newFixture(t, "u2")
	assert.ErrorIs(t, f.coord.Accept(context.Background(), "nope"), common.ErrorNotFound)
}

func TestExpiredWithoutRoomEndsAllAccepted(t *testing.T) {
	f := newFixture(t, "u2")
	for _, room := range []string{"a", "b", "c"} {
		f.deliver(t, "u2", protocol.EventShareRequest, protocol.ShareRequest{FromUserID: "u" + room, Duration: 5, RoomID: room})
	}
	require.NoError(t, f.coord.Accept(context.Background(), "a"))
	require.NoError(t, f.coord.Accept(context.Background(), "b"))

	f.deliver(t, "u2", protocol.EventShareExpired, protocol.ShareExpired{})

	for room, want := range map[string]State{"a": Expired, "b": Expired, "c": Requested} {
		g, ok := f.coord.Grant(room)
		require.True(t, ok)
		assert.Equal(t, want, g.State, room)
	}
}

func TestSharedUpdateOutsideGrantIgnored(t *testing.T) {
	f := newFixture(t, "u1")
	f.deliver(t, "u1", protocol.EventSharedUpdate, protocol.SharedUpdate{
		RoomID: "r1", UserID: "u2", Sample: protocol.Sample{Latitude: 1, Longitude: 1, Timestamp: 1},
	})
	_, ok := f.coord.Shared("r1")
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	f := newFixture(t, "u1")
	require.NoError(t, f.coord.ShareLocation(context.Background(), "u2", 10))
	f.deliver(t, "u1", protocol.EventShareRequest, protocol.ShareRequest{FromUserID: "u3", Duration: 5, RoomID: "r"})

	f.coord.Reset()
	assert.Empty(t, f.coord.Grants())
}

func TestGrantTransitions(t *testing.T) {
	now := time.Unix(1, 0)
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Requested, Accepted, true},
		{Requested, Rejected, true},
		{Requested, Expired, false},
		{Accepted, Expired, true},
		{Accepted, Rejected, false},
		{Rejected, Accepted, false},
		{Expired, Accepted, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			g := &Grant{State: tt.from}
			err := g.transition(tt.to, now)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, g.State)
				assert.Equal(t, now, g.UpdatedAt)
				return
			}
			require.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.from, g.State)
		})
	}
}
