package positioning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cravecart/cravecart/internal/common"
	"github.com/cravecart/cravecart/internal/protocol"
)

func TestSimulator_CurrentWalksWithinStep(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s := NewSimulator(52.52, 13.40, SimulatorOptions{Step: 10, Seed: 1, Now: func() time.Time { return now }})

	prev := protocol.Sample{Latitude: 52.52, Longitude: 13.40}
	for range 20 {
		got, err := s.Current(context.Background())
		require.NoError(t, err)
		require.NoError(t, got.Validate())
		assert.Equal(t, now.UnixMilli(), got.Timestamp)
		require.NotNil(t, got.Accuracy)

		dLat := (got.Latitude - prev.Latitude) * metersPerDegree
		assert.LessOrEqual(t, dLat, 10.0+1e-6)
		assert.GreaterOrEqual(t, dLat, -10.0-1e-6)
		prev = got
	}
}

func TestSimulator_Disabled(t *testing.T) {
	s := NewSimulator(0, 0, SimulatorOptions{Seed: 1})
	s.SetEnabled(false)

	assert.False(t, s.Available())

	_, err := s.Current(context.Background())
	require.ErrorIs(t, err, common.ErrPositioning)
	require.ErrorIs(t, err, ErrDisabled)

	_, err = s.Watch(func(protocol.Sample) {}, func(error) {})
	require.ErrorIs(t, err, ErrDisabled)
}

func TestSimulator_Fail(t *testing.T) {
	s := NewSimulator(0, 0, SimulatorOptions{Seed: 1})
	boom := errors.New("signal lost")
	s.Fail(boom)

	_, err := s.Current(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, common.ErrPositioning)

	s.Fail(nil)
	_, err = s.Current(context.Background())
	require.NoError(t, err)
}

func TestSimulator_CurrentHonorsContext(t *testing.T) {
	s := NewSimulator(0, 0, SimulatorOptions{Seed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Current(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSimulator_Watch(t *testing.T) {
	s := NewSimulator(10, 10, SimulatorOptions{Seed: 1, Interval: 2 * time.Millisecond})

	var mu sync.Mutex
	var got []protocol.Sample
	stop, err := s.Watch(func(p protocol.Sample) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
	}, func(error) {})
	require.NoError(t, err)

	_, err = s.Watch(func(protocol.Sample) {}, func(error) {})
	require.ErrorIs(t, err, ErrWatching)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 3
	}, time.Second, time.Millisecond)

	stop()
	stop()

	mu.Lock()
	n := len(got)
	mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, n, len(got))
	mu.Unlock()

	// a new watch may start after stop
	stop, err = s.Watch(func(protocol.Sample) {}, func(error) {})
	require.NoError(t, err)
	stop()
}

func TestSimulator_WatchReportsErrors(t *testing.T) {
	s := NewSimulator(10, 10, SimulatorOptions{Seed: 1, Interval: 2 * time.Millisecond})
	s.Fail(errors.New("no fix"))

	errs := make(chan error, 8)
	stop, err := s.Watch(func(protocol.Sample) {}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, common.ErrPositioning)
	case <-time.After(time.Second):
		t.Fatal("no error reported")
	}
}

func TestWrap(t *testing.T) {
	assert.InDelta(t, -179.0, wrap(181), 1e-9)
	assert.InDelta(t, 179.0, wrap(-181), 1e-9)
	assert.InDelta(t, 10.0, wrap(10), 1e-9)
}
