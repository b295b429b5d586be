package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/stoppuhr/internal/domain/timing"
	"github.com/oshokin/stoppuhr/internal/metrics"
	"github.com/oshokin/stoppuhr/internal/repository/registry"
	"github.com/oshokin/stoppuhr/internal/service/events"
	"github.com/oshokin/stoppuhr/internal/service/router"
	"github.com/oshokin/stoppuhr/internal/startcard"
)

const (
	macA = "AA:BB:CC:00:00:01"
	macB = "AA:BB:CC:00:00:02"
)

var errTestPublish = errors.New("test publish error")

// recordingPublisher remembers forwarded presses.
type recordingPublisher struct {
	presses []*timing.Press
	err     error
	mu      sync.Mutex
}

// PublishPress stores press and returns the configured error.
func (p *recordingPublisher) PublishPress(_ context.Context, press *timing.Press) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.presses = append(p.presses, press)

	return p.err
}

// newTestService creates a service with 8 lanes and a fixed clock.
func newTestService(t *testing.T) *service {
	t.Helper()

	s, err := newService(serviceOptions{
		maxLane:    8,
		staleAfter: time.Minute,
		metrics:    metrics.New(),
		now:        func() time.Time { return time.UnixMilli(10_000) },
	})
	require.NoError(t, err)

	return s
}

// TestNewService_RejectsEmptyTable requires at least one lane.
func TestNewService_RejectsEmptyTable(t *testing.T) {
	t.Parallel()

	s, err := newService(serviceOptions{})
	require.Error(t, err)
	require.Nil(t, s)
}

// TestService_AssignAndMapping binds registered and provisional tasters.
func TestService_AssignAndMapping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestService(t)

	_, err := s.Heartbeat(ctx, registry.Record{MAC: macA, Label: "A"})
	require.NoError(t, err)

	_, err = s.Heartbeat(ctx, registry.Record{MAC: "AA:BB:CC:00:00:03", Label: "C"})
	require.NoError(t, err)

	device, err := s.Assign(ctx, "aa:bb:cc:00:00:01", timing.Target{Lane: 3})
	require.NoError(t, err)
	require.Equal(t, "A", device.Label)

	// Unknown MAC is bound provisionally.
	device, err = s.Assign(ctx, macB, timing.Target{Lane: 3})
	require.NoError(t, err)
	require.Equal(t, "T-AABBCC000002", device.ID)

	s.SetRun(ctx, "2")

	mapping := s.Mapping(ctx)
	require.Equal(t, 8, mapping.MaxLane)
	require.Len(t, mapping.Lanes, 8)
	require.Equal(t, "A", mapping.Lanes[2].Active.Label)
	require.Equal(t, macB, mapping.Lanes[2].Pending.MAC)
	require.Nil(t, mapping.Lanes[0].Active)
	require.Nil(t, mapping.Starter)
	require.Len(t, mapping.Unmapped, 1)
	require.Equal(t, "C", mapping.Unmapped[0].Label)
	require.Equal(t, "2", mapping.CurrentRun)
}

// TestService_AssignErrors maps bad input to kinds.
func TestService_AssignErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestService(t)

	_, err := s.Assign(ctx, "garbage", timing.Target{Lane: 1})
	require.Equal(t, timing.KindBadRequest, timing.KindOf(err))

	_, err = s.Assign(ctx, macA, timing.Target{Lane: 0})
	require.Equal(t, timing.KindLaneOutOfRange, timing.KindOf(err))

	_, err = s.Assign(ctx, macA, timing.Target{Lane: 9})
	require.Equal(t, timing.KindLaneOutOfRange, timing.KindOf(err))

	require.Equal(t, timing.KindLaneOutOfRange, timing.KindOf(s.Unassign(ctx, timing.Target{Lane: 9})))
	require.Equal(t, timing.KindLaneOutOfRange, timing.KindOf(s.Confirm(ctx, 0)))

	for _, lane := range s.Mapping(ctx).Lanes {
		require.Nil(t, lane.Active)
	}
}

// TestService_StarterTarget binds and clears the starter slot.
func TestService_StarterTarget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestService(t)

	_, err := s.Assign(ctx, macA, timing.Target{Lane: 1})
	require.NoError(t, err)

	_, err = s.Assign(ctx, macA, timing.Target{Starter: true})
	require.NoError(t, err)

	mapping := s.Mapping(ctx)
	require.Nil(t, mapping.Lanes[0].Active)
	require.Equal(t, macA, mapping.Starter.MAC)

	require.NoError(t, s.Unassign(ctx, timing.Target{Starter: true}))
	require.Nil(t, s.Mapping(ctx).Starter)
}

// TestService_PressFlow routes presses and notifies subscribers and publishers.
func TestService_PressFlow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestService(t)
	publisher := &recordingPublisher{err: errTestPublish}
	s.addPublisher(publisher)

	sub, cancel := s.hub.Subscribe()
	t.Cleanup(cancel)

	_, err := s.Heartbeat(ctx, registry.Record{MAC: macA})
	require.NoError(t, err)

	_, err = s.Assign(ctx, macA, timing.Target{Lane: 3})
	require.NoError(t, err)
	require.Equal(t, events.TypeMapping, (<-sub).Type)

	s.SetRun(ctx, "2")
	require.Equal(t, events.TypeRun, (<-sub).Type)

	ts := int64(1000)
	press := s.Press(ctx, router.Request{MAC: macA, TS: &ts})
	require.True(t, press.OK())
	require.Equal(t, 3, press.Lane)
	require.Equal(t, "2", press.Run)

	ev := <-sub
	require.Equal(t, events.TypePress, ev.Type)
	require.Same(t, press, ev.Data)
	require.Len(t, publisher.presses, 1)

	// Rejected presses are shown but not forwarded.
	press = s.Press(ctx, router.Request{MAC: "FF:FF:FF:FF:FF:FF", TS: &ts})
	require.Equal(t, timing.KindDeviceUnknown, press.Kind())
	require.Equal(t, events.TypePress, (<-sub).Type)
	require.Len(t, publisher.presses, 1)
}

// TestService_ConfirmSwapsAuthority promotes the pending taster.
func TestService_ConfirmSwapsAuthority(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestService(t)

	for _, mac := range []string{macA, macB} {
		_, err := s.Heartbeat(ctx, registry.Record{MAC: mac})
		require.NoError(t, err)

		_, err = s.Assign(ctx, mac, timing.Target{Lane: 1})
		require.NoError(t, err)
	}

	require.Equal(t, timing.KindPendingNotConfirmed, s.Press(ctx, router.Request{MAC: macB}).Kind())
	require.NoError(t, s.Confirm(ctx, 1))
	require.True(t, s.Press(ctx, router.Request{MAC: macB}).OK())
	require.Equal(t, timing.KindUnassigned, s.Press(ctx, router.Request{MAC: macA}).Kind())
}

// TestService_IsStale uses the service clock.
func TestService_IsStale(t *testing.T) {
	t.Parallel()

	s := newTestService(t)

	require.False(t, s.IsStale(&timing.Device{LastSeen: time.UnixMilli(9_000)}))
	require.True(t, s.IsStale(&timing.Device{LastSeen: time.UnixMilli(10_000).Add(-2 * time.Minute)}))
}

// TestService_ReloadStartCardsResizes applies the lane count of the export.
func TestService_ReloadStartCardsResizes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Bahn;Lauf;Name\n1;1;X\n5;1;Y\n"))
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()

	s, err := newService(serviceOptions{
		maxLane:    8,
		startCards: startcard.NewProvider(startcard.Settings{BaseURL: srv.URL}, 8, time.Second),
	})
	require.NoError(t, err)

	_, err = s.Assign(ctx, macA, timing.Target{Lane: 7})
	require.NoError(t, err)

	snapshot, err := s.ReloadStartCards(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, snapshot.MaxLane)
	require.Equal(t, 5, s.Mapping(ctx).MaxLane)

	// The binding on lane 7 was dropped.
	_, ok := s.store.ResolveLane(timing.DeviceIDFromMAC(macA))
	require.False(t, ok)

	s.UpdateStartCardSettings(ctx, startcard.Settings{BaseURL: "http://127.0.0.1:1"})

	_, err = s.ReloadStartCards(ctx)
	require.ErrorIs(t, err, timing.ErrTransport)
	require.Equal(t, 5, s.Mapping(ctx).MaxLane)
	require.Equal(t, 2, s.StartCards(ctx).RowCount)
	require.Equal(t, "http://127.0.0.1:1", s.StartCardSettings(ctx).BaseURL)
}

// TestService_MappingKeepsStarterExclusive reads the mapping while a taster
// moves between the starter slot and lane 1.
func TestService_MappingKeepsStarterExclusive(t *testing.T) {
	t.Parallel()

	var (
		ctx  = context.Background()
		s    = newTestService(t)
		done = make(chan struct{})
		wg   sync.WaitGroup
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		for {
			select {
			case <-done:
				return
			default:
			}

			_, _ = s.Assign(ctx, macA, timing.Target{Starter: true})
			_, _ = s.Assign(ctx, macA, timing.Target{Lane: 1})
		}
	}()

	for range 2000 {
		mapping := s.Mapping(ctx)
		if mapping.Starter != nil && mapping.Lanes[0].Active != nil {
			require.NotEqual(t, mapping.Starter.ID, mapping.Lanes[0].Active.ID)
		}
	}

	close(done)
	wg.Wait()
}

// TestService_ReloadStartCardsCountsFetches records every reload outcome,
// scheduled refreshes included.
func TestService_ReloadStartCardsCountsFetches(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		m   = metrics.New()
	)

	s, err := newService(serviceOptions{
		maxLane:    8,
		metrics:    m,
		startCards: startcard.NewProvider(startcard.Settings{BaseURL: "http://127.0.0.1:1"}, 8, time.Second),
	})
	require.NoError(t, err)

	var refresh startcard.RefreshFunc = s.ReloadStartCards

	_, err = refresh(ctx)
	require.ErrorIs(t, err, timing.ErrTransport)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Contains(t, rec.Body.String(), `stoppuhr_startcard_fetches_total{outcome="TransportError"} 1`)
}
