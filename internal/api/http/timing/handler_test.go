package timing

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	grpcapi "github.com/oshokin/stoppuhr/internal/api/grpc/timing"
	domain "github.com/oshokin/stoppuhr/internal/domain/timing"
	"github.com/oshokin/stoppuhr/internal/repository/assignment"
	"github.com/oshokin/stoppuhr/internal/repository/registry"
	"github.com/oshokin/stoppuhr/internal/repository/run"
	"github.com/oshokin/stoppuhr/internal/service/events"
	"github.com/oshokin/stoppuhr/internal/service/router"
	"github.com/oshokin/stoppuhr/internal/service/system"
	"github.com/oshokin/stoppuhr/internal/startcard"
)

const (
	macA = "AA:BB:CC:00:00:01"
	macB = "AA:BB:CC:00:00:02"
)

// fakeService implements Service on top of the in-memory repositories.
type fakeService struct {
	registry *registry.Registry
	store    *assignment.Store
	runs     *run.Context
	router   *router.Router
	cards    *startcard.Provider
	hub      *events.Hub
}

// newFakeService creates a service with 8 lanes.
func newFakeService(t *testing.T) *fakeService {
	t.Helper()

	store, err := assignment.NewStore(8)
	require.NoError(t, err)

	reg := registry.New()
	runs := run.New()

	return &fakeService{
		registry: reg,
		store:    store,
		runs:     runs,
		router:   router.New(reg, store, runs),
		cards:    startcard.NewProvider(startcard.Settings{}, 8, time.Second),
		hub:      events.NewHub(4),
	}
}

func (f *fakeService) Mapping(context.Context) *domain.Mapping {
	states := f.store.Snapshots()
	m := &domain.Mapping{MaxLane: len(states), Lanes: make([]domain.LaneView, len(states))}

	for i, state := range states {
		m.Lanes[i].Lane = i + 1

		if id, ok := state.Active(); ok {
			m.Lanes[i].Active, _ = f.registry.FindByID(id)
		}

		if id, ok := state.Pending(); ok {
			m.Lanes[i].Pending, _ = f.registry.FindByID(id)
		}
	}

	m.CurrentRun, _ = f.runs.Current()

	return m
}

func (f *fakeService) Assign(_ context.Context, mac string, target domain.Target) (*domain.Device, error) {
	device, ok := f.registry.FindByMAC(mac)
	if !ok {
		normalized, err := domain.NormalizeMAC(mac)
		if err != nil {
			return nil, err
		}

		device = &domain.Device{ID: domain.DeviceIDFromMAC(normalized), MAC: normalized}
	}

	if target.Starter {
		return device, f.store.AssignStarter(device.ID)
	}

	if err := f.store.Assign(device.ID, target.Lane); err != nil {
		return nil, err
	}

	return device, nil
}

func (f *fakeService) Unassign(_ context.Context, target domain.Target) error {
	if target.Starter {
		f.store.UnassignStarter()

		return nil
	}

	return f.store.Unassign(target.Lane)
}

func (f *fakeService) Confirm(_ context.Context, lane int) error {
	return f.store.ConfirmPending(lane)
}

func (f *fakeService) Press(ctx context.Context, req router.Request) *domain.Press {
	press := f.router.Route(ctx, req)
	f.hub.Publish(events.Event{Type: events.TypePress, Data: press})

	return press
}

func (f *fakeService) CurrentRun(context.Context) (string, bool) { return f.runs.Current() }

func (f *fakeService) SetRun(_ context.Context, value string) string { return f.runs.SetCurrent(value) }

func (f *fakeService) Heartbeat(_ context.Context, rec registry.Record) (*domain.Device, error) {
	return f.registry.Upsert(rec)
}

func (f *fakeService) Devices(context.Context) []*domain.Device { return f.registry.List() }

func (f *fakeService) IsStale(device *domain.Device) bool {
	return device.IsStale(time.Now(), time.Minute)
}

func (f *fakeService) StartCards(context.Context) *startcard.Snapshot { return f.cards.Snapshot() }

func (f *fakeService) ReloadStartCards(ctx context.Context) (*startcard.Snapshot, error) {
	return f.cards.Refresh(ctx)
}

func (f *fakeService) StartCardSettings(context.Context) startcard.Settings { return f.cards.Settings() }

func (f *fakeService) UpdateStartCardSettings(_ context.Context, s startcard.Settings) startcard.Settings {
	return f.cards.SetSettings(s)
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// newTestEngine creates the engine with all optional routes.
func newTestEngine(t *testing.T, svc *fakeService) *gin.Engine {
	t.Helper()

	return NewHandler(Options{
		Service:        svc,
		Events:         svc.hub,
		Metrics:        http.NotFoundHandler(),
		Status:         system.NewReporter(nil),
		AccessLogLevel: zapcore.ErrorLevel,
	}).Engine()
}

// do performs a request and decodes the JSON response.
func do(t *testing.T, engine http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}

	return rec.Code, out
}

// TestHandler_AssignAndMapping binds tasters and reads the mapping back.
func TestHandler_AssignAndMapping(t *testing.T) {
	t.Parallel()

	svc := newFakeService(t)
	engine := newTestEngine(t, svc)

	code, body := do(t, engine, http.MethodPost, "/api/taster", `{"mac":"aa:bb:cc:00:00:01","name":"A","battery_percent":77}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["ok"])

	code, body = do(t, engine, http.MethodPost, "/api/assign", `{"mac":"AA:BB:CC:00:00:01","lane":3}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "A", body["taster"].(map[string]any)["name"])

	code, _ = do(t, engine, http.MethodPost, "/api/assign", `{"mac":"AA:BB:CC:00:00:02","lane":"3"}`)
	require.Equal(t, http.StatusOK, code)

	code, body = do(t, engine, http.MethodGet, "/api/mapping", "")
	require.Equal(t, http.StatusOK, code)

	mapping := body["mapping"].(map[string]any)
	require.Len(t, mapping, 8)
	require.Nil(t, mapping["1"])
	require.Equal(t, macA, mapping["3"].(map[string]any)["mac"])

	pending := body["pending"].(map[string]any)
	require.Contains(t, pending, "3")
	require.InDelta(t, 8, body["max_lane"], 0)
	require.Nil(t, body["current_run"])
}

// TestHandler_AssignErrors returns kind names with matching status codes.
func TestHandler_AssignErrors(t *testing.T) {
	t.Parallel()

	svc := newFakeService(t)
	engine := newTestEngine(t, svc)

	for _, tc := range []struct {
		body   string
		status int
		kind   string
	}{
		{`{"mac":"AA:BB:CC:00:00:01","lane":0}`, http.StatusBadRequest, "LaneOutOfRange"},
		{`{"mac":"AA:BB:CC:00:00:01","lane":9}`, http.StatusBadRequest, "LaneOutOfRange"},
		{`{"mac":"AA:BB:CC:00:00:01","lane":"nine"}`, http.StatusBadRequest, "BadRequest"},
		{`{"mac":"AA:BB:CC:00:00:01"}`, http.StatusBadRequest, "BadRequest"},
		{`{"mac":"nope","lane":1}`, http.StatusBadRequest, "BadRequest"},
		{`not json`, http.StatusBadRequest, "BadRequest"},
	} {
		code, body := do(t, engine, http.MethodPost, "/api/assign", tc.body)
		require.Equal(t, tc.status, code, tc.body)
		require.Equal(t, false, body["ok"], tc.body)
		require.Equal(t, tc.kind, body["error"], tc.body)
	}
}

// TestHandler_UnassignAndConfirm walks the pending lifecycle over HTTP.
func TestHandler_UnassignAndConfirm(t *testing.T) {
	t.Parallel()

	svc := newFakeService(t)
	engine := newTestEngine(t, svc)

	do(t, engine, http.MethodPost, "/api/assign", `{"mac":"`+macA+`","lane":1}`)
	do(t, engine, http.MethodPost, "/api/assign", `{"mac":"`+macB+`","lane":1}`)

	code, _ := do(t, engine, http.MethodPost, "/api/confirm", `{"lane":1}`)
	require.Equal(t, http.StatusOK, code)

	state, err := svc.store.Snapshot(1)
	require.NoError(t, err)

	active, _ := state.Active()
	require.Equal(t, domain.DeviceIDFromMAC(macB), active)

	code, body := do(t, engine, http.MethodPost, "/api/confirm", `{"lane":"starter"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "BadRequest", body["error"])

	code, _ = do(t, engine, http.MethodPost, "/api/unassign", `{"lane":"1"}`)
	require.Equal(t, http.StatusOK, code)

	state, _ = svc.store.Snapshot(1)
	require.Equal(t, domain.LaneEmpty, state.Kind())

	code, body = do(t, engine, http.MethodPost, "/api/unassign", `{"lane":42}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "LaneOutOfRange", body["error"])
}

// TestHandler_Triggers covers success and each rejection kind.
func TestHandler_Triggers(t *testing.T) {
	t.Parallel()

	svc := newFakeService(t)
	engine := newTestEngine(t, svc)

	do(t, engine, http.MethodPost, "/api/taster", `{"mac":"`+macA+`"}`)
	do(t, engine, http.MethodPost, "/api/taster", `{"mac":"`+macB+`"}`)
	do(t, engine, http.MethodPost, "/api/assign", `{"mac":"`+macA+`","lane":3}`)
	do(t, engine, http.MethodPost, "/api/assign", `{"mac":"`+macB+`","lane":3}`)

	code, body := do(t, engine, http.MethodPost, "/api/runs", `{"current_run":2}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "2", body["run"])

	code, body = do(t, engine, http.MethodPost, "/api/triggers", `{"mac":"`+macA+`","ts":1000,"stopwatch_ms":5000}`)
	require.Equal(t, http.StatusOK, code)

	press := body["press"].(map[string]any)
	require.InDelta(t, 3, press["lane"], 0)
	require.Equal(t, "2", press["run"])
	require.Equal(t, macA, press["mac"])
	require.InDelta(t, 1000, press["ts"], 0)
	require.InDelta(t, 5000, press["stopwatch_ms"], 0)

	code, body = do(t, engine, http.MethodPost, "/api/triggers", `{"mac":"`+macB+`","ts":1000}`)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "PendingNotConfirmed", body["error"])

	code, body = do(t, engine, http.MethodPost, "/api/triggers", `{"mac":"FF:FF:FF:FF:FF:FF"}`)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "DeviceUnknown", body["error"])

	do(t, engine, http.MethodPost, "/api/unassign", `{"lane":3}`)
	do(t, engine, http.MethodPost, "/api/unassign", `{"lane":3}`)

	code, body = do(t, engine, http.MethodPost, "/api/triggers", `{"mac":"`+macA+`"}`)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "Unassigned", body["error"])
}

// TestHandler_Runs sets and clears the current run.
func TestHandler_Runs(t *testing.T) {
	t.Parallel()

	svc := newFakeService(t)
	engine := newTestEngine(t, svc)

	code, body := do(t, engine, http.MethodPost, "/api/runs", `{"current_run":"Finale"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Finale", body["run"])

	code, body = do(t, engine, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Finale", body["run"])

	code, body = do(t, engine, http.MethodPost, "/api/runs", `{"current_run":null}`)
	require.Equal(t, http.StatusOK, code)
	require.Nil(t, body["run"])

	_, ok := svc.runs.Current()
	require.False(t, ok)
}

// TestHandler_StarterPress routes the starter taster.
func TestHandler_StarterPress(t *testing.T) {
	t.Parallel()

	svc := newFakeService(t)
	engine := newTestEngine(t, svc)

	do(t, engine, http.MethodPost, "/api/taster", `{"mac":"`+macA+`"}`)

	code, _ := do(t, engine, http.MethodPost, "/api/assign", `{"mac":"`+macA+`","lane":"starter"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, engine, http.MethodPost, "/api/triggers", `{"mac":"`+macA+`"}`)
	require.Equal(t, http.StatusOK, code)

	press := body["press"].(map[string]any)
	require.Equal(t, true, press["starter"])
	require.Nil(t, press["lane"])
}

// TestHandler_StartCardsAndSettings reloads from a fake export.
func TestHandler_StartCardsAndSettings(t *testing.T) {
	t.Parallel()

	export := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Bahn;Lauf;Name\n1;1;X\n4;2;Y\n"))
	}))
	t.Cleanup(export.Close)

	svc := newFakeService(t)
	engine := newTestEngine(t, svc)

	code, body := do(t, engine, http.MethodPost, "/api/startcards/reload", "")
	require.Equal(t, http.StatusBadGateway, code)
	require.Equal(t, false, body["ok"])

	code, body = do(t, engine, http.MethodPost, "/api/startcards/reload", `{"base_url":"`+export.URL+`"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["ok"])
	require.InDelta(t, 4, body["max_lane"], 0)

	code, body = do(t, engine, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, export.URL, body["startcards_base_url"])

	code, body = do(t, engine, http.MethodPost, "/api/settings", `{"startcards_suffix":"/x.csv"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "/x.csv", body["startcards_suffix"])

	code, body = do(t, engine, http.MethodGet, "/api/startcards", "")
	require.Equal(t, http.StatusOK, code)
	require.InDelta(t, 2, body["row_count"], 0)
}

// TestHandler_InfoEndpoints serves version, taster list and system status.
func TestHandler_InfoEndpoints(t *testing.T) {
	t.Parallel()

	svc := newFakeService(t)
	engine := newTestEngine(t, svc)

	code, body := do(t, engine, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body["version"])

	do(t, engine, http.MethodPost, "/api/taster", `{"mac":"`+macA+`","ts":1}`)

	code, body = do(t, engine, http.MethodGet, "/api/taster-list", "")
	require.Equal(t, http.StatusOK, code)

	tasters := body["tasters"].([]any)
	require.Len(t, tasters, 1)
	require.Equal(t, true, tasters[0].(map[string]any)["stale"])

	code, body = do(t, engine, http.MethodGet, "/api/system-status", "")
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body["os"])
}

// TestHandler_Events streams a press to an SSE client.
func TestHandler_Events(t *testing.T) {
	t.Parallel()

	svc := newFakeService(t)
	srv := httptest.NewServer(newTestEngine(t, svc))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)

	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: connected\n", line)

	// Skip the connected data line and the blank separator.
	_, _ = reader.ReadString('\n')
	_, _ = reader.ReadString('\n')

	require.Eventually(t, func() bool { return svc.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	ts := int64(7)
	svc.Press(ctx, router.Request{MAC: "FF:FF:FF:FF:FF:FF", TS: &ts})

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: press\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, `"error":"DeviceUnknown"`)
}

// TestHandler_MappingMatchesGRPCReply serves the same mapping document as GetMapping.
func TestHandler_MappingMatchesGRPCReply(t *testing.T) {
	t.Parallel()

	var (
		ctx    = context.Background()
		svc    = newFakeService(t)
		engine = newTestEngine(t, svc)
	)

	code, _ := do(t, engine, http.MethodPost, "/api/taster", `{"mac":"AA:BB:CC:00:00:01","name":"A","ts":5000}`)
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, engine, http.MethodPost, "/api/assign", `{"mac":"AA:BB:CC:00:00:01","lane":2}`)
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/api/mapping", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got grpcapi.MappingReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, grpcapi.NewMappingReply(svc.Mapping(ctx), svc.IsStale), &got)

	var legacy struct {
		UnmappedTaster []*grpcapi.Device `json:"unmapped_taster"`
	}

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &legacy))
	require.Equal(t, got.Unmapped, legacy.UnmappedTaster)
}

// TestPressDTO_CarriesOutcome flattens the wire press and its outcome.
func TestPressDTO_CarriesOutcome(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(toPressDTO(&domain.Press{ID: "p1", MAC: macA, TS: 7, Lane: 3}))
	require.NoError(t, err)
	require.JSONEq(t,
		`{"id":"p1","lane":3,"run":null,"mac":"AA:BB:CC:00:00:01","ts":7,"stopwatch_ms":null,"starter":false,"ok":true}`,
		string(data))

	data, err = json.Marshal(toPressDTO(&domain.Press{ID: "p2", MAC: macB, TS: 8, Lane: 3, Err: domain.ErrUnassigned}))
	require.NoError(t, err)
	require.JSONEq(t,
		`{"id":"p2","lane":null,"run":null,"mac":"AA:BB:CC:00:00:02","ts":8,"stopwatch_ms":null,"starter":false,"ok":false,"error":"Unassigned"}`,
		string(data))
}
