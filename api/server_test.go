package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/flexsim/core/aggregator"
	"github.com/kilianp07/flexsim/core/clock"
	"github.com/kilianp07/flexsim/core/device"
	"github.com/kilianp07/flexsim/core/model"
	"github.com/kilianp07/flexsim/core/notify"
	"github.com/kilianp07/flexsim/core/reportlog"
	"github.com/kilianp07/flexsim/core/task"
	"github.com/kilianp07/flexsim/infra/ledger/memory"
)

const startTS int64 = 1_000_000

type fixture struct {
	srv     *Server
	agg     *aggregator.Aggregator
	ledger  *memory.Ledger
	bus     *notify.Bus
	reports *reportlog.MemoryStore
}

func newFixture(t *testing.T, start bool) *fixture {
	t.Helper()
	params := device.DefaultParams()
	params.MinValue, params.MaxValue = 50, 50
	params.PersonalProbability, params.WeatherProbability = 0, 0

	f := &fixture{
		ledger:  memory.New(nil),
		bus:     notify.NewBus(16),
		reports: reportlog.NewMemoryStore(),
	}
	agg, err := aggregator.New(aggregator.Options{
		Population: device.Population{device.Solar: 1, device.Wind: 1},
		Params:     params,
	}, aggregator.Deps{
		Clock:    clock.New(clock.Options{Start: startTS, Increment: 60}, nil),
		Ledger:   f.ledger,
		Notifier: f.bus,
		Reports:  f.reports,
		Spawner:  task.Inline{},
	})
	require.NoError(t, err)
	f.agg = agg
	t.Cleanup(func() { agg.Stop(context.Background()) })
	if start {
		ctx := context.Background()
		require.NoError(t, agg.Setup(ctx))
		require.NoError(t, agg.Start(ctx))
		require.Eventually(t, func() bool { return agg.Baseline() == 100 }, 2*time.Second, 5*time.Millisecond)
	}
	f.srv = NewServer(agg, f.bus, nil, WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestStatusAndDevices(t *testing.T) {
	f := newFixture(t, true)

	rr := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var st aggregator.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, 100.0, st.Baseline)
	assert.Equal(t, 2, st.Devices)

	rr = f.do(t, http.MethodGet, "/api/devices?category=wind", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var devs []device.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &devs))
	require.Len(t, devs, 1)
	assert.Equal(t, device.Wind, devs[0].Category)

	rr = f.do(t, http.MethodGet, "/api/devices/"+string(devs[0].Address), "")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(t, http.MethodGet, "/api/devices/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, "# metrics", rr.Body.String())
}

func TestRequestFlexibility(t *testing.T) {
	f := newFixture(t, true)

	rr := f.do(t, http.MethodPost, "/api/requests", `{"percent": 20}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var w WindowResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &w))
	assert.Equal(t, 120.0, w.TargetBaseline)
	assert.Equal(t, startTS+aggregator.DefaultLead, w.Start)
	assert.Equal(t, startTS+aggregator.DefaultDuration, w.Stop)

	rr = f.do(t, http.MethodPost, "/api/requests", `{"percent": 10}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/requests", `{"percent": -150}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "ERR_GT")

	rr = f.do(t, http.MethodPost, "/api/requests", `{"percent": "lots"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequestBeforeStart(t *testing.T) {
	f := newFixture(t, false)
	rr := f.do(t, http.MethodPost, "/api/requests", `{"percent": 5}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestVariation(t *testing.T) {
	f := newFixture(t, true)

	rr := f.do(t, http.MethodPost, "/api/variations", `{"category": "solar", "delta": 2}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Eventually(t, func() bool { return f.agg.Baseline() == 200 }, 2*time.Second, 5*time.Millisecond)

	rr = f.do(t, http.MethodPost, "/api/variations", `{"category": "hydro", "delta": 2}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(t, http.MethodPost, "/api/variations", `{"category": "solar"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "ERR_NE")
}

func TestPauseStepResume(t *testing.T) {
	f := newFixture(t, true)

	rr := f.do(t, http.MethodPost, "/api/simulation/step", `{"ticks": 3}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"timestamp": 1000180}`, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/api/simulation/pause", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(t, http.MethodPost, "/api/simulation/step", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"timestamp": 1000180}`, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/api/simulation/resume", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(t, http.MethodPost, "/api/simulation/resume", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/simulation/step", `{"ticks": -1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReviseAgreement(t *testing.T) {
	f := newFixture(t, true)
	addr := f.agg.Devices()[0].Address

	rr := f.do(t, http.MethodPut, "/api/devices/"+string(addr)+"/agreement", `{"value": 80, "flexibility": 5}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Eventually(t, func() bool {
		a, ok := f.ledger.Agreement(addr)
		return ok && a.Value == 80
	}, 2*time.Second, 5*time.Millisecond)

	rr = f.do(t, http.MethodPut, "/api/devices/"+string(addr)+"/agreement", `{"value": 0}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReportsQuery(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for i, ok := range []bool{true, false, true} {
		require.NoError(t, f.reports.Append(ctx, reportlog.Entry{
			Report:  model.Report{Start: int64(100 * (i + 1)), Success: ok},
			Records: []model.SettlementRecord{{Device: model.Address("d" + string(rune('a'+i)))}},
		}))
	}

	rr := f.do(t, http.MethodGet, "/api/reports?success=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var out []reportlog.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Len(t, out, 2)

	rr = f.do(t, http.MethodGet, "/api/reports?from=150&to=300&device=dc", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, int64(300), out[0].Report.Start)

	rr = f.do(t, http.MethodGet, "/api/reports?from=150&to=150", "")
	assert.Equal(t, "[]\n", rr.Body.String())

	rr = f.do(t, http.MethodGet, "/api/reports?limit=x&success=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "ERR_BOOLEAN")
}

func TestStream(t *testing.T) {
	f := newFixture(t, false)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream?types=report,toast"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.bus.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.bus.OnAggregatedReading(10, startTS)
	f.bus.OnToast("hello", notify.Info)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var n notify.Notification
	require.NoError(t, conn.ReadJSON(&n))
	assert.Equal(t, notify.TypeToast, n.Type)
	assert.Equal(t, "hello", n.Message)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.bus.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}
