package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/function61/amon/pkg/amdirectory"
	"github.com/function61/amon/pkg/amdomain"
	"github.com/function61/amon/pkg/amnotify"
	"github.com/function61/amon/pkg/amonclient"
	"github.com/function61/amon/pkg/amontypes"
	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/gokit/assert"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

const (
	bob   = "a7fd6b2c-2f65-4b2f-a9c6-8b3e7bdb1b71"
	probe = "2d1d8f7e-0c24-4bd1-a7d0-59b8f0c6b1a1"
)

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (c *countingNotifier) Notify(_ context.Context, _ amnotify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	return nil
}

func newTestApi(t *testing.T) (http.Handler, *app, *countingNotifier) {
	api, a, notifier, _ := newTestApiWithRedis(t)
	return api, a, notifier
}

func newTestApiWithRedis(t *testing.T) (http.Handler, *app, *countingNotifier, *miniredis.Miniredis) {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)

	directory, err := amdirectory.NewStatic(
		[]amdomain.User{{Uuid: bob, Login: "bob", Fields: map[string]string{"email": "bob@example.com"}}},
		nil,
		[]amdomain.Probe{{Uuid: probe, User: bob, Name: "web1 http", Type: "http", Contacts: []string{"email"}}})
	assert.Ok(t, err)

	notifier := &countingNotifier{}

	a := newApp(
		&config{Datacenter: "test-1"},
		redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		directory,
		notifier,
		nil)

	return newRestApi(a), a, notifier, mr
}

func request(t *testing.T, handler http.Handler, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	return w
}

func errorResponse(t *testing.T, w *httptest.ResponseRecorder) amontypes.ErrorResponse {
	t.Helper()

	resp := amontypes.ErrorResponse{}
	assert.Ok(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestPing(t *testing.T) {
	api, _, _ := newTestApi(t)

	w := request(t, api, http.MethodGet, "/ping", "")
	assert.Assert(t, w.Code == http.StatusOK)
	assert.EqualString(t, w.Body.String(), `{"ping":"pong"}`)

	assert.Assert(t, request(t, api, http.MethodGet, "/metrics", "").Code == http.StatusOK)
}

func TestMaintenanceApi(t *testing.T) {
	api, _, _ := newTestApi(t)

	base := "/pub/" + bob + "/maintenances"

	w := request(t, api, http.MethodPost, base, `{"start": "now", "end": "1h", "probes": ["`+probe+`"], "notes": "upgrade"}`)
	assert.Assert(t, w.Code == http.StatusOK)

	created := amstate.Maintenance{}
	assert.Ok(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Assert(t, created.Id == 1)
	assert.EqualString(t, created.Probes[0], probe)
	assert.Assert(t, !strings.Contains(w.Body.String(), `"all"`))
	assert.Assert(t, !strings.Contains(w.Body.String(), `"machines"`))

	w = request(t, api, http.MethodGet, base+"/1", "")
	assert.Assert(t, w.Code == http.StatusOK)

	w = request(t, api, http.MethodGet, base, "")
	assert.Assert(t, w.Code == http.StatusOK)
	list := []amstate.Maintenance{}
	assert.Ok(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Assert(t, len(list) == 1)

	w = request(t, api, http.MethodGet, "/maintenances", "")
	assert.Assert(t, w.Code == http.StatusOK)

	w = request(t, api, http.MethodGet, base+"/2", "")
	assert.Assert(t, w.Code == http.StatusNotFound)
	assert.EqualString(t, errorResponse(t, w).Code, "ResourceNotFound")

	assert.Assert(t, request(t, api, http.MethodDelete, base+"/1", "").Code == http.StatusNoContent)

	w = request(t, api, http.MethodGet, base+"/1", "")
	assert.Assert(t, w.Code == http.StatusGone)
	assert.EqualString(t, errorResponse(t, w).Message, "maintenance window 1 was previously deleted")

	assert.Assert(t, request(t, api, http.MethodDelete, base+"/1", "").Code == http.StatusGone)
}

func TestMaintenanceApiValidation(t *testing.T) {
	api, a, _ := newTestApi(t)

	base := "/pub/" + bob + "/maintenances"

	w := request(t, api, http.MethodPost, base, `{"start": "now", "end": "1h"}`)
	assert.Assert(t, w.Code == http.StatusBadRequest)
	assert.EqualString(t, errorResponse(t, w).Code, "InvalidArgument")
	assert.EqualString(t, errorResponse(t, w).Message, `only one of "all" (false), "probes" (false) or "machines" (false) may be specified`)

	w = request(t, api, http.MethodPost, base, `{"start": "now", "end": "1h", "all": true, "bogus": 1}`)
	assert.Assert(t, w.Code == http.StatusBadRequest)

	w = request(t, api, http.MethodPost, "/pub/bob/maintenances", `{"start": "now", "end": "1h", "all": true}`)
	assert.Assert(t, w.Code == http.StatusBadRequest)
	assert.EqualString(t, errorResponse(t, w).Message, `invalid user UUID: "bob"`)

	// nothing was allocated
	currentId, err := a.store.CurrentMaintenanceId(context.Background(), bob)
	assert.Ok(t, err)
	assert.Assert(t, currentId == 0)
}

func TestEventsAndAlarmsApi(t *testing.T) {
	api, _, notifier := newTestApi(t)

	event := amdomain.Event{
		V:         1,
		Type:      amdomain.EventTypeProbe,
		User:      bob,
		ProbeUuid: probe,
		Time:      amstate.EpochMs(time.Now()),
		Data:      amdomain.EventData{Message: "HTTP 503"},
	}
	eventJson, err := json.Marshal(event)
	assert.Ok(t, err)

	assert.Assert(t, request(t, api, http.MethodPost, "/events", string(eventJson)).Code == http.StatusAccepted)
	assert.Assert(t, notifier.count == 1)

	// array form, with fields we don't model
	w := request(t, api, http.MethodPost, "/events", `[{"user": "`+bob+`", "probeUuid": "`+probe+`", "time": 1583064000000, "agent": "x", "data": {"message": "timeout"}}]`)
	assert.Assert(t, w.Code == http.StatusAccepted)

	base := "/pub/" + bob + "/alarms"

	w = request(t, api, http.MethodGet, base, "")
	assert.Assert(t, w.Code == http.StatusOK)
	alarms := []amstate.Alarm{}
	assert.Ok(t, json.Unmarshal(w.Body.Bytes(), &alarms))
	assert.Assert(t, len(alarms) == 1)
	assert.EqualString(t, alarms[0].Monitor, probe)
	assert.Assert(t, len(alarms[0].Faults) == 1)
	assert.Assert(t, alarms[0].NumNotifications == 2)

	w = request(t, api, http.MethodPost, base+"/1", "")
	assert.Assert(t, w.Code == http.StatusBadRequest)
	assert.EqualString(t, errorResponse(t, w).Message, `"action" is required`)

	w = request(t, api, http.MethodPost, base+"/1?action=snooze", "")
	assert.Assert(t, w.Code == http.StatusBadRequest)
	assert.EqualString(t, errorResponse(t, w).Message, `"snooze" is not a valid action`)

	assert.Assert(t, request(t, api, http.MethodPost, base+"/1?action=close", "").Code == http.StatusAccepted)

	countState := func(state string) int {
		w := request(t, api, http.MethodGet, base+"?state="+state, "")
		assert.Assert(t, w.Code == http.StatusOK)
		alarms := []amstate.Alarm{}
		assert.Ok(t, json.Unmarshal(w.Body.Bytes(), &alarms))
		return len(alarms)
	}

	assert.Assert(t, countState("open") == 0)
	assert.Assert(t, countState("closed") == 1)
	assert.Assert(t, countState("recent") == 1)
	assert.Assert(t, request(t, api, http.MethodGet, base+"?state=bogus", "").Code == http.StatusBadRequest)

	assert.Assert(t, request(t, api, http.MethodPost, base+"/1?action=reopen", "").Code == http.StatusAccepted)
	assert.Assert(t, countState("open") == 1)

	w = request(t, api, http.MethodGet, "/alarms", "")
	assert.Assert(t, w.Code == http.StatusOK)

	assert.Assert(t, request(t, api, http.MethodDelete, base+"/1", "").Code == http.StatusNoContent)
	assert.Assert(t, request(t, api, http.MethodGet, base+"/1", "").Code == http.StatusGone)
	assert.Assert(t, request(t, api, http.MethodGet, base+"/5", "").Code == http.StatusNotFound)
}

func TestInvalidEvent(t *testing.T) {
	api, _, _ := newTestApi(t)

	w := request(t, api, http.MethodPost, "/events", `{"user": "bob", "time": 1}`)
	assert.Assert(t, w.Code == http.StatusBadRequest)
	assert.EqualString(t, errorResponse(t, w).Message, `invalid event: "user" (UUID) is required: "bob"`)

	w = request(t, api, http.MethodPost, "/events", `{"user": `)
	assert.Assert(t, w.Code == http.StatusBadRequest)
}

func TestEventsBatchWithStorageErrorIs500(t *testing.T) {
	api, _, _, mr := newTestApiWithRedis(t)

	mr.SetError("ERR simulated outage")

	// first one is invalid, second one fails in storage
	w := request(t, api, http.MethodPost, "/events", `[{"user": "bob", "time": 1}, {"user": "`+bob+`", "probeUuid": "`+probe+`", "time": 1583064000000}]`)
	assert.Assert(t, w.Code == http.StatusInternalServerError)
	assert.EqualString(t, errorResponse(t, w).Code, "InternalError")
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	api, a, _ := newTestApi(t)

	server := httptest.NewServer(api)
	defer server.Close()

	client := amonclient.New(server.URL)

	created, err := client.CreateMaintenance(ctx, bob, amontypes.CreateMaintenanceRequest{
		Start: "now",
		End:   "2h",
		All:   true,
	})
	assert.Ok(t, err)
	assert.Assert(t, created.Id == 1)
	assert.Assert(t, created.All)

	maintenances, err := client.Maintenances(ctx, bob)
	assert.Ok(t, err)
	assert.Assert(t, len(maintenances) == 1)

	assert.Ok(t, client.SendEvents(ctx, amdomain.Event{
		User:      bob,
		ProbeUuid: probe,
		Time:      amstate.EpochMs(time.Now().Add(time.Second)), // window start is exclusive
		Data:      amdomain.EventData{Message: "down"},
	}))

	alarms, err := a.store.ListAlarms(ctx, bob)
	assert.Ok(t, err)
	assert.Assert(t, len(alarms) == 1)
	assert.Assert(t, len(alarms[0].MaintFaults) == 1)
}
