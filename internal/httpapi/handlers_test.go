package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/chatflow/pkg/schema"
)

type fakeSessions struct {
	state      *schema.SessionState
	err        error
	respondErr error

	lastScenarioID string
	lastSlots      map[string]any
	lastSessionID  string
	lastInput      schema.UserInput
	deleted        []string
}

func (f *fakeSessions) StartSession(_ context.Context, scenarioID string, slots map[string]any) (*schema.SessionState, error) {
	f.lastScenarioID = scenarioID
	f.lastSlots = slots
	return f.state, f.err
}

func (f *fakeSessions) GetSession(_ context.Context, sessionID string) (*schema.SessionState, error) {
	f.lastSessionID = sessionID
	return f.state, f.err
}

func (f *fakeSessions) Respond(_ context.Context, sessionID string, input schema.UserInput) (*schema.SessionState, error) {
	f.lastSessionID = sessionID
	f.lastInput = input
	if f.respondErr != nil {
		return f.state, f.respondErr
	}
	return f.state, f.err
}

func (f *fakeSessions) CancelSession(_ context.Context, sessionID string) (*schema.SessionState, error) {
	f.lastSessionID = sessionID
	return f.state, f.err
}

func (f *fakeSessions) DeleteSession(_ context.Context, sessionID string) error {
	f.deleted = append(f.deleted, sessionID)
	return f.err
}

type fakeScenarios struct {
	defs map[string]*schema.ScenarioDefinition
	err  error
}

func newFakeScenarios() *fakeScenarios {
	return &fakeScenarios{defs: make(map[string]*schema.ScenarioDefinition)}
}

func (f *fakeScenarios) Put(_ context.Context, def *schema.ScenarioDefinition) error {
	if f.err != nil {
		return f.err
	}
	f.defs[def.ID] = def
	return nil
}

func (f *fakeScenarios) Get(_ context.Context, id string) (*schema.ScenarioDefinition, error) {
	if f.err != nil {
		return nil, f.err
	}
	def, ok := f.defs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "scenario %q not registered", id)
	}
	return def, nil
}

func (f *fakeScenarios) List(_ context.Context) ([]*schema.ScenarioDefinition, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*schema.ScenarioDefinition, 0, len(f.defs))
	for _, d := range f.defs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeScenarios) Delete(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.defs[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scenario %q not registered", id)
	}
	delete(f.defs, id)
	return nil
}

func newTestServer(sessions *fakeSessions, scenarios *fakeScenarios) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(sessions, scenarios, nil, logger).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func activeState() *schema.SessionState {
	return &schema.SessionState{
		SessionID:     "sess-1",
		ScenarioID:    "booking",
		CurrentNodeID: "greet",
		Status:        schema.SessionStatusActive,
		AwaitingInput: true,
		Slots:         map[string]any{"channel": "web"},
	}
}

func TestHealthz(t *testing.T) {
	h := newTestServer(&fakeSessions{}, newFakeScenarios())
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartSession(t *testing.T) {
	sessions := &fakeSessions{state: activeState()}
	h := newTestServer(sessions, newFakeScenarios())

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/", map[string]any{
		"scenarioId": "booking",
		"slots":      map[string]any{"channel": "web"},
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "booking", sessions.lastScenarioID)
	assert.Equal(t, "web", sessions.lastSlots["channel"])

	var state schema.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "sess-1", state.SessionID)
}

func TestStartSessionRequiresScenarioID(t *testing.T) {
	h := newTestServer(&fakeSessions{}, newFakeScenarios())
	rec := doJSON(t, h, http.MethodPost, "/api/sessions/", map[string]any{"slots": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartSessionBadJSON(t *testing.T) {
	h := newTestServer(&fakeSessions{}, newFakeScenarios())
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", schema.NewError(schema.ErrCodeNotFound, "gone"), http.StatusNotFound},
		{"validation", schema.NewError(schema.ErrCodeValidation, "bad"), http.StatusBadRequest},
		{"definition", schema.NewError(schema.ErrCodeDefinition, "bad def"), http.StatusBadRequest},
		{"invalid transition", schema.NewError(schema.ErrCodeInvalidTransition, "nope"), http.StatusConflict},
		{"conflict", schema.NewError(schema.ErrCodeConflict, "busy"), http.StatusConflict},
		{"external call", schema.NewError(schema.ErrCodeExternalCall, "upstream"), http.StatusBadGateway},
		{"timeout", schema.NewError(schema.ErrCodeTimeout, "slow"), http.StatusGatewayTimeout},
		{"store", schema.NewError(schema.ErrCodeStore, "disk"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeSessions{err: tt.err}, newFakeScenarios())
			rec := doJSON(t, h, http.MethodGet, "/api/sessions/sess-1/", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.NotEmpty(t, body["code"])
		})
	}
}

func TestRespond(t *testing.T) {
	sessions := &fakeSessions{state: activeState()}
	h := newTestServer(sessions, newFakeScenarios())

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/sess-1/respond", schema.UserInput{Text: "2025-06-20"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-1", sessions.lastSessionID)
	assert.Equal(t, "2025-06-20", sessions.lastInput.Text)
}

func TestRespondMidWalkFailureReturnsState(t *testing.T) {
	// When the walk fails after the input was accepted, the handler returns
	// the failed state with 200 rather than an error status.
	failed := activeState()
	failed.Status = schema.SessionStatusFailed
	failed.CurrentNodeID = ""
	sessions := &fakeSessions{
		state:      failed,
		respondErr: schema.NewError(schema.ErrCodeLoopGuard, "Scenario loop limit exceeded"),
	}
	h := newTestServer(sessions, newFakeScenarios())

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/sess-1/respond", schema.UserInput{Handle: "0"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var state schema.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, schema.SessionStatusFailed, state.Status)
}

func TestRespondErrorWithoutState(t *testing.T) {
	sessions := &fakeSessions{
		state:      nil,
		respondErr: schema.NewError(schema.ErrCodeInvalidTransition, "not awaiting input"),
	}
	h := newTestServer(sessions, newFakeScenarios())

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/sess-1/respond", schema.UserInput{Text: "hi"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelSession(t *testing.T) {
	canceled := activeState()
	canceled.Status = schema.SessionStatusCanceled
	sessions := &fakeSessions{state: canceled}
	h := newTestServer(sessions, newFakeScenarios())

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/sess-1/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var state schema.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, schema.SessionStatusCanceled, state.Status)
}

func TestDeleteSession(t *testing.T) {
	sessions := &fakeSessions{}
	h := newTestServer(sessions, newFakeScenarios())

	rec := doJSON(t, h, http.MethodDelete, "/api/sessions/sess-1/", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"sess-1"}, sessions.deleted)
}

func TestSessionEventsWithoutHub(t *testing.T) {
	h := newTestServer(&fakeSessions{}, newFakeScenarios())
	rec := doJSON(t, h, http.MethodGet, "/api/sessions/sess-1/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func scenarioBody() *schema.ScenarioDefinition {
	return &schema.ScenarioDefinition{
		ID:          "booking",
		Name:        "Booking",
		StartNodeID: "greet",
		Nodes: []schema.Node{
			{ID: "greet", Type: schema.NodeTypeMessage, Data: []byte(`{"text":"hi"}`)},
			{ID: "bye", Type: schema.NodeTypeEnd},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "greet", Target: "bye"}},
	}
}

func TestPutScenario(t *testing.T) {
	scenarios := newFakeScenarios()
	h := newTestServer(&fakeSessions{}, scenarios)

	rec := doJSON(t, h, http.MethodPost, "/api/scenarios/", scenarioBody())
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, scenarios.defs, "booking")
}

func TestPutScenarioIDMismatch(t *testing.T) {
	scenarios := newFakeScenarios()
	h := newTestServer(&fakeSessions{}, scenarios)

	rec := doJSON(t, h, http.MethodPut, "/api/scenarios/other/", scenarioBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, scenarios.defs)
}

func TestPutScenarioRejectsInvalidDefinition(t *testing.T) {
	scenarios := newFakeScenarios()
	scenarios.err = schema.NewError(schema.ErrCodeDefinition, "start node missing")
	h := newTestServer(&fakeSessions{}, scenarios)

	rec := doJSON(t, h, http.MethodPost, "/api/scenarios/", scenarioBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetScenario(t *testing.T) {
	scenarios := newFakeScenarios()
	scenarios.defs["booking"] = scenarioBody()
	h := newTestServer(&fakeSessions{}, scenarios)

	rec := doJSON(t, h, http.MethodGet, "/api/scenarios/booking/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/scenarios/ghost/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListScenarios(t *testing.T) {
	scenarios := newFakeScenarios()
	scenarios.defs["booking"] = scenarioBody()
	h := newTestServer(&fakeSessions{}, scenarios)

	rec := doJSON(t, h, http.MethodGet, "/api/scenarios/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var defs []*schema.ScenarioDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &defs))
	assert.Len(t, defs, 1)
}

func TestDeleteScenario(t *testing.T) {
	scenarios := newFakeScenarios()
	scenarios.defs["booking"] = scenarioBody()
	h := newTestServer(&fakeSessions{}, scenarios)

	rec := doJSON(t, h, http.MethodDelete, "/api/scenarios/booking/", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/scenarios/booking/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenarioDiagram(t *testing.T) {
	scenarios := newFakeScenarios()
	scenarios.defs["booking"] = scenarioBody()
	h := newTestServer(&fakeSessions{}, scenarios)

	rec := doJSON(t, h, http.MethodGet, "/api/scenarios/booking/diagram", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "graph TD")
	assert.Contains(t, rec.Body.String(), "greet")
}
