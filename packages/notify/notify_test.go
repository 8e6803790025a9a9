package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/bugreport"
	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcome(id string, cat model.Category, statuses ...model.Status) *model.Outcome {
	var attempts []*model.Attempt
	for i, s := range statuses {
		a := &model.Attempt{Number: i + 1, Status: s}
		if s != model.StatusPass {
			a.Failure = &model.Failure{Message: "token accepted after logout"}
		}
		attempts = append(attempts, a)
	}
	return model.NewOutcome(&model.TestUnit{ID: id, Name: "Unit " + id, Category: cat}, attempts)
}

func summaryOf(t *testing.T, outcomes ...*model.Outcome) *RunSummary {
	t.Helper()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rs, err := aggregate.NewResultSet("run-7", start, start.Add(3*time.Second), outcomes...)
	require.NoError(t, err)
	return NewRunSummary(rs, bugreport.NewGenerator().Generate(rs), "staging")
}

type recorder struct {
	mu    sync.Mutex
	calls []*RunSummary
	err   error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Notify(_ context.Context, s *RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
	return r.err
}

func TestNewRunSummary(t *testing.T) {
	s := summaryOf(t,
		outcome("A", model.CategorySecurity, model.StatusFail),
		outcome("B", model.CategoryUI, model.StatusFail, model.StatusPass),
		outcome("C", model.CategoryAPI, model.StatusPass),
	)

	assert.Equal(t, "run-7", s.RunID)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Flaky)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 3*time.Second, s.Duration)
	require.Len(t, s.FailedUnits, 1)
	assert.Equal(t, "A", s.FailedUnits[0].ID)
	require.Len(t, s.Bugs, 1)
	assert.Equal(t, "P1", s.Bugs[0].Priority)
	assert.True(t, s.Failing())
}

func TestManager_Policies(t *testing.T) {
	failing := func() *RunSummary { return &RunSummary{Total: 1, Failed: 1} }
	passing := func() *RunSummary { return &RunSummary{Total: 1, Passed: 1} }

	tests := []struct {
		name  string
		on    NotifyOn
		last  bool
		run   *RunSummary
		sent  bool
		recov bool
	}{
		{"always on pass", NotifyAlways, true, passing(), true, false},
		{"failure on pass", NotifyFailure, true, passing(), false, false},
		{"failure on fail", NotifyFailure, true, failing(), true, false},
		{"success on fail", NotifySuccess, true, failing(), false, false},
		{"recovery after failure", NotifyRecovery, false, passing(), true, true},
		{"recovery steady pass", NotifyRecovery, true, passing(), false, false},
		{"recovery on fail", NotifyRecovery, true, failing(), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			m := NewManager(tt.on, rec)
			m.SetLastState(tt.last)

			sent, err := m.Notify(context.Background(), tt.run)
			require.NoError(t, err)
			assert.Equal(t, tt.sent, sent)
			assert.Equal(t, tt.sent, len(rec.calls) == 1)
			assert.Equal(t, tt.recov, tt.run.IsRecovery)
		})
	}
}

func TestManager_JoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: assert.AnError}
	m := NewManager(NotifyAlways, bad, ok)

	sent, err := m.Notify(context.Background(), &RunSummary{})
	assert.True(t, sent)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, ok.calls, 1, "a failing notifier does not stop the others")
}

func TestParseNotifyOn(t *testing.T) {
	on, err := ParseNotifyOn("")
	require.NoError(t, err)
	assert.Equal(t, NotifyFailure, on)

	_, err = ParseNotifyOn("sometimes")
	assert.Error(t, err)
}

func captureServer(t *testing.T, status int) (*httptest.Server, *[]byte) {
	t.Helper()
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &body
}

func TestSlackNotifier(t *testing.T) {
	srv, body := captureServer(t, http.StatusOK)
	s := summaryOf(t, outcome("A", model.CategorySecurity, model.StatusFail))

	n := NewSlackNotifier(srv.URL, WithSlackChannel("#qa"), WithSlackHTTPClient(srv.Client()))
	require.NoError(t, n.Notify(context.Background(), s))

	var msg slackMessage
	require.NoError(t, json.Unmarshal(*body, &msg))
	assert.Equal(t, "#qa", msg.Channel)
	assert.Equal(t, "qarun", msg.Username)
	require.Len(t, msg.Attachments, 1)
	a := msg.Attachments[0]
	assert.Equal(t, "danger", a.Color)
	assert.Contains(t, a.Title, "1 unit(s) failed")
	assert.Contains(t, a.Text, "`Unit A` (fail)")
	assert.Contains(t, a.Text, "[P1] BUG-")
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	srv, _ := captureServer(t, http.StatusForbidden)
	n := NewSlackNotifier(srv.URL, WithSlackHTTPClient(srv.Client()))
	err := n.Notify(context.Background(), &RunSummary{})
	assert.ErrorContains(t, err, "status 403")
}

func TestTeamsNotifier(t *testing.T) {
	srv, body := captureServer(t, http.StatusAccepted)
	s := summaryOf(t, outcome("A", model.CategoryAPI, model.StatusPass))

	n := NewTeamsNotifier(srv.URL, WithTeamsHTTPClient(srv.Client()))
	require.NoError(t, n.Notify(context.Background(), s))

	var msg teamsMessage
	require.NoError(t, json.Unmarshal(*body, &msg))
	require.Len(t, msg.Attachments, 1)
	card := msg.Attachments[0].Content
	assert.Equal(t, "AdaptiveCard", card.Type)
	assert.Equal(t, "All units passed!", card.Body[0].Text)
	assert.Equal(t, "good", card.Body[0].Color)
}
