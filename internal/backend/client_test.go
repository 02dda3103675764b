package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragconsole/internal/backend/fakebackend"
)

func TestAPIErrorPrefersDetailString(t *testing.T) {
	err := newAPIError(http.StatusBadGateway, []byte(`{"detail":"Failed to call history"}`))
	assert.Equal(t, "Failed to call history", err.Message)
	assert.Equal(t, "backend http 502: Failed to call history", err.Error())
}

func TestAPIErrorJoinsValidationList(t *testing.T) {
	body := []byte(`{"detail":[{"loc":["query","conversation_id"],"msg":"field required"},{"msg":"bad type"}]}`)
	err := newAPIError(http.StatusUnprocessableEntity, body)
	assert.Equal(t, "field required; bad type", err.Message)
}

func TestAPIErrorFallsBackToStatusText(t *testing.T) {
	err := newAPIError(http.StatusInternalServerError, []byte("<html>oops</html>"))
	assert.Equal(t, "Internal Server Error", err.Message)
	assert.Equal(t, "<html>oops</html>", err.Body)

	err = newAPIError(599, nil)
	assert.Equal(t, "request failed", err.Message)
}

func TestJobAnswerCoercion(t *testing.T) {
	cases := []struct {
		result string
		want   string
	}{
		{``, ""},
		{`null`, ""},
		{`{"answer":null}`, ""},
		{`{"answer":"hello"}`, "hello"},
		{`{"answer":42}`, "42"},
		{`{"chunks":[]}`, ""},
	}
	for _, tc := range cases {
		job := Job{Status: JobDone, Result: json.RawMessage(tc.result)}
		if got := job.Answer(); got != tc.want {
			t.Fatalf("result %q: expected answer %q, got %q", tc.result, tc.want, got)
		}
	}

	job := Job{Result: json.RawMessage(`{"answer":"x","last_step_scenario":" retrieval "}`)}
	assert.Equal(t, "retrieval", job.Scenario())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.True(t, JobDone.Terminal())
	assert.True(t, JobError.Terminal())
}

func TestClientRoundTripAgainstFakeBackend(t *testing.T) {
	fake := fakebackend.New(fakebackend.WithPendingPolls(1), fakebackend.WithSummaryLag(0))
	fake.SetHistory("conv-1", "earlier question", "earlier answer")
	srv := httptest.NewServer(fake.Handler())
	defer srv.Close()

	client := NewClient(srv.URL+"/", WithTimeout(2*time.Second))
	assert.Equal(t, srv.URL, client.BaseURL())
	ctx := context.Background()

	require.NoError(t, client.Health(ctx))

	history, err := client.History(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "earlier answer", history[1].Content)

	jobID, err := client.Send(ctx, SendRequest{ConversationID: "conv-1", Message: "hi", PipelineVersion: "v1_0"})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := client.Poll(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)

	job, err = client.Poll(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, JobDone, job.Status)
	assert.Equal(t, "You said: **hi**", job.Answer())

	sent := fake.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "v1_0", sent[0]["pipeline_version"])

	summary, err := client.Summary(ctx, "conv-1")
	require.NoError(t, err)
	assert.Contains(t, summary, "latest question: hi")

	conversations, err := client.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-1"}, conversations)
}

func TestClientSurfacesDetailErrors(t *testing.T) {
	fake := fakebackend.New()
	fake.FailHistory(true)
	srv := httptest.NewServer(fake.Handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.History(context.Background(), "conv-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Failed to call history", apiErr.Message)

	_, err = client.Poll(context.Background(), "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "job not found", apiErr.Message)
}

func TestRuntimeConfigPatch(t *testing.T) {
	srv := httptest.NewServer(fakebackend.New().Handler())
	defer srv.Close()
	client := NewClient(srv.URL)
	ctx := context.Background()

	cfg, err := client.RuntimeConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1_0", cfg.String(KeyPipelineVersion))
	assert.Empty(t, cfg.Overrides)

	cfg, err = client.PatchRuntimeConfig(ctx, map[string]any{KeySearchTopK: 9})
	require.NoError(t, err)
	assert.Equal(t, float64(9), cfg.Values[KeySearchTopK])
	assert.Equal(t, float64(9), cfg.Overrides[KeySearchTopK])

	_, err = client.PatchRuntimeConfig(ctx, map[string]any{"NOPE": 1})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "NOPE")
}

func TestSendRejectsEmptyJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":""}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Send(context.Background(), SendRequest{ConversationID: "c", Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty job_id")
}
