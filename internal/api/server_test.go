package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"content-orchestrator/internal/config"
	"content-orchestrator/internal/external"
	"content-orchestrator/internal/models"
	"content-orchestrator/internal/orchestrator"
	"content-orchestrator/internal/refund"
	"content-orchestrator/internal/store"
)

type stubVerifier struct{}

func (stubVerifier) Verify(context.Context, string) (external.PaymentInfo, error) {
	return external.PaymentInfo{Status: "paid", AmountCents: 1900, Currency: "usd"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	orch := orchestrator.New(s, nil)
	refunds := refund.NewService(s, stubVerifier{}, nil)
	srv := New(config.Config{MaxAttempts: 5}, s, orch, refunds, nil, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, s
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAnalyzeKeywordEndpoint(t *testing.T) {
	ts, s := newTestServer(t)

	resp := postJSON(t, ts.URL+"/projects/p1/keywords", map[string]string{"term": "trail shoes"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Keyword models.Keyword `json:"keyword"`
		Job     models.Job     `json:"job"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, models.KeywordAnalyzing, out.Keyword.Status)
	require.Equal(t, models.JobAnalyzeKeyword, out.Job.Type)

	stored, err := s.GetJob(context.Background(), out.Job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobPending, stored.Status)
}

func TestAnalyzeKeywordRequiresTerm(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/projects/p1/keywords", map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequestBriefConflictsUntilKeywordReady(t *testing.T) {
	ts, s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.CreateKeyword(ctx, models.Keyword{
		ID: "kw1", ProjectID: "p1", Term: "trail shoes", Status: models.KeywordAnalyzing,
	}))

	resp := postJSON(t, ts.URL+"/keywords/kw1/brief", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	_, err := s.UpdateEntityStatus(ctx, models.TableKeywords, "kw1", models.KeywordReady)
	require.NoError(t, err)
	resp = postJSON(t, ts.URL+"/keywords/kw1/brief", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/keywords/missing/brief", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRefundEndpointEnforcesWindow(t *testing.T) {
	ts, s := newTestServer(t)
	s.PutProject(models.Project{
		ID:                "p1",
		SubscriptionStart: time.Now().UTC().Add(-30 * 24 * time.Hour),
	})

	resp := postJSON(t, ts.URL+"/projects/p1/refunds", map[string]string{"payment_ref": "pay_1"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRefundEndpointReturnsExistingOnDuplicate(t *testing.T) {
	ts, s := newTestServer(t)
	s.PutProject(models.Project{
		ID:                "p1",
		SubscriptionStart: time.Now().UTC().Add(-time.Hour),
	})

	first := postJSON(t, ts.URL+"/projects/p1/refunds", map[string]string{"payment_ref": "pay_1"})
	require.Equal(t, http.StatusAccepted, first.StatusCode)
	var a refundResponse
	require.NoError(t, json.NewDecoder(first.Body).Decode(&a))
	require.False(t, a.Reused)

	second := postJSON(t, ts.URL+"/projects/p1/refunds", map[string]string{"payment_ref": "pay_1"})
	require.Equal(t, http.StatusOK, second.StatusCode)
	var b refundResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&b))
	require.True(t, b.Reused)
	require.Equal(t, a.Refund.ID, b.Refund.ID)
}

func TestAutopilotUpdate(t *testing.T) {
	ts, s := newTestServer(t)
	s.PutProject(models.Project{ID: "p1"})

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/projects/p1/autopilot",
		bytes.NewReader([]byte(`{"enabled":true,"time_of_day":"07:30","daily_limit":2}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p, err := s.GetProject(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, p.AutopilotEnabled)
	require.Equal(t, "07:30", p.AutopilotTime)
	require.Equal(t, 2, p.DailyPublishLimit)

	req, err = http.NewRequest(http.MethodPut, ts.URL+"/projects/missing/autopilot",
		bytes.NewReader([]byte(`{"enabled":true}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetJobNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/jobs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
