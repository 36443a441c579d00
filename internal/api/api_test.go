package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coriolislabs/mcs/internal/auditor"
	"github.com/coriolislabs/mcs/internal/llmgateway"
	"github.com/coriolislabs/mcs/internal/lockmgr"
	"github.com/coriolislabs/mcs/internal/planner"
	"github.com/coriolislabs/mcs/internal/resulthandler"
	"github.com/coriolislabs/mcs/internal/scheduler"
	"github.com/coriolislabs/mcs/internal/store"
)

var roles = map[string]bool{"analyst": true, "developer": true}

func newTestServer(planResponses []string) (*Server, store.Store) {
	db := store.NewMemStore()
	planClient := &llmgateway.FakeClient{Responses: planResponses}
	p := planner.New(db, llmgateway.NewGateway(planClient, nil), roles, 2)
	locks := lockmgr.New(db, time.Minute)
	sched := scheduler.New(db, locks)
	auditClient := &llmgateway.FakeClient{Responses: []string{`{"is_successful":true,"feedback":"ok","confidence":0.9}`}}
	aud := auditor.New(db, llmgateway.NewGateway(auditClient, nil), 0.6, 2, 2)
	rh := resulthandler.New(db, locks, sched, aud, 2)
	s := New(db, p, sched, rh, roles, "secret-token", discardLogger())
	return s, db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestAPI_HealthUnauthenticated(t *testing.T) {
	s, _ := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_SubmitRequiresAuth(t *testing.T) {
	s, _ := newTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString(`{"user_request":"do a thing"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_SubmitThenPollThenReport(t *testing.T) {
	s, _ := newTestServer([]string{`[{"step_id":"a","description":"research","role":"analyst"}]`})
	router := s.Router()

	submitReq := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString(`{"user_request":"do a thing"}`))
	submitReq.Header.Set("Authorization", "Bearer secret-token")
	submitRec := httptest.NewRecorder()
	router.ServeHTTP(submitRec, submitReq)
	require.Equal(t, http.StatusOK, submitRec.Code)

	var submitted submitResponse
	require.NoError(t, json.Unmarshal(submitRec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.WorkflowID)
	require.Len(t, submitted.Tasks, 1)

	pollReq := httptest.NewRequest(http.MethodGet, "/v1/tasks/ready?role=analyst&worker_id=worker-1", nil)
	pollReq.Header.Set("Authorization", "Bearer secret-token")
	pollRec := httptest.NewRecorder()
	router.ServeHTTP(pollRec, pollReq)
	require.Equal(t, http.StatusOK, pollRec.Code)

	reportBody, _ := json.Marshal(map[string]interface{}{
		"workflow_id": submitted.WorkflowID,
		"step_id":     "a",
		"worker_id":   "worker-1",
		"status":      "completed",
		"final_result": "done",
	})
	reportReq := httptest.NewRequest(http.MethodPost, "/v1/results", bytes.NewBuffer(reportBody))
	reportReq.Header.Set("Authorization", "Bearer secret-token")
	reportRec := httptest.NewRecorder()
	router.ServeHTTP(reportRec, reportReq)
	require.Equal(t, http.StatusOK, reportRec.Code)

	var reported reportResponse
	require.NoError(t, json.Unmarshal(reportRec.Body.Bytes(), &reported))
	require.True(t, reported.Accepted)
	require.Equal(t, "COMPLETED", string(reported.WorkflowStatus))

	statusReq := httptest.NewRequest(http.MethodGet, "/v1/workflows/"+submitted.WorkflowID+"/status", nil)
	statusReq.Header.Set("Authorization", "Bearer secret-token")
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)
	require.Equal(t, http.StatusOK, statusRec.Code)
}

func TestAPI_GetWorkflowAndReleaseClaim(t *testing.T) {
	s, _ := newTestServer([]string{`[{"step_id":"a","description":"research","role":"analyst"}]`})
	router := s.Router()

	submitReq := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString(`{"user_request":"do a thing"}`))
	submitReq.Header.Set("Authorization", "Bearer secret-token")
	submitRec := httptest.NewRecorder()
	router.ServeHTTP(submitRec, submitReq)
	require.Equal(t, http.StatusOK, submitRec.Code)
	var submitted submitResponse
	require.NoError(t, json.Unmarshal(submitRec.Body.Bytes(), &submitted))

	getReq := httptest.NewRequest(http.MethodGet, "/v1/workflows/"+submitted.WorkflowID, nil)
	getReq.Header.Set("Authorization", "Bearer secret-token")
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	pollReq := httptest.NewRequest(http.MethodGet, "/v1/tasks/ready?role=analyst&worker_id=worker-1", nil)
	pollReq.Header.Set("Authorization", "Bearer secret-token")
	pollRec := httptest.NewRecorder()
	router.ServeHTTP(pollRec, pollReq)
	require.Equal(t, http.StatusOK, pollRec.Code)

	releaseReq := httptest.NewRequest(http.MethodPost, "/v1/tasks/"+submitted.WorkflowID+"/a/release", nil)
	releaseReq.Header.Set("Authorization", "Bearer secret-token")
	releaseRec := httptest.NewRecorder()
	router.ServeHTTP(releaseRec, releaseReq)
	require.Equal(t, http.StatusOK, releaseRec.Code)

	// releasing an already-READY task is a conflict, not idempotent.
	releaseAgainReq := httptest.NewRequest(http.MethodPost, "/v1/tasks/"+submitted.WorkflowID+"/a/release", nil)
	releaseAgainReq.Header.Set("Authorization", "Bearer secret-token")
	releaseAgainRec := httptest.NewRecorder()
	router.ServeHTTP(releaseAgainRec, releaseAgainReq)
	require.Equal(t, http.StatusConflict, releaseAgainRec.Code)
}

func TestAPI_ListLocksRequiresPath(t *testing.T) {
	s, _ := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/locks", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_PollUnknownRoleRejected(t *testing.T) {
	s, _ := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/ready?role=nope", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
