package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quill/internal/config"
	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/internal/service/provider"
	"github.com/ifuryst/quill/internal/testutil"
)

// stubProvider answers every prompt; prompts containing FAIL get a 500.
type stubProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Generate(_ context.Context, req provider.Request) (*provider.Response, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if strings.Contains(req.Prompt, "FAIL") {
		return &provider.Response{StatusCode: 500, Message: "model overloaded"}, nil
	}
	return &provider.Response{StatusCode: 200, Text: "Soft cotton tee.", FinishReason: "stop", Raw: []byte(`{}`)}, nil
}

func newTestServer(t *testing.T) (*Server, *gorm.DB, *stubProvider) {
	t.Helper()
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Server.Mode = "test"
	cfg.Metrics.Enabled = true

	db := testutil.NewDB(t)
	testutil.Seed(t, db,
		&models.Organization{Name: "Acme", ProductType: "apparel"},
		&models.PromptTemplate{Name: "description", Prompt: "Describe {{name}}:"},
		&models.PromptTemplate{Name: "broken", Prompt: "FAIL {{topic}}"},
		&models.PromptTemplate{Name: "intro", Prompt: "{{topic}}", RequiresTopic: true},
		&models.Product{OrganizationID: 1, Ref: "SKU-1", Name: "Tee"},
		&models.Product{OrganizationID: 1, Ref: "SKU-2", Name: "Polo"},
	)

	p := &stubProvider{}
	srv, err := New(cfg, db, zap.NewNop(), WithProvider(p), WithTokenizer(provider.NewVocabulary(nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Automation.Shutdown(context.Background()) })
	return srv, db, p
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(orgHeader, "1")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServer_RequiresOrganization(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/workflows/1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	srv.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/workflows/1?organization_id=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_WorkflowLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/workflows", map[string]any{
		"name":          "Spring",
		"workflow_type": "Product",
		"content_types": []string{"description"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Workflow models.Workflow `json:"workflow"`
	}
	decode(t, w, &created)
	assert.Equal(t, uint(1), created.Workflow.OrganizationID)
	assert.Equal(t, models.AutomationIdle, created.Workflow.AutomationStatus)

	w = do(t, srv, http.MethodPost, "/api/v1/workflows", map[string]any{"name": "Bad", "workflow_type": "Video"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/workflows/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/workflows/1?organization_id=2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/workflows/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodDelete, "/api/v1/workflows/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/workflows/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_AutomationRun(t *testing.T) {
	srv, db, p := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/workflows", map[string]any{
		"name":          "Spring",
		"workflow_type": "Product",
		"content_types": []string{"description"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/workflows/1/automation/start", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	srv.Automation.Wait()

	w = do(t, srv, http.MethodGet, "/api/v1/workflows/1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	decode(t, w, &status)
	assert.Equal(t, "IDLE", status["automation_status"])
	assert.Equal(t, float64(2), status["item_count"])
	assert.Equal(t, float64(2), status["completed_item_count"])
	assert.Equal(t, 2, p.calls)

	var usageRows int64
	require.NoError(t, db.Model(&models.UsageLog{}).Count(&usageRows).Error)
	assert.Equal(t, int64(2), usageRows)

	w = do(t, srv, http.MethodPost, "/api/v1/workflows/1/automation/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var item models.WorkflowItem
	require.NoError(t, db.Where("workflow_id = ?", 1).Order("id").First(&item).Error)

	w = do(t, srv, http.MethodPost, "/api/v1/workflows/1/items/"+strconv.FormatUint(uint64(item.ID), 10)+"/reset", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodGet, "/api/v1/workflows/1/status", nil)
	decode(t, w, &status)
	assert.Equal(t, float64(2), status["item_count"])
	assert.Equal(t, float64(1), status["completed_item_count"])

	w = do(t, srv, http.MethodPost, "/api/v1/workflows/1/items/999/reset", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Completion(t *testing.T) {
	srv, db, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/completions", map[string]any{
		"template":      "description",
		"candidate_ref": "SKU-1",
		"account_id":    "acct-9",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Result struct {
			Text    string `json:"text"`
			Success bool   `json:"success"`
		} `json:"result"`
		SessionID string `json:"session_id"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Result.Success)
	assert.Equal(t, "Soft cotton tee.", resp.Result.Text)
	assert.NotEmpty(t, resp.SessionID)

	var row models.UsageLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, "acct-9", row.AccountID)
	assert.Equal(t, "Describe Tee:", row.Prompt)
	assert.Equal(t, "Tee", row.Topic)
}

func TestServer_CompletionErrors(t *testing.T) {
	srv, db, p := newTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/completions", map[string]any{"template": "intro"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Please enter a topic for intro.")
	assert.Zero(t, p.calls)

	w = do(t, srv, http.MethodPost, "/api/v1/completions", map[string]any{"template": "headline"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/completions", map[string]any{"template": "description", "candidate_ref": "NOPE"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/completions", map[string]any{"template": "broken", "topic": "linen"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "model overloaded")
	assert.Equal(t, 2, p.calls, "one retry")

	var logs []models.ErrorLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "completion", logs[0].Source)
}
