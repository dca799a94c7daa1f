// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/eafonin/nessus-orchestrator/internal/admission"
	"github.com/eafonin/nessus-orchestrator/internal/idempotency"
	"github.com/eafonin/nessus-orchestrator/internal/kv"
	"github.com/eafonin/nessus-orchestrator/internal/obslog"
	"github.com/eafonin/nessus-orchestrator/internal/query"
	"github.com/eafonin/nessus-orchestrator/internal/queue"
	"github.com/eafonin/nessus-orchestrator/internal/registry"
	"github.com/eafonin/nessus-orchestrator/internal/taskstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestAPI(t *testing.T) *API {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	c := kv.New(mr.Addr(), "", 0)
	store := taskstore.New(t.TempDir())
	reg := registry.New(registry.Config{
		"nessus": {{InstanceID: "i1", Enabled: true, MaxConcurrentScans: 1}},
	})
	q := queue.New(c)
	admit := admission.New(reg, store, q, idempotency.New(c, 0), "nessus")
	qsvc := query.New(store, reg, q)
	return New(admit, qsvc, HealthChecker{KV: c}, obslog.New("test"))
}

func TestSubmitUntrusted_HappyPath(t *testing.T) {
	api := newTestAPI(t)
	engine := api.Setup()

	body, _ := json.Marshal(map[string]string{"targets": "10.0.0.1", "name": "t1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submit_untrusted_scan", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res admission.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != "queued" {
		t.Errorf("expected queued, got %+v", res)
	}
}

func TestSubmitUntrusted_MissingTargetsRejected(t *testing.T) {
	api := newTestAPI(t)
	engine := api.Setup()

	body, _ := json.Marshal(map[string]string{"name": "t1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submit_untrusted_scan", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetStatus_UnknownTaskReturns404(t *testing.T) {
	api := newTestAPI(t)
	engine := api.Setup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/ghost", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t)
	engine := api.Setup()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListPools(t *testing.T) {
	api := newTestAPI(t)
	engine := api.Setup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pools", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct{ Pools []string `json:"pools"` }
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Pools) != 1 || out.Pools[0] != "nessus" {
		t.Errorf("expected [nessus], got %v", out.Pools)
	}
}
