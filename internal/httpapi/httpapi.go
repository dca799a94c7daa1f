// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package httpapi exposes the admission surface (C8) over JSON/HTTP with
// Gin, in the same route-group-plus-handler-struct shape as the teacher's
// router/handler pair, generalized from a single scan resource to the
// orchestrator's submit/status/results/introspection operations.
package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eafonin/nessus-orchestrator/internal/admission"
	"github.com/eafonin/nessus-orchestrator/internal/apperr"
	"github.com/eafonin/nessus-orchestrator/internal/idempotency"
	"github.com/eafonin/nessus-orchestrator/internal/kv"
	"github.com/eafonin/nessus-orchestrator/internal/obslog"
	"github.com/eafonin/nessus-orchestrator/internal/query"
	"github.com/eafonin/nessus-orchestrator/internal/results"
	"github.com/eafonin/nessus-orchestrator/internal/task"
)

// readBody reads and rewinds the request body so both the raw bytes (for
// idempotency body-hashing) and ShouldBindJSON's own read can see it.
func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// HealthChecker reports the two dependencies GET /health must surface.
type HealthChecker struct {
	KV      *kv.Client
	DataDir func() error // returns nil if the filesystem check passes
}

// API holds the services the handlers delegate to.
type API struct {
	admit  *admission.Service
	query  *query.Service
	health HealthChecker
	log    obslog.Logger
}

func New(admit *admission.Service, q *query.Service, health HealthChecker, log obslog.Logger) *API {
	return &API{admit: admit, query: q, health: health, log: log}
}

// Setup builds a ready-to-serve Gin engine, mirroring the teacher's
// gin.Logger()+gin.Recovery()+trusted-proxies-disabled baseline.
func (a *API) Setup() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())
	engine.SetTrustedProxies(nil)

	engine.GET("/health", a.healthCheck)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	{
		api.POST("/submit_untrusted_scan", a.submitUntrusted)
		api.POST("/submit_authenticated_scan", a.submitAuthenticated)
		api.GET("/tasks/:id", a.getStatus)
		api.GET("/tasks/:id/results", a.getResults)
		api.GET("/tasks", a.listTasks)
		api.GET("/scanners", a.listScanners)
		api.GET("/pools", a.listPools)
		api.GET("/pools/:pool/status", a.getPoolStatus)
		api.GET("/queue/status", a.getQueueStatus)
	}
	return engine
}

func writeErr(c *gin.Context, err error) {
	var ae *apperr.Error
	if e, ok := err.(*apperr.Error); ok {
		ae = e
	} else {
		ae = apperr.WrapInternal(err, "unexpected error")
	}
	c.JSON(ae.StatusCode, gin.H{"code": ae.Kind, "error": ae.Error()})
}

type submitUntrustedRequest struct {
	Targets         string `json:"targets" binding:"required"`
	Name            string `json:"name" binding:"required"`
	Description     string `json:"description"`
	SchemaProfile   string `json:"schema_profile"`
	IdempotencyKey  string `json:"idempotency_key"`
	ScannerPool     string `json:"scanner_pool"`
	ScannerInstance string `json:"scanner_instance"`
}

func (a *API) submitUntrusted(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		writeErr(c, apperr.NewInvalidArgument(err.Error()))
		return
	}
	var req submitUntrustedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperr.NewInvalidArgument(err.Error()))
		return
	}
	res, err := a.admit.Submit(c.Request.Context(), admission.Request{
		ScanType:        task.ScanTypeUntrusted,
		Targets:         req.Targets,
		Name:            req.Name,
		Description:     req.Description,
		SchemaProfile:   req.SchemaProfile,
		IdempotencyKey:  req.IdempotencyKey,
		ScannerPool:     req.ScannerPool,
		ScannerInstance: req.ScannerInstance,
		BodyHash:        idempotency.BodyHash(body),
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type submitAuthenticatedRequest struct {
	submitUntrustedRequest
	ScanType              task.ScanType         `json:"scan_type" binding:"required"`
	SSHUsername           string                `json:"ssh_username"`
	SSHPassword           string                `json:"ssh_password"`
	ElevatePrivilegesWith task.EscalationMethod `json:"elevate_privileges_with"`
	EscalationAccount     string                `json:"escalation_account"`
	EscalationPassword    string                `json:"escalation_password"`
}

func (a *API) submitAuthenticated(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		writeErr(c, apperr.NewInvalidArgument(err.Error()))
		return
	}
	var req submitAuthenticatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperr.NewInvalidArgument(err.Error()))
		return
	}
	res, err := a.admit.Submit(c.Request.Context(), admission.Request{
		ScanType:              req.ScanType,
		Targets:               req.Targets,
		Name:                  req.Name,
		Description:           req.Description,
		SchemaProfile:         req.SchemaProfile,
		IdempotencyKey:        req.IdempotencyKey,
		ScannerPool:           req.ScannerPool,
		ScannerInstance:       req.ScannerInstance,
		SSHUsername:           req.SSHUsername,
		SSHPassword:           req.SSHPassword,
		ElevatePrivilegesWith: req.ElevatePrivilegesWith,
		EscalationAccount:     req.EscalationAccount,
		EscalationPassword:    req.EscalationPassword,
		BodyHash:              idempotency.BodyHash(body),
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) getStatus(c *gin.Context) {
	res, err := a.query.GetStatus(c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) getResults(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "40"))
	if pageSize < 10 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	profile := c.DefaultQuery("schema_profile", "brief")

	filters := map[string]string{}
	for _, key := range c.QueryArray("filter") {
		// filter=field:expr, repeatable
		if idx := indexOf(key, ':'); idx >= 0 {
			filters[key[:idx]] = key[idx+1:]
		}
	}

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	err := a.query.GetResults(c.Param("id"), results.Request{
		Page:          page,
		PageSize:      pageSize,
		SchemaProfile: profile,
		Filters:       filters,
	}, c.Writer)
	if err != nil {
		a.log.Error("get_results streaming failed for task %s: %v", c.Param("id"), err)
	}
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func (a *API) listTasks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	tasks, err := a.query.ListTasks(query.ListTasksRequest{
		Limit:        limit,
		Status:       task.Status(c.Query("status")),
		Pool:         c.Query("pool"),
		TargetFilter: c.Query("target"),
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (a *API) listScanners(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scanners": a.query.ListScanners(c.Query("pool"))})
}

func (a *API) listPools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pools": a.query.ListPools()})
}

func (a *API) getPoolStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.query.GetPoolStatus(c.Param("pool")))
}

func (a *API) getQueueStatus(c *gin.Context) {
	statuses, err := a.query.GetQueueStatus(c.Request.Context(), c.Query("pool"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": statuses})
}

// healthCheck reports redis and filesystem health per §6.2.
func (a *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	redisHealthy := true
	if a.health.KV != nil {
		if err := a.health.KV.Ping(ctx); err != nil {
			redisHealthy = false
		}
	}
	fsHealthy := true
	if a.health.DataDir != nil {
		if err := a.health.DataDir(); err != nil {
			fsHealthy = false
		}
	}

	status := http.StatusOK
	if !redisHealthy || !fsHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"redis_healthy": redisHealthy, "filesystem_healthy": fsHealthy})
}
