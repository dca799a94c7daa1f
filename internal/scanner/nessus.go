// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package scanner

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
)

const (
	exportPollInterval = 5 * time.Second
	exportPollCeiling  = 5 * time.Minute
)

// NessusClient implements Adapter against a real Nessus-class scanner's HTTP
// API (§6.3): session-based bearer auth, template-based scan creation with
// an optional SSH credential block, launch, status polling, export, and
// best-effort stop/delete. Self-signed certificates are accepted, matching
// how on-prem scanner deployments are typically reached.
type NessusClient struct {
	baseURL  string
	username string
	password string

	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// NewNessusClient builds an adapter for one scanner instance endpoint.
func NewNessusClient(baseURL, username, password string) *NessusClient {
	return &NessusClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func (c *NessusClient) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return apperr.WrapScannerError(err, "building session request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.WrapScannerError(err, "authenticating to scanner")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperr.WrapScannerError(fmt.Errorf("status %d", resp.StatusCode), "scanner rejected credentials")
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return apperr.WrapScannerError(err, "decoding session response")
	}
	c.token = out.Token
	return nil
}

func (c *NessusClient) doJSON(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	return c.doJSONAttempt(ctx, method, path, body, out, true)
}

// doJSONAttempt performs one request. When reauth is true, a 401 triggers one
// re-authentication and one repeat of the request with reauth false, so a
// second 401 is returned as an error.
func (c *NessusClient) doJSONAttempt(ctx context.Context, method, path string, body, out interface{}, reauth bool) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, apperr.WrapInternal(err, "marshaling request body")
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, apperr.WrapScannerError(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("X-Cookie", "token="+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, apperr.WrapScannerError(err, "calling scanner")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && reauth {
		// Idempotent re-authentication on one 401, per §4.6.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		if authErr := c.Authenticate(ctx); authErr != nil {
			return resp.StatusCode, authErr
		}
		return c.doJSONAttempt(ctx, method, path, body, out, false)
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, apperr.WrapScannerError(fmt.Errorf("status %d", resp.StatusCode), "scanner returned an error")
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, apperr.WrapScannerError(err, "decoding scanner response")
		}
	}
	return resp.StatusCode, nil
}

func (c *NessusClient) CreateScan(ctx context.Context, req CreateRequest) (string, error) {
	body := map[string]interface{}{
		"uuid": "advanced-policy",
		"settings": map[string]interface{}{
			"name":        req.Name,
			"description": req.Description,
			"text_targets": req.Targets,
		},
	}
	if req.SSHUsername != "" {
		body["credentials"] = map[string]interface{}{
			"add": map[string]interface{}{
				"Host": map[string]interface{}{
					"SSH": map[string]interface{}{
						"auth_method":             "password",
						"username":                req.SSHUsername,
						"password":                req.SSHPassword,
						"elevate_privileges_with": string(req.ElevatePrivilegesWith),
						"escalation_account":      req.EscalationAccount,
						"escalation_password":     req.EscalationPassword,
					},
				},
			},
		}
	}

	var out struct {
		Scan struct {
			ID int `json:"id"`
		} `json:"scan"`
	}
	if _, err := c.doJSON(ctx, http.MethodPost, "/scans", body, &out); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", out.Scan.ID), nil
}

func (c *NessusClient) LaunchScan(ctx context.Context, scanID string) (string, error) {
	var out struct {
		ScanUUID string `json:"scan_uuid"`
	}
	if _, err := c.doJSON(ctx, http.MethodPost, "/scans/"+scanID+"/launch", nil, &out); err != nil {
		return "", err
	}
	return out.ScanUUID, nil
}

func (c *NessusClient) GetStatus(ctx context.Context, scanID string) (RemoteStatus, error) {
	var out struct {
		Info struct {
			Status   string `json:"status"`
			Progress int    `json:"progress"`
			UUID     string `json:"uuid"`
		} `json:"info"`
	}
	if _, err := c.doJSON(ctx, http.MethodGet, "/scans/"+scanID, nil, &out); err != nil {
		return RemoteStatus{}, err
	}
	return RemoteStatus{
		Status:   mapVendorStatus(out.Info.Status),
		Progress: out.Info.Progress,
		UUID:     out.Info.UUID,
	}, nil
}

func (c *NessusClient) ExportResults(ctx context.Context, scanID string) ([]byte, error) {
	var exportOut struct {
		File int `json:"file"`
	}
	exportReq := map[string]interface{}{"format": "nessus"}
	if _, err := c.doJSON(ctx, http.MethodPost, "/scans/"+scanID+"/export", exportReq, &exportOut); err != nil {
		return nil, err
	}
	fileID := fmt.Sprintf("%d", exportOut.File)

	deadline := time.Now().Add(exportPollCeiling)
	for {
		var statusOut struct {
			Status string `json:"status"`
		}
		if _, err := c.doJSON(ctx, http.MethodGet, "/scans/"+scanID+"/export/"+fileID+"/status", nil, &statusOut); err != nil {
			return nil, err
		}
		if statusOut.Status == "ready" {
			break
		}
		if time.Now().After(deadline) {
			return nil, apperr.NewTimeout("export did not become ready within the polling ceiling")
		}
		select {
		case <-ctx.Done():
			return nil, apperr.WrapScannerError(ctx.Err(), "context canceled while polling export")
		case <-time.After(exportPollInterval):
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/scans/"+scanID+"/export/"+fileID+"/download", nil)
	if err != nil {
		return nil, apperr.WrapScannerError(err, "building download request")
	}
	c.mu.Lock()
	req.Header.Set("X-Cookie", "token="+c.token)
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.WrapScannerError(err, "downloading export")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, apperr.WrapScannerError(fmt.Errorf("status %d", resp.StatusCode), "downloading export failed")
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.WrapScannerError(err, "reading export body")
	}
	return data, nil
}

func (c *NessusClient) StopScan(ctx context.Context, scanID string) (bool, error) {
	if _, err := c.doJSON(ctx, http.MethodPost, "/scans/"+scanID+"/stop", nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (c *NessusClient) DeleteScan(ctx context.Context, scanID string) (bool, error) {
	if _, err := c.doJSON(ctx, http.MethodDelete, "/scans/"+scanID, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (c *NessusClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
