// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/drawbridge-labs/drawbridge/lib/policy"
	"github.com/drawbridge-labs/drawbridge/lib/secret"
	"github.com/drawbridge-labs/drawbridge/transport"
	"github.com/drawbridge-labs/drawbridge/vault"
)

const testAdminToken = "admin-token-for-tests"

type testGateway struct {
	client      *http.Client
	adminClient *http.Client
	vault       *vault.Vault
	mem         *transport.Memory
}

func startTestServer(t *testing.T) *testGateway {
	t.Helper()
	dir := t.TempDir()
	mem := transport.NewMemory(nil)
	v := testVault(t)
	tracker := NewTracker(TrackerConfig{
		Transport: mem,
		Logger:    slog.New(slog.DiscardHandler),
	})
	tracker.Probe(context.Background())

	relay, err := NewRelay(RelayConfig{
		Policy:    policy.Default(),
		Vault:     v,
		Transport: mem,
		Tracker:   tracker,
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewRelay() error: %v", err)
	}
	t.Cleanup(relay.Close)

	adminToken, err := secret.NewFromBytes([]byte(testAdminToken))
	if err != nil {
		t.Fatalf("NewFromBytes() error: %v", err)
	}
	t.Cleanup(func() { adminToken.Close() })

	socket := filepath.Join(dir, "gateway.sock")
	adminSocket := filepath.Join(dir, "admin.sock")
	server, err := NewServer(ServerConfig{
		SocketPath:      socket,
		AdminSocketPath: adminSocket,
		AdminToken:      adminToken,
		Relay:           relay,
		Tracker:         tracker,
		Policy:          policy.Default(),
		Vault:           v,
		Logger:          slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(server.Stop)

	return &testGateway{
		client:      unixHTTPClient(socket),
		adminClient: unixHTTPClient(adminSocket),
		vault:       v,
		mem:         mem,
	}
}

func unixHTTPClient(socket string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
	}
}

func postJSON(t *testing.T, client *http.Client, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	if len(raw) == 0 {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decoding response body %q: %v", raw, err)
	}
	return decoded
}

func adminRequest(t *testing.T, gw *testGateway, method, path string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, "http://gateway"+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := gw.adminClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	return resp, decodeBody(t, resp)
}

func TestServerSubmitCommand(t *testing.T) {
	gw := startTestServer(t)
	resp, body := postJSON(t, gw.client, "http://gateway/v1/commands", map[string]any{
		"commandText":     "consultar cotacao BTC",
		"permissionScope": "api_call",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /v1/commands status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "success" {
		t.Fatalf("response status = %v (%v)", body["status"], body["errorMessage"])
	}
	if body["requestId"] == "" || body["requestId"] == nil {
		t.Fatal("response has no requestId")
	}
}

func TestServerSubmitDeniedScenario(t *testing.T) {
	gw := startTestServer(t)
	resp, body := postJSON(t, gw.client, "http://gateway/v1/commands", map[string]any{
		"commandText":     "comprar BTC 0.01",
		"permissionScope": "trade_execution",
		"parameters":      map[string]any{"integration": "binance"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /v1/commands status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "denied" {
		t.Fatalf("response status = %v, want denied", body["status"])
	}
	if body["errorMessage"] != "confirmation required" {
		t.Fatalf("errorMessage = %v, want %q", body["errorMessage"], "confirmation required")
	}
	if body["confirmationToken"] == "" || body["confirmationToken"] == nil {
		t.Fatal("denial carries no confirmation token")
	}
	if gw.mem.CallCount() != 0 {
		t.Fatalf("transport saw %d calls, want 0", gw.mem.CallCount())
	}
}

func TestServerRejectsMalformedBody(t *testing.T) {
	gw := startTestServer(t)
	resp, err := gw.client.Post("http://gateway/v1/commands", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["status"] != "error" {
		t.Fatalf("response status = %v, want error", body["status"])
	}
}

func TestServerStatus(t *testing.T) {
	gw := startTestServer(t)
	resp, err := gw.client.Get("http://gateway/v1/status")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/status status = %d, want 200", resp.StatusCode)
	}
	if body["connectionState"] != "connected" {
		t.Fatalf("connectionState = %v, want connected", body["connectionState"])
	}
	scopes, ok := body["scopes"].(map[string]any)
	if !ok {
		t.Fatalf("scopes missing from status payload: %v", body)
	}
	if _, ok := scopes["trade_execution"]; !ok {
		t.Fatal("status payload missing trade_execution scope")
	}
}

func TestServerCredentialEndpointsNotOnClientSocket(t *testing.T) {
	gw := startTestServer(t)
	req, err := http.NewRequest(http.MethodPut, "http://gateway/v1/credentials/binance", bytes.NewReader([]byte(`{"apiKey":"k","apiSecret":"s"}`)))
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	resp, err := gw.client.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("client-socket credential PUT status = %d, want 404", resp.StatusCode)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	gw := startTestServer(t)
	resp, _ := adminRequest(t, gw, http.MethodGet, "/v1/credentials", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d, want 401", resp.StatusCode)
	}
	resp, _ = adminRequest(t, gw, http.MethodGet, "/v1/credentials", nil, "wrong-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong-token status = %d, want 401", resp.StatusCode)
	}
}

func TestAdminCredentialLifecycle(t *testing.T) {
	gw := startTestServer(t)

	resp, body := adminRequest(t, gw, http.MethodPut, "/v1/credentials/binance",
		map[string]string{"apiKey": "k", "apiSecret": "s"}, testAdminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d (%v), want 200", resp.StatusCode, body)
	}
	if body["version"] != float64(1) {
		t.Fatalf("PUT version = %v, want 1", body["version"])
	}

	resp, body = adminRequest(t, gw, http.MethodGet, "/v1/credentials", nil, testAdminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", resp.StatusCode)
	}
	creds, ok := body["credentials"].([]any)
	if !ok || len(creds) != 1 {
		t.Fatalf("GET credentials = %v, want one record", body["credentials"])
	}
	record := creds[0].(map[string]any)
	if record["integration"] != "binance" {
		t.Fatalf("listed integration = %v, want binance", record["integration"])
	}
	if _, leaked := record["apiSecret"]; leaked {
		t.Fatal("credential listing exposes field material")
	}

	resp, _ = adminRequest(t, gw, http.MethodDelete, "/v1/credentials/binance", nil, testAdminToken)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}

	resp, body = adminRequest(t, gw, http.MethodPut, "/v1/credentials/kraken",
		map[string]string{"apiKey": "k"}, testAdminToken)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("PUT unknown integration status = %d (%v), want 400", resp.StatusCode, body)
	}
}

func TestAdminExport(t *testing.T) {
	gw := startTestServer(t)
	if _, err := gw.vault.Put(context.Background(), vault.IntegrationBybit, map[string]string{"apiKey": "k", "apiSecret": "s"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	recipient, _, err := vault.GenerateEscrowIdentity()
	if err != nil {
		t.Fatalf("GenerateEscrowIdentity() error: %v", err)
	}
	resp, body := adminRequest(t, gw, http.MethodPost, "/v1/credentials/export",
		map[string]any{"recipients": []string{recipient}}, testAdminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d (%v), want 200", resp.StatusCode, body)
	}
	bundle, ok := body["bundle"].(string)
	if !ok || bundle == "" {
		t.Fatal("export returned no bundle")
	}
}

func TestServerHealth(t *testing.T) {
	gw := startTestServer(t)
	resp, err := gw.client.Get("http://gateway/health")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", resp.StatusCode)
	}
}
