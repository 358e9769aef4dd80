package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/liftdao/finance-layer/internal/app"
	"github.com/liftdao/finance-layer/internal/escrow"
)

func newTestServer(t *testing.T) (*httptest.Server, *escrow.Mock) {
	t.Helper()
	gw := escrow.NewMock()
	application, err := app.New(app.Stores{}, gw, app.Options{}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	srv := httptest.NewServer(NewHandler(application))
	t.Cleanup(srv.Close)
	return srv, gw
}

func doJSON(t *testing.T, method, url string, payload interface{}, wantStatus int) map[string]interface{} {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Actor", "tester")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		t.Fatalf("%s %s: status %d, want %d (%s)", method, url, resp.StatusCode, wantStatus, buf.String())
	}

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil
	}
	return decoded
}

func TestPaymentEndpointsLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	doJSON(t, http.MethodPut, srv.URL+"/projects/1/escrow-config", map[string]interface{}{
		"chain_id":          1,
		"allocation_escrow": "0x4444444444444444444444444444444444444444",
		"repayment_escrow":  "0x5555555555555555555555555555555555555555",
	}, http.StatusOK)

	created := doJSON(t, http.MethodPost, srv.URL+"/payments", map[string]interface{}{
		"project_id":        1,
		"type":              "UNIT_PURCHASE",
		"amount":            "5000000",
		"token_address":     "0x3333333333333333333333333333333333333333",
		"chain_id":          1,
		"payer_address":     "0x1111111111111111111111111111111111111111",
		"recipient_address": "0x2222222222222222222222222222222222222222",
	}, http.StatusCreated)

	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("no payment id in response: %+v", created)
	}
	if created["amount"] != "5000000" {
		t.Fatalf("amount must serialize as a string: %v", created["amount"])
	}
	if created["status"] != "PENDING" {
		t.Fatalf("unexpected status: %v", created["status"])
	}

	executed := doJSON(t, http.MethodPost, srv.URL+"/payments/"+id+"/execute", map[string]interface{}{
		"token_ids":     []string{"t1"},
		"token_amounts": []string{"1"},
	}, http.StatusOK)
	if executed["status"] != "CONFIRMED" {
		t.Fatalf("unexpected status after execute: %v", executed["status"])
	}

	// Second execute conflicts with the state machine.
	doJSON(t, http.MethodPost, srv.URL+"/payments/"+id+"/execute", map[string]interface{}{
		"token_ids":     []string{"t1"},
		"token_amounts": []string{"1"},
	}, http.StatusConflict)

	notified := doJSON(t, http.MethodPost, srv.URL+"/payments/"+id+"/notify-proceeds",
		map[string]interface{}{}, http.StatusOK)
	if notified["status"] != "IN_ESCROW" {
		t.Fatalf("unexpected status after notify: %v", notified["status"])
	}

	// Repeat notification is idempotent at the API boundary.
	doJSON(t, http.MethodPost, srv.URL+"/payments/"+id+"/notify-proceeds",
		map[string]interface{}{}, http.StatusConflict)

	resp, err := http.Get(srv.URL + "/payments/" + id + "/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	var events []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0]["actor"] != "tester" {
		t.Fatalf("actor header not propagated: %+v", events[0])
	}
}

func TestExecuteWithoutEscrowConfig(t *testing.T) {
	srv, _ := newTestServer(t)

	created := doJSON(t, http.MethodPost, srv.URL+"/payments", map[string]interface{}{
		"project_id":        2,
		"type":              "UNIT_PURCHASE",
		"amount":            "100",
		"token_address":     "0x3333333333333333333333333333333333333333",
		"chain_id":          1,
		"payer_address":     "0x1111111111111111111111111111111111111111",
		"recipient_address": "0x2222222222222222222222222222222222222222",
	}, http.StatusCreated)
	id := created["id"].(string)

	doJSON(t, http.MethodPost, srv.URL+"/payments/"+id+"/execute", map[string]interface{}{
		"token_ids":     []string{"t1"},
		"token_amounts": []string{"1"},
	}, http.StatusPreconditionFailed)
}

func TestRoleAndAuthzEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	assigned := doJSON(t, http.MethodPost, srv.URL+"/roles", map[string]interface{}{
		"principal_id": "alice",
		"project_id":   1,
		"role":         "TREASURER",
	}, http.StatusCreated)
	assignmentID := assigned["id"].(string)

	// Duplicate assignment conflicts.
	doJSON(t, http.MethodPost, srv.URL+"/roles", map[string]interface{}{
		"principal_id": "alice",
		"project_id":   1,
		"role":         "TREASURER",
	}, http.StatusConflict)

	approve := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/authz/can-approve?principal_id=alice&project_id=1&amount=%d", srv.URL, 1_000_000), nil, http.StatusOK)
	if approve["approved"] != true {
		t.Fatalf("treasurer should approve within tier 1: %+v", approve)
	}

	denied := doJSON(t, http.MethodGet,
		srv.URL+"/authz/can-approve?principal_id=nobody&project_id=1&amount=1", nil, http.StatusOK)
	if denied["approved"] != false {
		t.Fatalf("unknown principal must be denied: %+v", denied)
	}

	perm := doJSON(t, http.MethodGet,
		srv.URL+"/authz/permission?principal_id=alice&capability=CONFIGURE_ESCROW&project_id=1", nil, http.StatusOK)
	if perm["granted"] != true {
		t.Fatalf("treasurer should configure escrow: %+v", perm)
	}

	doJSON(t, http.MethodPost, srv.URL+"/roles/"+assignmentID+"/revoke",
		map[string]interface{}{"notes": "done"}, http.StatusOK)

	// Second revocation conflicts.
	doJSON(t, http.MethodPost, srv.URL+"/roles/"+assignmentID+"/revoke",
		map[string]interface{}{}, http.StatusConflict)

	after := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/authz/can-approve?principal_id=alice&project_id=1&amount=%d", srv.URL, 1_000_000), nil, http.StatusOK)
	if after["approved"] != false {
		t.Fatalf("revoked treasurer must be denied: %+v", after)
	}
}

func TestApprovalMatrixEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	doJSON(t, http.MethodGet, srv.URL+"/projects/7/approval-matrix", nil, http.StatusNotFound)

	stored := doJSON(t, http.MethodPut, srv.URL+"/projects/7/approval-matrix", map[string]interface{}{
		"tier1_max_amount":        "1000000",
		"tier1_roles":             []string{"PROJECT_MANAGER"},
		"tier2_max_amount":        "100000000",
		"tier2_roles":             []string{"TREASURER"},
		"tier3_requires_multisig": true,
	}, http.StatusOK)
	if stored["tier1_max_amount"] != "1000000" {
		t.Fatalf("matrix not echoed: %+v", stored)
	}

	// Inverted thresholds are rejected.
	doJSON(t, http.MethodPut, srv.URL+"/projects/7/approval-matrix", map[string]interface{}{
		"tier1_max_amount": "100",
		"tier2_max_amount": "100",
	}, http.StatusBadRequest)
}

func TestLedgerEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	summary := doJSON(t, http.MethodGet, srv.URL+"/projects/1/ledger/summary", nil, http.StatusOK)
	if summary["total_deposits"] != "0" {
		t.Fatalf("empty ledger should roll up to zero: %+v", summary)
	}

	report := doJSON(t, http.MethodGet, srv.URL+"/projects/1/ledger/report", nil, http.StatusOK)
	if report["health_score"] != float64(100) {
		t.Fatalf("empty ledger should be healthy: %+v", report)
	}
	checks, _ := report["checks"].([]interface{})
	if len(checks) != 5 {
		t.Fatalf("expected 5 checks in the report, got %d", len(checks))
	}

	health := doJSON(t, http.MethodGet, srv.URL+"/projects/1/ledger/health", nil, http.StatusOK)
	if health["health_score"] != float64(100) {
		t.Fatalf("unexpected health payload: %+v", health)
	}

	// No sweeper configured in this application.
	doJSON(t, http.MethodPost, srv.URL+"/projects/1/ledger/watch", nil, http.StatusNotImplemented)
}

func TestMalformedInputs(t *testing.T) {
	srv, _ := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/payments", map[string]interface{}{
		"project_id": 1,
		"type":       "UNIT_PURCHASE",
		"amount":     "not-a-number",
	}, http.StatusBadRequest)

	doJSON(t, http.MethodPost, srv.URL+"/payments", map[string]interface{}{
		"unknown_field": true,
	}, http.StatusBadRequest)

	doJSON(t, http.MethodGet, srv.URL+"/projects/abc/payments", nil, http.StatusBadRequest)
	doJSON(t, http.MethodGet, srv.URL+"/payments/missing", nil, http.StatusNotFound)
}

func TestWrapWithAuth(t *testing.T) {
	audit := NewAuditLog(10, nil)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(WrapWithAuth(inner, []string{"secret"}, audit))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/payments")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token must be rejected, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/payments", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Actor", "ops")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("valid token rejected: %d", resp.StatusCode)
	}

	entries := audit.List()
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	if entries[0].Actor != "ops" || entries[0].Status != http.StatusNoContent {
		t.Fatalf("audit entry wrong: %+v", entries[0])
	}
}
