// Package httpapi exposes the control-plane services over a plain net/http
// REST surface. Amounts cross the wire as base-10 strings in minor units.
package httpapi

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	app "github.com/liftdao/finance-layer/internal/app"
	"github.com/liftdao/finance-layer/internal/app/domain/payment"
	"github.com/liftdao/finance-layer/internal/app/domain/roles"
	authzsvc "github.com/liftdao/finance-layer/internal/app/services/authz"
	paymentsvc "github.com/liftdao/finance-layer/internal/app/services/payments"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/payments", h.payments)
	mux.HandleFunc("/payments/", h.paymentResources)
	mux.HandleFunc("/projects/", h.projectResources)
	mux.HandleFunc("/roles", h.roles)
	mux.HandleFunc("/roles/", h.roleResources)
	mux.HandleFunc("/principals/", h.principalResources)
	mux.HandleFunc("/authz/can-approve", h.canApprove)
	mux.HandleFunc("/authz/permission", h.permission)
	return mux
}

func (h *handler) payments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			ProjectID        int64             `json:"project_id"`
			Type             string            `json:"type"`
			Amount           string            `json:"amount"`
			TokenAddress     string            `json:"token_address"`
			ChainID          int64             `json:"chain_id"`
			PayerAddress     string            `json:"payer_address"`
			RecipientAddress string            `json:"recipient_address"`
			Description      string            `json:"description"`
			Metadata         map[string]string `json:"metadata"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		created, err := h.app.Payments.Initialize(r.Context(), paymentsvc.InitializeRequest{
			ProjectID:        payload.ProjectID,
			Type:             payment.Type(payload.Type),
			Amount:           amount,
			TokenAddress:     payload.TokenAddress,
			ChainID:          payload.ChainID,
			PayerAddress:     payload.PayerAddress,
			RecipientAddress: payload.RecipientAddress,
			Description:      payload.Description,
			Metadata:         payload.Metadata,
			Actor:            actorFrom(r),
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, toPaymentView(created))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) paymentResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/payments"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	paymentID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p, err := h.app.Payments.Get(r.Context(), paymentID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentView(p))
		return
	}

	switch parts[1] {
	case "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		events, err := h.app.Payments.Events(r.Context(), paymentID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toEventViews(events))

	case "execute":
		h.executePayment(w, r, paymentID)

	case "notify-proceeds":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			ConsiderationRef string `json:"consideration_ref"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := h.app.Payments.NotifyProceeds(r.Context(), paymentID, payload.ConsiderationRef, actorFrom(r))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentView(updated))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) executePayment(w http.ResponseWriter, r *http.Request, paymentID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		TokenIDs         []string `json:"token_ids"`
		TokenAmounts     []string `json:"token_amounts"`
		ConsiderationRef string   `json:"consideration_ref"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amounts := make([]*big.Int, len(payload.TokenAmounts))
	for i, raw := range payload.TokenAmounts {
		v, err := parseAmount(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("token_amounts[%d]: %w", i, err))
			return
		}
		amounts[i] = v
	}

	updated, err := h.app.Payments.ExecuteUnitPurchase(r.Context(), paymentID, payload.TokenIDs, amounts, payload.ConsiderationRef, actorFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentView(updated))
}

func (h *handler) projectResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/projects"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	projectID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || projectID <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed project id %q", parts[0]))
		return
	}

	switch parts[1] {
	case "payments":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		list, err := h.app.Payments.List(r.Context(), projectID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentViews(list))

	case "escrow-config":
		h.escrowConfig(w, r, projectID)

	case "configure-repayment":
		h.configureRepayment(w, r, projectID)

	case "repayment-status":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		status, err := h.app.Payments.RepaymentStatus(r.Context(), projectID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			ProjectID     int64  `json:"project_id"`
			TotalRepaid   string `json:"total_repaid"`
			RepaymentCap  string `json:"repayment_cap"`
			CapReached    bool   `json:"cap_reached"`
			ForwardClosed bool   `json:"forward_closed"`
		}{
			ProjectID:     status.ProjectID,
			TotalRepaid:   amountString(status.TotalRepaid),
			RepaymentCap:  amountString(status.RepaymentCap),
			CapReached:    status.CapReached,
			ForwardClosed: status.ForwardClosed,
		})

	case "approval-matrix":
		h.approvalMatrix(w, r, projectID)

	case "ledger":
		h.projectLedger(w, r, projectID, parts[2:])

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) escrowConfig(w http.ResponseWriter, r *http.Request, projectID int64) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := h.app.Payments.EscrowConfig(r.Context(), projectID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)

	case http.MethodPut:
		var payload struct {
			ChainID          int64  `json:"chain_id"`
			AllocationEscrow string `json:"allocation_escrow"`
			RepaymentEscrow  string `json:"repayment_escrow"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg, err := h.app.Payments.RegisterEscrowAddresses(r.Context(), payment.EscrowConfig{
			ProjectID:        projectID,
			ChainID:          payload.ChainID,
			AllocationEscrow: payload.AllocationEscrow,
			RepaymentEscrow:  payload.RepaymentEscrow,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) configureRepayment(w http.ResponseWriter, r *http.Request, projectID int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ChainID          int64  `json:"chain_id"`
		ForwardPrincipal string `json:"forward_principal"`
		RepaymentCap     string `json:"repayment_cap"`
		BaseFeeBps       int64  `json:"base_fee_bps"`
		VariableFeeBps   int64  `json:"variable_fee_bps"`
		Policy           string `json:"policy"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	repayCap, err := parseAmount(payload.RepaymentCap)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("repayment_cap: %w", err))
		return
	}

	txHash, err := h.app.Payments.ConfigureProjectEscrow(r.Context(), projectID, payment.RepaymentParams{
		ForwardPrincipal: payload.ForwardPrincipal,
		RepaymentCap:     repayCap,
		BaseFeeBps:       payload.BaseFeeBps,
		VariableFeeBps:   payload.VariableFeeBps,
		Policy:           payload.Policy,
	}, payload.ChainID, actorFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tx_hash": txHash})
}

func (h *handler) approvalMatrix(w http.ResponseWriter, r *http.Request, projectID int64) {
	switch r.Method {
	case http.MethodGet:
		matrix, found, err := h.app.Authz.ApprovalMatrix(r.Context(), projectID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, fmt.Errorf("project %d has no approval matrix", projectID))
			return
		}
		writeJSON(w, http.StatusOK, toMatrixView(matrix))

	case http.MethodPut:
		var payload struct {
			Tier1MaxAmount        string   `json:"tier1_max_amount"`
			Tier1Roles            []string `json:"tier1_roles"`
			Tier2MaxAmount        string   `json:"tier2_max_amount"`
			Tier2Roles            []string `json:"tier2_roles"`
			Tier3RequiresMultisig bool     `json:"tier3_requires_multisig"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		tier1, err := parseAmount(payload.Tier1MaxAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("tier1_max_amount: %w", err))
			return
		}
		tier2, err := parseAmount(payload.Tier2MaxAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("tier2_max_amount: %w", err))
			return
		}

		stored, err := h.app.Authz.SetApprovalMatrix(r.Context(), roles.ApprovalMatrix{
			ProjectID:             projectID,
			Tier1MaxAmount:        tier1,
			Tier1Roles:            toRoles(payload.Tier1Roles),
			Tier2MaxAmount:        tier2,
			Tier2Roles:            toRoles(payload.Tier2Roles),
			Tier3RequiresMultisig: payload.Tier3RequiresMultisig,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toMatrixView(stored))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) projectLedger(w http.ResponseWriter, r *http.Request, projectID int64, rest []string) {
	if len(rest) == 0 || rest[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch rest[0] {
	case "watch", "unwatch":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if h.app.Sweeper == nil {
			writeError(w, http.StatusNotImplemented, fmt.Errorf("integrity sweeper not configured"))
			return
		}
		if rest[0] == "watch" {
			h.app.Sweeper.Watch(projectID)
		} else {
			h.app.Sweeper.Unwatch(projectID)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch rest[0] {
	case "summary":
		sum, err := h.app.Ledger.Summary(r.Context(), projectID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toSummaryView(sum))

	case "invariants":
		checks, err := h.app.Ledger.CheckInvariants(r.Context(), projectID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toCheckViews(checks))

	case "health":
		score, err := h.app.Ledger.HealthScore(r.Context(), projectID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"health_score": score})

	case "report":
		report, err := h.app.Ledger.IntegrityReport(r.Context(), projectID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toReportView(report))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) roles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			PrincipalID   string `json:"principal_id"`
			ProjectID     int64  `json:"project_id"`
			Role          string `json:"role"`
			ApprovalLimit string `json:"approval_limit"`
			Notes         string `json:"notes"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit, err := parseOptionalAmount(payload.ApprovalLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("approval_limit: %w", err))
			return
		}

		created, err := h.app.Authz.AssignRole(r.Context(), authzsvc.AssignRoleRequest{
			PrincipalID:   payload.PrincipalID,
			ProjectID:     payload.ProjectID,
			Role:          roles.Role(payload.Role),
			ApprovalLimit: limit,
			AssignedBy:    actorFrom(r),
			Notes:         payload.Notes,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, toAssignmentView(created))

	case http.MethodGet:
		principalID := strings.TrimSpace(r.URL.Query().Get("principal_id"))
		if principalID == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("principal_id is required"))
			return
		}
		projectID, err := queryProjectID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		assignments, err := h.app.Authz.ListAssignments(r.Context(), principalID, projectID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		views := make([]assignmentView, len(assignments))
		for i, a := range assignments {
			views[i] = toAssignmentView(a)
		}
		writeJSON(w, http.StatusOK, views)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) roleResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/roles"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "revoke" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Notes string `json:"notes"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Authz.RevokeRole(r.Context(), parts[0], actorFrom(r), payload.Notes)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentView(updated))
}

func (h *handler) principalResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/principals"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	principalID := parts[0]

	switch parts[1] {
	case "role-events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		events, err := h.app.Authz.ListChangeEvents(r.Context(), principalID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, events)

	case "roles":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		projectID, err := queryProjectID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		set, err := h.app.Authz.ResolveRoles(r.Context(), principalID, projectID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			ProjectRoles []roles.Role `json:"project_roles"`
			SystemRoles  []roles.Role `json:"system_roles"`
		}{
			ProjectRoles: set.ProjectRoles,
			SystemRoles:  set.SystemRoles,
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) canApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principalID := strings.TrimSpace(r.URL.Query().Get("principal_id"))
	if principalID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("principal_id is required"))
		return
	}
	projectID, err := queryProjectID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("amount: %w", err))
		return
	}

	approved, err := h.app.Authz.CanApprove(r.Context(), principalID, projectID, amount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"approved": approved})
}

func (h *handler) permission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	principalID := strings.TrimSpace(r.URL.Query().Get("principal_id"))
	capability := strings.TrimSpace(r.URL.Query().Get("capability"))
	if principalID == "" || capability == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("principal_id and capability are required"))
		return
	}
	projectID, err := queryProjectID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	granted, err := h.app.Authz.HasPermission(r.Context(), principalID, roles.Capability(capability), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

func queryProjectID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("project_id"))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("malformed project_id %q", raw)
	}
	return id, nil
}

func toRoles(names []string) []roles.Role {
	out := make([]roles.Role, len(names))
	for i, n := range names {
		out[i] = roles.Role(n)
	}
	return out
}

type matrixView struct {
	ProjectID             int64    `json:"project_id"`
	Tier1MaxAmount        string   `json:"tier1_max_amount"`
	Tier1Roles            []string `json:"tier1_roles"`
	Tier2MaxAmount        string   `json:"tier2_max_amount"`
	Tier2Roles            []string `json:"tier2_roles"`
	Tier3RequiresMultisig bool     `json:"tier3_requires_multisig"`
}

func toMatrixView(m roles.ApprovalMatrix) matrixView {
	fromRoles := func(rs []roles.Role) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = string(r)
		}
		return out
	}
	return matrixView{
		ProjectID:             m.ProjectID,
		Tier1MaxAmount:        amountString(m.Tier1MaxAmount),
		Tier1Roles:            fromRoles(m.Tier1Roles),
		Tier2MaxAmount:        amountString(m.Tier2MaxAmount),
		Tier2Roles:            fromRoles(m.Tier2Roles),
		Tier3RequiresMultisig: m.Tier3RequiresMultisig,
	}
}
