package httpapi

import (
	"math/big"
	"time"

	"github.com/liftdao/finance-layer/internal/app/domain/ledger"
	"github.com/liftdao/finance-layer/internal/app/domain/payment"
	"github.com/liftdao/finance-layer/internal/app/domain/roles"
)

// Amounts cross the API as base-10 strings in minor units; big integers must
// never round-trip through JSON numbers.

func amountString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

type paymentView struct {
	ID               string            `json:"id"`
	ProjectID        int64             `json:"project_id"`
	Type             string            `json:"type"`
	Amount           string            `json:"amount"`
	TokenAddress     string            `json:"token_address"`
	ChainID          int64             `json:"chain_id"`
	PayerAddress     string            `json:"payer_address"`
	RecipientAddress string            `json:"recipient_address"`
	Status           string            `json:"status"`
	ProceedsNotified bool              `json:"proceeds_notified"`
	TxHash           string            `json:"tx_hash,omitempty"`
	ConsiderationRef string            `json:"consideration_ref,omitempty"`
	Description      string            `json:"description,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func toPaymentView(p payment.Payment) paymentView {
	return paymentView{
		ID:               p.ID,
		ProjectID:        p.ProjectID,
		Type:             string(p.Type),
		Amount:           amountString(p.Amount),
		TokenAddress:     p.TokenAddress,
		ChainID:          p.ChainID,
		PayerAddress:     p.PayerAddress,
		RecipientAddress: p.RecipientAddress,
		Status:           string(p.Status),
		ProceedsNotified: p.ProceedsNotified,
		TxHash:           p.TxHash,
		ConsiderationRef: p.ConsiderationRef,
		Description:      p.Description,
		Metadata:         p.Metadata,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toPaymentViews(ps []payment.Payment) []paymentView {
	out := make([]paymentView, len(ps))
	for i, p := range ps {
		out[i] = toPaymentView(p)
	}
	return out
}

type eventView struct {
	ID        string            `json:"id"`
	PaymentID string            `json:"payment_id"`
	Type      string            `json:"type"`
	Actor     string            `json:"actor,omitempty"`
	TxHash    string            `json:"tx_hash,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func toEventViews(evs []payment.Event) []eventView {
	out := make([]eventView, len(evs))
	for i, ev := range evs {
		out[i] = eventView{
			ID:        ev.ID,
			PaymentID: ev.PaymentID,
			Type:      string(ev.Type),
			Actor:     ev.Actor,
			TxHash:    ev.TxHash,
			Metadata:  ev.Metadata,
			CreatedAt: ev.CreatedAt,
		}
	}
	return out
}

type assignmentView struct {
	ID            string     `json:"id"`
	PrincipalID   string     `json:"principal_id"`
	ProjectID     int64      `json:"project_id"`
	Role          string     `json:"role"`
	Active        bool       `json:"active"`
	ApprovalLimit string     `json:"approval_limit,omitempty"`
	AssignedBy    string     `json:"assigned_by,omitempty"`
	AssignedAt    time.Time  `json:"assigned_at"`
	RevokedBy     string     `json:"revoked_by,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

func toAssignmentView(a roles.Assignment) assignmentView {
	return assignmentView{
		ID:            a.ID,
		PrincipalID:   a.PrincipalID,
		ProjectID:     a.ProjectID,
		Role:          string(a.Role),
		Active:        a.Active,
		ApprovalLimit: amountString(a.ApprovalLimit),
		AssignedBy:    a.AssignedBy,
		AssignedAt:    a.AssignedAt,
		RevokedBy:     a.RevokedBy,
		RevokedAt:     a.RevokedAt,
		Notes:         a.Notes,
	}
}

type summaryView struct {
	ProjectID          int64     `json:"project_id"`
	TotalDeposits      string    `json:"total_deposits"`
	TotalContracts     string    `json:"total_contracts"`
	TotalInvoiced      string    `json:"total_invoiced"`
	TotalDisbursements string    `json:"total_disbursements"`
	Available          string    `json:"available"`
	Committed          string    `json:"committed"`
	Encumbered         string    `json:"encumbered"`
	Disbursed          string    `json:"disbursed"`
	TokensIssued       string    `json:"tokens_issued"`
	TokensRetired      string    `json:"tokens_retired"`
	TokenNotional      string    `json:"token_notional"`
	GeneratedAt        time.Time `json:"generated_at"`
}

func toSummaryView(s ledger.FinancialSummary) summaryView {
	return summaryView{
		ProjectID:          s.ProjectID,
		TotalDeposits:      amountString(s.TotalDeposits),
		TotalContracts:     amountString(s.TotalContracts),
		TotalInvoiced:      amountString(s.TotalInvoiced),
		TotalDisbursements: amountString(s.TotalDisbursements),
		Available:          amountString(s.Available),
		Committed:          amountString(s.Committed),
		Encumbered:         amountString(s.Encumbered),
		Disbursed:          amountString(s.Disbursed),
		TokensIssued:       amountString(s.TokensIssued),
		TokensRetired:      amountString(s.TokensRetired),
		TokenNotional:      amountString(s.TokenNotional),
		GeneratedAt:        s.GeneratedAt,
	}
}

type checkView struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Tolerance string `json:"tolerance,omitempty"`
	Message   string `json:"message"`
}

func toCheckViews(checks []ledger.InvariantCheck) []checkView {
	out := make([]checkView, len(checks))
	for i, c := range checks {
		out[i] = checkView{
			Name:      string(c.Name),
			Passed:    c.Passed,
			Expected:  c.Expected,
			Actual:    c.Actual,
			Tolerance: c.Tolerance,
			Message:   c.Message,
		}
	}
	return out
}

type reportView struct {
	ProjectID       int64       `json:"project_id"`
	Summary         summaryView `json:"summary"`
	Checks          []checkView `json:"checks"`
	HealthScore     int         `json:"health_score"`
	Recommendations []string    `json:"recommendations"`
	GeneratedAt     time.Time   `json:"generated_at"`
}

func toReportView(r ledger.IntegrityReport) reportView {
	return reportView{
		ProjectID:       r.ProjectID,
		Summary:         toSummaryView(r.Summary),
		Checks:          toCheckViews(r.Checks),
		HealthScore:     r.HealthScore,
		Recommendations: r.Recommendations,
		GeneratedAt:     r.GeneratedAt,
	}
}
