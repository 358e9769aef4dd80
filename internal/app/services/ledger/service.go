// Package ledger implements the invariant verifier: a detective control that
// evaluates consistency rules over the project ledger. Invariant failures are
// data, not errors; the service only raises on repository access failure.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/liftdao/finance-layer/internal/app/domain/ledger"
	"github.com/liftdao/finance-layer/internal/app/metrics"
	"github.com/liftdao/finance-layer/internal/app/storage"
	"github.com/liftdao/finance-layer/pkg/logger"
)

// BucketTolerance is the allowed drift, in minor units, for the bucket
// completeness and invoice-disbursement checks.
var BucketTolerance = big.NewInt(100)

// SampleSize bounds the contract and invoice consistency scans. Sampling
// trades completeness for bounded latency; every sampled check says so in its
// message.
const SampleSize = 5

// Service computes financial summaries and evaluates the ledger invariants.
type Service struct {
	store storage.LedgerStore
	log   *logger.Logger
}

// New constructs the verifier.
func New(store storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{store: store, log: log}
}

// Summary computes the per-project financial rollup.
func (s *Service) Summary(ctx context.Context, projectID int64) (ledger.FinancialSummary, error) {
	sum := ledger.FinancialSummary{
		ProjectID:          projectID,
		TotalDeposits:      new(big.Int),
		TotalContracts:     new(big.Int),
		TotalInvoiced:      new(big.Int),
		TotalDisbursements: new(big.Int),
		Available:          new(big.Int),
		Committed:          new(big.Int),
		Encumbered:         new(big.Int),
		Disbursed:          new(big.Int),
		TokensIssued:       new(big.Int),
		TokensRetired:      new(big.Int),
		TokenNotional:      new(big.Int),
		GeneratedAt:        time.Now().UTC(),
	}

	deposits, err := s.store.ListDeposits(ctx, projectID)
	if err != nil {
		return ledger.FinancialSummary{}, fmt.Errorf("list deposits: %w", err)
	}
	for _, d := range deposits {
		if d.Status == ledger.DepositCompleted && d.Amount != nil {
			sum.TotalDeposits.Add(sum.TotalDeposits, d.Amount)
		}
	}

	contracts, err := s.store.ListContracts(ctx, projectID)
	if err != nil {
		return ledger.FinancialSummary{}, fmt.Errorf("list contracts: %w", err)
	}
	for _, c := range contracts {
		if c.CurrentAmount != nil {
			sum.TotalContracts.Add(sum.TotalContracts, c.CurrentAmount)
		}
	}

	invoices, err := s.store.ListInvoices(ctx, projectID)
	if err != nil {
		return ledger.FinancialSummary{}, fmt.Errorf("list invoices: %w", err)
	}
	for _, inv := range invoices {
		if inv.TotalAmount != nil {
			sum.TotalInvoiced.Add(sum.TotalInvoiced, inv.TotalAmount)
		}
	}

	disbursements, err := s.store.ListDisbursements(ctx, projectID)
	if err != nil {
		return ledger.FinancialSummary{}, fmt.Errorf("list disbursements: %w", err)
	}
	for _, d := range disbursements {
		if d.Amount != nil {
			sum.TotalDisbursements.Add(sum.TotalDisbursements, d.Amount)
		}
	}

	bucket, err := s.store.GetFundingBucket(ctx, projectID)
	switch {
	case err == nil:
		setIf(sum.Available, bucket.Available)
		setIf(sum.Committed, bucket.Committed)
		setIf(sum.Encumbered, bucket.Encumbered)
		setIf(sum.Disbursed, bucket.Disbursed)
	case errors.Is(err, sql.ErrNoRows):
		// No bucket row yet; balances stay zero.
	default:
		return ledger.FinancialSummary{}, fmt.Errorf("get funding bucket: %w", err)
	}

	tokens, err := s.store.ListLiftTokens(ctx, projectID)
	if err != nil {
		return ledger.FinancialSummary{}, fmt.Errorf("list lift tokens: %w", err)
	}
	for _, t := range tokens {
		if t.Quantity == nil {
			continue
		}
		switch t.Status {
		case ledger.TokenIssued:
			sum.TokensIssued.Add(sum.TokensIssued, t.Quantity)
			if t.UnitPrice != nil {
				sum.TokenNotional.Add(sum.TokenNotional, new(big.Int).Mul(t.Quantity, t.UnitPrice))
			}
		case ledger.TokenRetired:
			sum.TokensRetired.Add(sum.TokensRetired, t.Quantity)
		}
	}

	return sum, nil
}

func setIf(dst, src *big.Int) {
	if src != nil {
		dst.Set(src)
	}
}

// CheckInvariants evaluates the five named invariants against the project's
// financial summary.
func (s *Service) CheckInvariants(ctx context.Context, projectID int64) ([]ledger.InvariantCheck, error) {
	sum, err := s.Summary(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.checksFor(ctx, projectID, sum)
}

func (s *Service) checksFor(ctx context.Context, projectID int64, sum ledger.FinancialSummary) ([]ledger.InvariantCheck, error) {
	checks := []ledger.InvariantCheck{
		s.checkBalanceConservation(sum),
		s.checkBucketCompleteness(sum),
	}

	contractCheck, err := s.checkContractInvoice(ctx, projectID)
	if err != nil {
		return nil, err
	}
	checks = append(checks, contractCheck)

	invoiceCheck, err := s.checkInvoiceDisbursement(ctx, projectID)
	if err != nil {
		return nil, err
	}
	checks = append(checks, invoiceCheck)

	checks = append(checks, s.checkTokenBudget(sum))

	for _, c := range checks {
		metrics.ObserveInvariant(projectID, string(c.Name), c.Passed)
	}
	return checks, nil
}

func (s *Service) checkBalanceConservation(sum ledger.FinancialSummary) ledger.InvariantCheck {
	outstanding := new(big.Int).Add(sum.Disbursed, sum.Available)
	outstanding.Add(outstanding, sum.Encumbered)

	passed := sum.TotalDeposits.Cmp(outstanding) >= 0
	return ledger.InvariantCheck{
		Name:     ledger.InvariantBalanceConservation,
		Passed:   passed,
		Expected: fmt.Sprintf("deposits >= %s", outstanding),
		Actual:   sum.TotalDeposits.String(),
		Message:  verdict(passed, "completed deposits cover disbursed, available and encumbered funds"),
	}
}

func (s *Service) checkBucketCompleteness(sum ledger.FinancialSummary) ledger.InvariantCheck {
	total := new(big.Int).Add(sum.Available, sum.Committed)
	total.Add(total, sum.Encumbered)
	total.Add(total, sum.Disbursed)

	drift := new(big.Int).Sub(total, sum.TotalDeposits)
	passed := drift.CmpAbs(BucketTolerance) <= 0
	return ledger.InvariantCheck{
		Name:      ledger.InvariantBucketCompleteness,
		Passed:    passed,
		Expected:  sum.TotalDeposits.String(),
		Actual:    total.String(),
		Tolerance: BucketTolerance.String(),
		Message:   verdict(passed, fmt.Sprintf("bucket balances sum to completed deposits (drift %s)", drift)),
	}
}

func (s *Service) checkContractInvoice(ctx context.Context, projectID int64) (ledger.InvariantCheck, error) {
	contracts, err := s.store.ListContracts(ctx, projectID)
	if err != nil {
		return ledger.InvariantCheck{}, fmt.Errorf("list contracts: %w", err)
	}
	sampled := contracts
	if len(sampled) > SampleSize {
		sampled = sampled[:SampleSize]
	}

	passed := true
	detail := fmt.Sprintf("sampled %d of %d contracts", len(sampled), len(contracts))
	for _, c := range sampled {
		invoices, err := s.store.ListInvoicesByContract(ctx, c.ID)
		if err != nil {
			return ledger.InvariantCheck{}, fmt.Errorf("list invoices for contract %s: %w", c.ID, err)
		}
		invoiced := new(big.Int)
		for _, inv := range invoices {
			if inv.TotalAmount != nil {
				invoiced.Add(invoiced, inv.TotalAmount)
			}
		}
		if c.CurrentAmount != nil && invoiced.Cmp(c.CurrentAmount) > 0 {
			passed = false
			detail = fmt.Sprintf("contract %s invoiced %s above current amount %s (%s)",
				c.ID, invoiced, c.CurrentAmount, detail)
			break
		}
	}

	return ledger.InvariantCheck{
		Name:     ledger.InvariantContractInvoice,
		Passed:   passed,
		Expected: "invoiced total <= contract current amount",
		Actual:   detail,
		Message:  verdict(passed, "invoice totals stay within contract amounts; "+detail),
	}, nil
}

func (s *Service) checkInvoiceDisbursement(ctx context.Context, projectID int64) (ledger.InvariantCheck, error) {
	invoices, err := s.store.ListInvoices(ctx, projectID)
	if err != nil {
		return ledger.InvariantCheck{}, fmt.Errorf("list invoices: %w", err)
	}

	var paid []ledger.Invoice
	for _, inv := range invoices {
		if inv.Status == ledger.InvoicePaid {
			paid = append(paid, inv)
		}
	}
	sampled := paid
	if len(sampled) > SampleSize {
		sampled = sampled[:SampleSize]
	}

	passed := true
	detail := fmt.Sprintf("sampled %d of %d paid invoices", len(sampled), len(paid))
	for _, inv := range sampled {
		disbursements, err := s.store.ListDisbursementsByInvoice(ctx, inv.ID)
		if err != nil {
			return ledger.InvariantCheck{}, fmt.Errorf("list disbursements for invoice %s: %w", inv.ID, err)
		}
		disbursed := new(big.Int)
		for _, d := range disbursements {
			if d.Amount != nil {
				disbursed.Add(disbursed, d.Amount)
			}
		}
		if inv.NetPayable == nil {
			continue
		}
		drift := new(big.Int).Sub(inv.NetPayable, disbursed)
		if drift.CmpAbs(BucketTolerance) > 0 {
			passed = false
			detail = fmt.Sprintf("invoice %s net payable %s vs disbursed %s (%s)",
				inv.ID, inv.NetPayable, disbursed, detail)
			break
		}
	}

	return ledger.InvariantCheck{
		Name:      ledger.InvariantInvoiceDisbursement,
		Passed:    passed,
		Expected:  "net payable matches disbursements",
		Actual:    detail,
		Tolerance: BucketTolerance.String(),
		Message:   verdict(passed, "paid invoices match their disbursements; "+detail),
	}, nil
}

func (s *Service) checkTokenBudget(sum ledger.FinancialSummary) ledger.InvariantCheck {
	passed := sum.TokenNotional.Cmp(sum.Available) <= 0
	return ledger.InvariantCheck{
		Name:     ledger.InvariantTokenBudget,
		Passed:   passed,
		Expected: fmt.Sprintf("token notional <= available %s", sum.Available),
		Actual:   sum.TokenNotional.String(),
		Message:  verdict(passed, "issued token notional value stays within the available balance"),
	}
}

func verdict(passed bool, detail string) string {
	if passed {
		return "ok: " + detail
	}
	return "violated: " + detail
}

// HealthScore is round(100 x passed/total) over the invariant checks.
func (s *Service) HealthScore(ctx context.Context, projectID int64) (int, error) {
	checks, err := s.CheckInvariants(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return scoreOf(checks), nil
}

func scoreOf(checks []ledger.InvariantCheck) int {
	if len(checks) == 0 {
		return 100
	}
	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}
	return (passed*100 + len(checks)/2) / len(checks)
}

// recommendations maps failed invariants to remediation guidance.
var recommendations = map[ledger.Invariant]string{
	ledger.InvariantBalanceConservation: "Reconcile deposits against funding buckets; funds are allocated beyond completed deposits.",
	ledger.InvariantBucketCompleteness:  "Rebuild the funding bucket partition from the deposit ledger; balances have drifted beyond tolerance.",
	ledger.InvariantContractInvoice:     "Audit invoices against their contracts; billing exceeds an executed contract amount.",
	ledger.InvariantInvoiceDisbursement: "Match disbursement records to paid invoices; a payout does not reconcile with its invoice.",
	ledger.InvariantTokenBudget:         "Halt token issuance until available funds cover the issued notional value.",
}

// IntegrityReport bundles the summary, the checks, the health score and
// remediation recommendations for the failed invariants.
func (s *Service) IntegrityReport(ctx context.Context, projectID int64) (ledger.IntegrityReport, error) {
	sum, err := s.Summary(ctx, projectID)
	if err != nil {
		return ledger.IntegrityReport{}, err
	}
	checks, err := s.checksFor(ctx, projectID, sum)
	if err != nil {
		return ledger.IntegrityReport{}, err
	}

	report := ledger.IntegrityReport{
		ProjectID:   projectID,
		Summary:     sum,
		Checks:      checks,
		HealthScore: scoreOf(checks),
		GeneratedAt: time.Now().UTC(),
	}
	for _, c := range checks {
		if !c.Passed {
			if rec, ok := recommendations[c.Name]; ok {
				report.Recommendations = append(report.Recommendations, rec)
			}
		}
	}

	metrics.ObserveHealthScore(projectID, report.HealthScore)
	if report.HealthScore < 100 {
		s.log.WithField("project_id", projectID).
			WithField("health_score", report.HealthScore).
			Warn("ledger integrity degraded")
	}
	return report, nil
}
