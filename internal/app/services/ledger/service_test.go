package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	domain "github.com/liftdao/finance-layer/internal/app/domain/ledger"
	"github.com/liftdao/finance-layer/internal/app/storage/memory"
)

// seedConsistent builds a project ledger where every invariant holds:
// 1000 in completed deposits partitioned as 400/300/200/100, one contract
// billed below its amount, one paid invoice fully disbursed and a token batch
// whose notional value fits the available balance.
func seedConsistent(store *memory.Store) {
	store.SeedDeposit(domain.Deposit{ID: "d1", ProjectID: 1, Amount: big.NewInt(600), Status: domain.DepositCompleted})
	store.SeedDeposit(domain.Deposit{ID: "d2", ProjectID: 1, Amount: big.NewInt(400), Status: domain.DepositCompleted})
	store.SeedDeposit(domain.Deposit{ID: "d3", ProjectID: 1, Amount: big.NewInt(500), Status: domain.DepositPending})

	store.SeedFundingBucket(domain.FundingBucket{
		ID:         "b1",
		ProjectID:  1,
		Available:  big.NewInt(400),
		Committed:  big.NewInt(300),
		Encumbered: big.NewInt(200),
		Disbursed:  big.NewInt(100),
	})

	store.SeedContract(domain.FinanceContract{ID: "c1", ProjectID: 1, CurrentAmount: big.NewInt(500), Status: "EXECUTED"})
	store.SeedInvoice(domain.Invoice{
		ID:          "inv1",
		ProjectID:   1,
		ContractID:  "c1",
		TotalAmount: big.NewInt(300),
		NetPayable:  big.NewInt(100),
		Status:      domain.InvoicePaid,
	})
	store.SeedDisbursement(domain.Disbursement{ID: "dis1", ProjectID: 1, InvoiceID: "inv1", Amount: big.NewInt(100), Status: "SETTLED"})

	store.SeedLiftToken(domain.LiftToken{ID: "t1", ProjectID: 1, Quantity: big.NewInt(3), UnitPrice: big.NewInt(100), Status: domain.TokenIssued})
	store.SeedLiftToken(domain.LiftToken{ID: "t2", ProjectID: 1, Quantity: big.NewInt(1), Status: domain.TokenRetired})
}

func checkByName(t *testing.T, checks []domain.InvariantCheck, name domain.Invariant) domain.InvariantCheck {
	t.Helper()
	for _, c := range checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %s missing", name)
	return domain.InvariantCheck{}
}

func TestSummary(t *testing.T) {
	store := memory.New()
	seedConsistent(store)
	svc := New(store, nil)

	sum, err := svc.Summary(context.Background(), 1)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalDeposits.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("pending deposits must not count: %s", sum.TotalDeposits)
	}
	if sum.TokensIssued.Cmp(big.NewInt(3)) != 0 || sum.TokensRetired.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("token quantities wrong: issued %s retired %s", sum.TokensIssued, sum.TokensRetired)
	}
	if sum.TokenNotional.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("token notional wrong: %s", sum.TokenNotional)
	}
	if sum.Available.Cmp(big.NewInt(400)) != 0 || sum.Disbursed.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bucket balances wrong: %+v", sum)
	}
}

func TestCheckInvariantsAllPass(t *testing.T) {
	store := memory.New()
	seedConsistent(store)
	svc := New(store, nil)

	checks, err := svc.CheckInvariants(context.Background(), 1)
	if err != nil {
		t.Fatalf("check invariants: %v", err)
	}
	if len(checks) != 5 {
		t.Fatalf("expected 5 checks, got %d", len(checks))
	}
	for _, c := range checks {
		if !c.Passed {
			t.Fatalf("check %s failed on a consistent ledger: %s", c.Name, c.Message)
		}
	}

	score, err := svc.HealthScore(context.Background(), 1)
	if err != nil {
		t.Fatalf("health score: %v", err)
	}
	if score != 100 {
		t.Fatalf("expected health 100, got %d", score)
	}
}

func TestBucketDriftTolerance(t *testing.T) {
	within := memory.New()
	seedConsistent(within)
	within.SeedFundingBucket(domain.FundingBucket{
		ID:         "b1",
		ProjectID:  1,
		Available:  big.NewInt(400),
		Committed:  big.NewInt(400), // drift exactly at tolerance
		Encumbered: big.NewInt(200),
		Disbursed:  big.NewInt(100),
	})
	checks, err := New(within, nil).CheckInvariants(context.Background(), 1)
	if err != nil {
		t.Fatalf("check invariants: %v", err)
	}
	if c := checkByName(t, checks, domain.InvariantBucketCompleteness); !c.Passed {
		t.Fatalf("drift at tolerance must pass: %s", c.Message)
	}

	beyond := memory.New()
	seedConsistent(beyond)
	beyond.SeedFundingBucket(domain.FundingBucket{
		ID:         "b1",
		ProjectID:  1,
		Available:  big.NewInt(400),
		Committed:  big.NewInt(401), // one unit past tolerance
		Encumbered: big.NewInt(200),
		Disbursed:  big.NewInt(100),
	})
	checks, err = New(beyond, nil).CheckInvariants(context.Background(), 1)
	if err != nil {
		t.Fatalf("check invariants: %v", err)
	}
	if c := checkByName(t, checks, domain.InvariantBucketCompleteness); c.Passed {
		t.Fatal("drift past tolerance must fail")
	}
}

func TestBalanceConservationViolation(t *testing.T) {
	store := memory.New()
	seedConsistent(store)
	// Allocate more than was ever deposited.
	store.SeedFundingBucket(domain.FundingBucket{
		ID:         "b1",
		ProjectID:  1,
		Available:  big.NewInt(900),
		Committed:  big.NewInt(0),
		Encumbered: big.NewInt(200),
		Disbursed:  big.NewInt(100),
	})
	checks, err := New(store, nil).CheckInvariants(context.Background(), 1)
	if err != nil {
		t.Fatalf("check invariants: %v", err)
	}
	if c := checkByName(t, checks, domain.InvariantBalanceConservation); c.Passed {
		t.Fatal("over-allocation must violate balance conservation")
	}
}

func TestContractInvoiceViolation(t *testing.T) {
	store := memory.New()
	seedConsistent(store)
	store.SeedInvoice(domain.Invoice{
		ID:          "inv2",
		ProjectID:   1,
		ContractID:  "c1",
		TotalAmount: big.NewInt(300), // pushes c1 billing to 600 against 500
		NetPayable:  big.NewInt(300),
		Status:      domain.InvoiceOpen,
	})
	checks, err := New(store, nil).CheckInvariants(context.Background(), 1)
	if err != nil {
		t.Fatalf("check invariants: %v", err)
	}
	if c := checkByName(t, checks, domain.InvariantContractInvoice); c.Passed {
		t.Fatal("over-billing must violate contract consistency")
	}
}

func TestInvoiceDisbursementViolation(t *testing.T) {
	store := memory.New()
	seedConsistent(store)
	// A paid invoice with no matching disbursement at all.
	store.SeedInvoice(domain.Invoice{
		ID:          "inv2",
		ProjectID:   1,
		ContractID:  "c1",
		TotalAmount: big.NewInt(150),
		NetPayable:  big.NewInt(150),
		Status:      domain.InvoicePaid,
	})
	checks, err := New(store, nil).CheckInvariants(context.Background(), 1)
	if err != nil {
		t.Fatalf("check invariants: %v", err)
	}
	if c := checkByName(t, checks, domain.InvariantInvoiceDisbursement); c.Passed {
		t.Fatal("under-disbursed paid invoice must fail")
	}
}

func TestIntegrityReportRecommendations(t *testing.T) {
	store := memory.New()
	seedConsistent(store)
	// Overpriced issuance: notional grows to 3300 against 400 available.
	store.SeedLiftToken(domain.LiftToken{ID: "t3", ProjectID: 1, Quantity: big.NewInt(3), UnitPrice: big.NewInt(1000), Status: domain.TokenIssued})

	report, err := New(store, nil).IntegrityReport(context.Background(), 1)
	if err != nil {
		t.Fatalf("integrity report: %v", err)
	}
	if report.HealthScore != 80 {
		t.Fatalf("one failure of five should score 80, got %d", report.HealthScore)
	}
	if len(report.Recommendations) != 1 {
		t.Fatalf("expected one recommendation, got %+v", report.Recommendations)
	}
	if report.Recommendations[0] != recommendations[domain.InvariantTokenBudget] {
		t.Fatalf("wrong recommendation: %s", report.Recommendations[0])
	}
	if c := checkByName(t, report.Checks, domain.InvariantTokenBudget); c.Passed {
		t.Fatal("token budget must fail")
	}
}

func TestSampledChecksStateScope(t *testing.T) {
	store := memory.New()
	seedConsistent(store)
	for i := 0; i < 8; i++ {
		store.SeedContract(domain.FinanceContract{
			ID:            string(rune('A' + i)),
			ProjectID:     1,
			CurrentAmount: big.NewInt(50),
			Status:        "EXECUTED",
		})
	}

	checks, err := New(store, nil).CheckInvariants(context.Background(), 1)
	if err != nil {
		t.Fatalf("check invariants: %v", err)
	}
	c := checkByName(t, checks, domain.InvariantContractInvoice)
	if want := "sampled 5 of 9 contracts"; !strings.Contains(c.Message, want) {
		t.Fatalf("sampled scope not stated: %q", c.Message)
	}
}

func TestHealthScoreEmptyLedger(t *testing.T) {
	svc := New(memory.New(), nil)
	score, err := svc.HealthScore(context.Background(), 99)
	if err != nil {
		t.Fatalf("health score: %v", err)
	}
	if score != 100 {
		t.Fatalf("an empty ledger is trivially consistent, got %d", score)
	}
}

// brokenBucketStore fails GetFundingBucket with a non-NotFound error while
// every other read succeeds.
type brokenBucketStore struct {
	*memory.Store
	err error
}

func (s *brokenBucketStore) GetFundingBucket(context.Context, int64) (domain.FundingBucket, error) {
	return domain.FundingBucket{}, s.err
}

func TestBucketReadFailurePropagates(t *testing.T) {
	store := memory.New()
	seedConsistent(store)
	cause := errors.New("connection reset by peer")
	svc := New(&brokenBucketStore{Store: store, err: cause}, nil)

	// A repository failure must surface as an error, never as zeroed bucket
	// balances feeding a fabricated completeness violation.
	if _, err := svc.Summary(context.Background(), 1); !errors.Is(err, cause) {
		t.Fatalf("summary error = %v, want %v", err, cause)
	}
	if _, err := svc.CheckInvariants(context.Background(), 1); !errors.Is(err, cause) {
		t.Fatalf("check invariants error = %v, want %v", err, cause)
	}
	if _, err := svc.IntegrityReport(context.Background(), 1); !errors.Is(err, cause) {
		t.Fatalf("integrity report error = %v, want %v", err, cause)
	}
}

func TestMissingBucketRowTreatedAsZero(t *testing.T) {
	store := memory.New()
	store.SeedDeposit(domain.Deposit{ID: "d1", ProjectID: 1, Amount: big.NewInt(100), Status: domain.DepositCompleted})
	svc := New(store, nil)

	sum, err := svc.Summary(context.Background(), 1)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Available.Sign() != 0 || sum.Committed.Sign() != 0 ||
		sum.Encumbered.Sign() != 0 || sum.Disbursed.Sign() != 0 {
		t.Fatalf("absent bucket must read as zero balances: %+v", sum)
	}
}
