// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/liftdao/finance-layer/internal/app/domain/ledger"
	"github.com/liftdao/finance-layer/internal/app/domain/payment"
	"github.com/liftdao/finance-layer/internal/app/domain/roles"
	"github.com/liftdao/finance-layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. Amounts are
// NUMERIC(78,0) columns scanned through base-10 strings.
type Store struct {
	db *sql.DB
}

var _ storage.PaymentStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func scanAmount(raw sql.NullString) (*big.Int, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw.String, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", raw.String)
	}
	return v, nil
}

func amountArg(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

// --- PaymentStore -----------------------------------------------------------

func (s *Store) CreatePaymentWithEvent(ctx context.Context, p payment.Payment, ev payment.Event) (payment.Payment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return payment.Payment{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return payment.Payment{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (
			id, project_id, type, amount, token_address, chain_id,
			payer_address, recipient_address, status, proceeds_notified,
			tx_hash, consideration_ref, description, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, p.ID, p.ProjectID, string(p.Type), amountArg(p.Amount), p.TokenAddress, p.ChainID,
		p.PayerAddress, p.RecipientAddress, string(p.Status), p.ProceedsNotified,
		p.TxHash, p.ConsiderationRef, p.Description, metadataJSON, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, err
	}

	if err := insertPaymentEvent(ctx, tx, p.ID, ev, now); err != nil {
		return payment.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

func (s *Store) UpdatePaymentWithEvent(ctx context.Context, p payment.Payment, ev payment.Event) (payment.Payment, error) {
	now := time.Now().UTC()
	p.UpdatedAt = now

	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return payment.Payment{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return payment.Payment{}, err
	}
	defer tx.Rollback()

	// Row lock so a concurrent transition cannot interleave between the
	// precondition read and this write.
	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM payments WHERE id = $1 FOR UPDATE`, p.ID).Scan(&current)
	if err != nil {
		return payment.Payment{}, err
	}
	if !payment.Status(current).CanTransitionTo(p.Status) && payment.Status(current) != p.Status {
		return payment.Payment{}, fmt.Errorf("payment %s: illegal transition %s -> %s", p.ID, current, p.Status)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, proceeds_notified = $3, tx_hash = $4,
		    consideration_ref = $5, metadata = $6, updated_at = $7
		WHERE id = $1
	`, p.ID, string(p.Status), p.ProceedsNotified, p.TxHash, p.ConsiderationRef, metadataJSON, p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return payment.Payment{}, sql.ErrNoRows
	}

	if err := insertPaymentEvent(ctx, tx, p.ID, ev, now); err != nil {
		return payment.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

func insertPaymentEvent(ctx context.Context, tx *sql.Tx, paymentID string, ev payment.Event, now time.Time) error {
	metadataJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_events (id, payment_id, type, actor, tx_hash, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), paymentID, string(ev.Type), ev.Actor, ev.TxHash, metadataJSON, now)
	return err
}

const paymentColumns = `
	id, project_id, type, amount, token_address, chain_id,
	payer_address, recipient_address, status, proceeds_notified,
	tx_hash, consideration_ref, description, metadata, created_at, updated_at`

func scanPayment(row interface{ Scan(...interface{}) error }) (payment.Payment, error) {
	var (
		p        payment.Payment
		amount   sql.NullString
		metadata []byte
		ptype    string
		status   string
	)
	err := row.Scan(&p.ID, &p.ProjectID, &ptype, &amount, &p.TokenAddress, &p.ChainID,
		&p.PayerAddress, &p.RecipientAddress, &status, &p.ProceedsNotified,
		&p.TxHash, &p.ConsiderationRef, &p.Description, &metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, err
	}
	p.Type = payment.Type(ptype)
	p.Status = payment.Status(status)
	if p.Amount, err = scanAmount(amount); err != nil {
		return payment.Payment{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return payment.Payment{}, err
		}
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (s *Store) ListPayments(ctx context.Context, projectID int64) ([]payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+paymentColumns+` FROM payments WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListPaymentEvents(ctx context.Context, paymentID string) ([]payment.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payment_id, type, actor, tx_hash, metadata, created_at
		FROM payment_events WHERE payment_id = $1 ORDER BY created_at
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payment.Event
	for rows.Next() {
		var (
			ev       payment.Event
			evtype   string
			metadata []byte
		)
		if err := rows.Scan(&ev.ID, &ev.PaymentID, &evtype, &ev.Actor, &ev.TxHash, &metadata, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = payment.EventType(evtype)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) GetEscrowConfig(ctx context.Context, projectID int64) (payment.EscrowConfig, error) {
	var cfg payment.EscrowConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, chain_id, allocation_escrow, repayment_escrow, updated_at
		FROM escrow_configs WHERE project_id = $1
	`, projectID).Scan(&cfg.ProjectID, &cfg.ChainID, &cfg.AllocationEscrow, &cfg.RepaymentEscrow, &cfg.UpdatedAt)
	if err != nil {
		return payment.EscrowConfig{}, err
	}
	return cfg, nil
}

func (s *Store) PutEscrowConfig(ctx context.Context, cfg payment.EscrowConfig) (payment.EscrowConfig, error) {
	cfg.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrow_configs (project_id, chain_id, allocation_escrow, repayment_escrow, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id) DO UPDATE
		SET chain_id = $2, allocation_escrow = $3, repayment_escrow = $4, updated_at = $5
	`, cfg.ProjectID, cfg.ChainID, cfg.AllocationEscrow, cfg.RepaymentEscrow, cfg.UpdatedAt)
	if err != nil {
		return payment.EscrowConfig{}, err
	}
	return cfg, nil
}

// --- RoleStore --------------------------------------------------------------

func (s *Store) WriteAssignmentWithEvent(ctx context.Context, a roles.Assignment, ev roles.ChangeEvent) (roles.Assignment, error) {
	now := time.Now().UTC()
	isNew := a.ID == ""
	if isNew {
		a.ID = uuid.NewString()
		a.AssignedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return roles.Assignment{}, err
	}
	defer tx.Rollback()

	if isNew {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO role_assignments (
				id, principal_id, project_id, role, active, approval_limit,
				assigned_by, assigned_at, revoked_by, revoked_at, notes
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, a.ID, a.PrincipalID, a.ProjectID, string(a.Role), a.Active, amountArg(a.ApprovalLimit),
			a.AssignedBy, a.AssignedAt, a.RevokedBy, a.RevokedAt, a.Notes)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE role_assignments
			SET active = $2, approval_limit = $3, revoked_by = $4, revoked_at = $5, notes = $6
			WHERE id = $1
		`, a.ID, a.Active, amountArg(a.ApprovalLimit), a.RevokedBy, a.RevokedAt, a.Notes)
	}
	if err != nil {
		return roles.Assignment{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO role_change_events (id, assignment_id, principal_id, project_id, role, type, actor, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.NewString(), a.ID, ev.PrincipalID, ev.ProjectID, string(ev.Role), string(ev.Type), ev.Actor, ev.Notes, now)
	if err != nil {
		return roles.Assignment{}, err
	}

	if err := tx.Commit(); err != nil {
		return roles.Assignment{}, err
	}
	return a, nil
}

const assignmentColumns = `
	id, principal_id, project_id, role, active, approval_limit,
	assigned_by, assigned_at, revoked_by, revoked_at, notes`

func scanAssignment(row interface{ Scan(...interface{}) error }) (roles.Assignment, error) {
	var (
		a     roles.Assignment
		role  string
		limit sql.NullString
	)
	err := row.Scan(&a.ID, &a.PrincipalID, &a.ProjectID, &role, &a.Active, &limit,
		&a.AssignedBy, &a.AssignedAt, &a.RevokedBy, &a.RevokedAt, &a.Notes)
	if err != nil {
		return roles.Assignment{}, err
	}
	a.Role = roles.Role(role)
	if a.ApprovalLimit, err = scanAmount(limit); err != nil {
		return roles.Assignment{}, err
	}
	return a, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (roles.Assignment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+assignmentColumns+` FROM role_assignments WHERE id = $1`, id)
	return scanAssignment(row)
}

func (s *Store) ListActiveAssignments(ctx context.Context, principalID string, projectID int64) ([]roles.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+assignmentColumns+`
		FROM role_assignments
		WHERE principal_id = $1 AND active AND (project_id = 0 OR project_id = $2)
		ORDER BY assigned_at
	`, principalID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []roles.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListChangeEvents(ctx context.Context, principalID string) ([]roles.ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assignment_id, principal_id, project_id, role, type, actor, notes, created_at
		FROM role_change_events WHERE principal_id = $1 ORDER BY created_at
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []roles.ChangeEvent
	for rows.Next() {
		var (
			ev     roles.ChangeEvent
			role   string
			evtype string
		)
		if err := rows.Scan(&ev.ID, &ev.AssignmentID, &ev.PrincipalID, &ev.ProjectID, &role, &evtype, &ev.Actor, &ev.Notes, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Role = roles.Role(role)
		ev.Type = roles.ChangeEventType(evtype)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) GetApprovalMatrix(ctx context.Context, projectID int64) (roles.ApprovalMatrix, bool, error) {
	var (
		m                      roles.ApprovalMatrix
		tier1, tier2           sql.NullString
		tier1Roles, tier2Roles pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, tier1_max_amount, tier1_roles, tier2_max_amount, tier2_roles,
		       tier3_requires_multisig, updated_at
		FROM approval_matrices WHERE project_id = $1
	`, projectID).Scan(&m.ProjectID, &tier1, &tier1Roles, &tier2, &tier2Roles, &m.Tier3RequiresMultisig, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return roles.ApprovalMatrix{}, false, nil
	}
	if err != nil {
		return roles.ApprovalMatrix{}, false, err
	}
	if m.Tier1MaxAmount, err = scanAmount(tier1); err != nil {
		return roles.ApprovalMatrix{}, false, err
	}
	if m.Tier2MaxAmount, err = scanAmount(tier2); err != nil {
		return roles.ApprovalMatrix{}, false, err
	}
	m.Tier1Roles = toRoles(tier1Roles)
	m.Tier2Roles = toRoles(tier2Roles)
	return m, true, nil
}

func toRoles(raw pq.StringArray) []roles.Role {
	out := make([]roles.Role, len(raw))
	for i, r := range raw {
		out[i] = roles.Role(r)
	}
	return out
}

func fromRoles(rs []roles.Role) pq.StringArray {
	out := make(pq.StringArray, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

func (s *Store) PutApprovalMatrix(ctx context.Context, m roles.ApprovalMatrix) (roles.ApprovalMatrix, error) {
	m.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_matrices (project_id, tier1_max_amount, tier1_roles, tier2_max_amount, tier2_roles, tier3_requires_multisig, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id) DO UPDATE
		SET tier1_max_amount = $2, tier1_roles = $3, tier2_max_amount = $4,
		    tier2_roles = $5, tier3_requires_multisig = $6, updated_at = $7
	`, m.ProjectID, amountArg(m.Tier1MaxAmount), fromRoles(m.Tier1Roles),
		amountArg(m.Tier2MaxAmount), fromRoles(m.Tier2Roles), m.Tier3RequiresMultisig, m.UpdatedAt)
	if err != nil {
		return roles.ApprovalMatrix{}, err
	}
	return m, nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) ListDeposits(ctx context.Context, projectID int64) ([]ledger.Deposit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, amount, status, created_at
		FROM deposits WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Deposit
	for rows.Next() {
		var (
			d      ledger.Deposit
			amount sql.NullString
			status string
		)
		if err := rows.Scan(&d.ID, &d.ProjectID, &amount, &status, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Status = ledger.DepositStatus(status)
		if d.Amount, err = scanAmount(amount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetFundingBucket(ctx context.Context, projectID int64) (ledger.FundingBucket, error) {
	var (
		b                                           ledger.FundingBucket
		available, committed, encumbered, disbursed sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, available, committed, encumbered, disbursed, updated_at
		FROM funding_buckets WHERE project_id = $1
	`, projectID).Scan(&b.ID, &b.ProjectID, &available, &committed, &encumbered, &disbursed, &b.UpdatedAt)
	if err != nil {
		return ledger.FundingBucket{}, err
	}
	if b.Available, err = scanAmount(available); err != nil {
		return ledger.FundingBucket{}, err
	}
	if b.Committed, err = scanAmount(committed); err != nil {
		return ledger.FundingBucket{}, err
	}
	if b.Encumbered, err = scanAmount(encumbered); err != nil {
		return ledger.FundingBucket{}, err
	}
	if b.Disbursed, err = scanAmount(disbursed); err != nil {
		return ledger.FundingBucket{}, err
	}
	return b, nil
}

func (s *Store) ListContracts(ctx context.Context, projectID int64) ([]ledger.FinanceContract, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, current_amount, status, created_at
		FROM finance_contracts WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.FinanceContract
	for rows.Next() {
		var (
			c      ledger.FinanceContract
			amount sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ProjectID, &amount, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		if c.CurrentAmount, err = scanAmount(amount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanInvoices(rows *sql.Rows) ([]ledger.Invoice, error) {
	var out []ledger.Invoice
	for rows.Next() {
		var (
			inv               ledger.Invoice
			total, netPayable sql.NullString
			status            string
			err               error
		)
		if err = rows.Scan(&inv.ID, &inv.ProjectID, &inv.ContractID, &total, &netPayable, &status, &inv.CreatedAt); err != nil {
			return nil, err
		}
		inv.Status = ledger.InvoiceStatus(status)
		if inv.TotalAmount, err = scanAmount(total); err != nil {
			return nil, err
		}
		if inv.NetPayable, err = scanAmount(netPayable); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *Store) ListInvoices(ctx context.Context, projectID int64) ([]ledger.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, contract_id, total_amount, net_payable, status, created_at
		FROM invoices WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvoices(rows)
}

func (s *Store) ListInvoicesByContract(ctx context.Context, contractID string) ([]ledger.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, contract_id, total_amount, net_payable, status, created_at
		FROM invoices WHERE contract_id = $1 ORDER BY created_at
	`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvoices(rows)
}

func scanDisbursements(rows *sql.Rows) ([]ledger.Disbursement, error) {
	var out []ledger.Disbursement
	for rows.Next() {
		var (
			d      ledger.Disbursement
			amount sql.NullString
			err    error
		)
		if err = rows.Scan(&d.ID, &d.ProjectID, &d.InvoiceID, &amount, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		if d.Amount, err = scanAmount(amount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListDisbursements(ctx context.Context, projectID int64) ([]ledger.Disbursement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, invoice_id, amount, status, created_at
		FROM disbursements WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDisbursements(rows)
}

func (s *Store) ListDisbursementsByInvoice(ctx context.Context, invoiceID string) ([]ledger.Disbursement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, invoice_id, amount, status, created_at
		FROM disbursements WHERE invoice_id = $1 ORDER BY created_at
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDisbursements(rows)
}

func (s *Store) ListLiftTokens(ctx context.Context, projectID int64) ([]ledger.LiftToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, quantity, unit_price, status, created_at
		FROM lift_tokens WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.LiftToken
	for rows.Next() {
		var (
			t                   ledger.LiftToken
			quantity, unitPrice sql.NullString
			status              string
		)
		if err := rows.Scan(&t.ID, &t.ProjectID, &quantity, &unitPrice, &status, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Status = ledger.TokenStatus(status)
		if t.Quantity, err = scanAmount(quantity); err != nil {
			return nil, err
		}
		if t.UnitPrice, err = scanAmount(unitPrice); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
