package order

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	// CreateForOrder inserts the invoice unless one already exists for the
	// order. The unique constraint on order_id makes the insert itself
	// idempotent, which is what keeps a redelivered event harmless even if
	// it slips past the dedup marker.
	CreateForOrder(ctx context.Context, inv *Invoice) (created bool, err error)
	GetByOrderID(ctx context.Context, orderID string) (*Invoice, error)
}

type PostgresInvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) InvoiceRepository {
	return &PostgresInvoiceRepository{db: db}
}

func (r *PostgresInvoiceRepository) CreateForOrder(ctx context.Context, inv *Invoice) (bool, error) {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO invoices (id, order_id, customer_id, currency, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO NOTHING
	`, inv.ID, inv.OrderID, inv.CustomerID, inv.Currency, inv.Amount, inv.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert invoice: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func (r *PostgresInvoiceRepository) GetByOrderID(ctx context.Context, orderID string) (*Invoice, error) {
	var inv Invoice
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, customer_id, currency, amount, created_at
		FROM invoices
		WHERE order_id = $1
	`, orderID).Scan(&inv.ID, &inv.OrderID, &inv.CustomerID, &inv.Currency, &inv.Amount, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &inv, nil
}
