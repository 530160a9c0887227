package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/lifecycle"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateOrder stores a new pending order together with its created event and
// an INSERT change in the outbox.
func (r *Repository) CreateOrder(ctx context.Context, in NewOrder) (*domain.Order, error) {
	if len(in.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	currency := in.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	var checkoutID sql.NullString
	if in.CheckoutID != "" {
		checkoutID = sql.NullString{String: in.CheckoutID, Valid: true}
	}

	id := uuid.NewString()
	now := r.now()

	var created *domain.Order
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO orders (id, market_id, vendor_id, user_id, checkout_id, status, currency, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
			id, in.MarketID, in.VendorID, in.UserID, checkoutID, domain.StatusPending, strings.ToUpper(currency), now)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrDuplicateCheckout
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range in.Items {
			lineTotal := item.UnitPrice * domain.Money(item.Quantity)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, position, product_id, name, quantity, unit_price, line_total)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				id, i, item.ProductID, item.Name, item.Quantity, item.UnitPrice, lineTotal); err != nil {
				return fmt.Errorf("insert order item %d: %w", i, err)
			}
		}

		if err := insertEvent(ctx, tx, id, domain.OrderEvent{Type: domain.EventCreated, CreatedAt: now}); err != nil {
			return err
		}

		o, err := loadOrder(ctx, tx, id, false)
		if err != nil {
			return err
		}
		if err := insertChange(ctx, tx, domain.ChangeInsert, o, now); err != nil {
			return err
		}

		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *Repository) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	return loadOrder(ctx, r.db, id, false)
}

func (r *Repository) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return r.listOrders(ctx, `SELECT id FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *Repository) ListOrdersByVendor(ctx context.Context, vendorID string) ([]domain.Order, error) {
	return r.listOrders(ctx, `SELECT id FROM orders WHERE vendor_id = $1 ORDER BY created_at DESC`, vendorID)
}

func (r *Repository) ConfirmOrder(ctx context.Context, id string) (*domain.Order, error) {
	return r.transition(ctx, id, lifecycle.ActionConfirm, domain.RefundRequest{})
}

func (r *Repository) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	return r.transition(ctx, id, lifecycle.ActionCancel, domain.RefundRequest{})
}

// RefundOrder records a refund. A request carrying an idempotency key that was
// already used on this order returns the current order without refunding
// again.
func (r *Repository) RefundOrder(ctx context.Context, id string, req domain.RefundRequest) (*domain.Order, error) {
	if req.Amount <= 0 {
		return nil, &domain.ValidationError{OrderID: id, Message: "refund amount must be greater than $0.00"}
	}
	return r.transition(ctx, id, lifecycle.ActionRefund, req)
}

// transition applies action under a row lock using the same guard table as
// the client. A guard violation here means the caller acted on stale data and
// is reported as a conflict.
func (r *Repository) transition(ctx context.Context, id string, action lifecycle.Action, req domain.RefundRequest) (*domain.Order, error) {
	var out *domain.Order

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		o, err := loadOrder(ctx, tx, id, true)
		if err != nil {
			return err
		}

		if action == lifecycle.ActionRefund && req.IdempotencyKey != "" {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM refunds WHERE order_id = $1 AND idempotency_key = $2)`,
				o.ID, req.IdempotencyKey).Scan(&exists); err != nil {
				return fmt.Errorf("check idempotency key: %w", err)
			}
			if exists {
				out = o
				return nil
			}
		}

		tr, err := lifecycle.Apply(*o, action, req.Amount)
		if err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				return &domain.ConflictError{OrderID: o.ID, Message: ve.Message}
			}
			return err
		}

		now := r.now()
		event := domain.OrderEvent{Type: tr.Event, CreatedAt: now}

		if action == lifecycle.ActionRefund {
			var key sql.NullString
			if req.IdempotencyKey != "" {
				key = sql.NullString{String: req.IdempotencyKey, Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO refunds (id, order_id, amount, reason, idempotency_key, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				uuid.NewString(), o.ID, req.Amount, req.Reason, key, now); err != nil {
				return fmt.Errorf("insert refund: %w", err)
			}
			amount := req.Amount
			event.Amount = &amount
			event.Reason = req.Reason
		}

		if err := insertEvent(ctx, tx, o.ID, event); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
			tr.Status, now, o.ID); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		updated, err := loadOrder(ctx, tx, o.ID, false)
		if err != nil {
			return err
		}
		if err := insertChange(ctx, tx, domain.ChangeUpdate, updated, now); err != nil {
			return err
		}

		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *Repository) GetUnpublishedChanges(ctx context.Context, limit int) ([]OutboxChange, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, change_type, payload, created_at
		 FROM order_outbox WHERE published_at IS NULL
		 ORDER BY created_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var changes []OutboxChange
	for rows.Next() {
		var c OutboxChange
		if err := rows.Scan(&c.ID, &c.OrderID, &c.Type, &c.Payload, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return changes, nil
}

func (r *Repository) MarkChangePublished(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE order_outbox SET published_at = $1 WHERE id = $2 AND published_at IS NULL`, r.now(), id)
	if err != nil {
		return fmt.Errorf("mark change published: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outbox change %s not found or already published", id)
	}
	return nil
}

func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (txErr error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if txErr != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				txErr = errors.Join(txErr, fmt.Errorf("tx.Rollback: %w", rollbackErr))
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *Repository) listOrders(ctx context.Context, query string, arg string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		o, err := loadOrder(ctx, r.db, id, false)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	return orders, nil
}

func loadOrder(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrOrderNotFound
	}

	query := `SELECT id, market_id, vendor_id, user_id, status, currency, created_at, updated_at
	          FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		o      domain.Order
		status string
	)
	err := q.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.MarketID, &o.VendorID, &o.UserID, &status, &o.Currency, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	if o.Status, err = domain.ToOrderStatus(status); err != nil {
		return nil, err
	}

	if o.Items, err = loadItems(ctx, q, id); err != nil {
		return nil, err
	}
	if o.Refunds, err = loadRefunds(ctx, q, id); err != nil {
		return nil, err
	}
	if o.Events, err = loadEvents(ctx, q, id); err != nil {
		return nil, err
	}

	return &o, nil
}

func loadItems(ctx context.Context, q querier, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT product_id, name, quantity, unit_price, line_total
		 FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func loadRefunds(ctx context.Context, q querier, orderID string) ([]domain.Refund, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, amount, reason, created_at
		 FROM refunds WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query refunds: %w", err)
	}
	defer rows.Close()

	refunds := []domain.Refund{}
	for rows.Next() {
		var refund domain.Refund
		if err := rows.Scan(&refund.ID, &refund.Amount, &refund.Reason, &refund.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		refunds = append(refunds, refund)
	}
	return refunds, rows.Err()
}

func loadEvents(ctx context.Context, q querier, orderID string) ([]domain.OrderEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, type, amount, reason, created_at
		 FROM order_events WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	events := []domain.OrderEvent{}
	for rows.Next() {
		var (
			event  domain.OrderEvent
			id     int64
			amount sql.Null[domain.Money]
		)
		if err := rows.Scan(&id, &event.Type, &amount, &event.Reason, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		event.ID = fmt.Sprint(id)
		if amount.Valid {
			event.Amount = &amount.V
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func insertEvent(ctx context.Context, q querier, orderID string, event domain.OrderEvent) error {
	var amount any
	if event.Amount != nil {
		amount = *event.Amount
	}

	if _, err := q.ExecContext(ctx,
		`INSERT INTO order_events (order_id, type, amount, reason, created_at) VALUES ($1, $2, $3, $4, $5)`,
		orderID, event.Type, amount, event.Reason, event.CreatedAt); err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func insertChange(ctx context.Context, q querier, changeType domain.ChangeType, o *domain.Order, now time.Time) error {
	change := domain.OrderChange{
		EventID:    uuid.NewString(),
		Type:       changeType,
		OrderID:    o.ID,
		UserID:     o.UserID,
		VendorID:   o.VendorID,
		Order:      o,
		OccurredAt: now,
	}

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal order change: %w", err)
	}

	if _, err := q.ExecContext(ctx,
		`INSERT INTO order_outbox (id, order_id, change_type, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		change.EventID, o.ID, changeType, string(payload), now); err != nil {
		return fmt.Errorf("insert outbox change: %w", err)
	}
	return nil
}
