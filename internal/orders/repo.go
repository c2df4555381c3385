package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

// check_violation, raised by the status guard trigger
const pgCheckViolation = "23514"

const orderColumns = `o.id::text, o.order_number, o.customer_id, o.canteen_id::text, o.total_amount::text, o.status,
	COALESCE(o.notes, ''), o.estimated_pickup_time, o.created_at, o.updated_at, o.status_changed_at`

// CreateOrder writes the order and its lines in one transaction and fills
// in the ids and the sequence-assigned order number.
func (r *Repo) CreateOrder(ctx context.Context, o *Order, lines []OrderLine) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o.ID = uuid.NewString()
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, customer_id, canteen_id, total_amount, status, notes,
		                   estimated_pickup_time, created_at, updated_at, status_changed_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)
		RETURNING order_number`,
		o.ID, o.CustomerID, o.CanteenID, o.Total.String(), string(o.Status), o.Notes,
		o.EstimatedPickupAt, o.CreatedAt, o.UpdatedAt, o.StatusChangedAt,
	).Scan(&o.Number)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range lines {
		lines[i].ID = uuid.NewString()
		lines[i].OrderID = o.ID
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, menu_item_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5::numeric)`,
			lines[i].ID, o.ID, lines[i].MenuItemID, lines[i].Quantity, lines[i].UnitPrice.String(),
		); err != nil {
			return fmt.Errorf("insert order item %s: %w", lines[i].MenuItemID, err)
		}
	}
	return tx.Commit(ctx)
}

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrNotFound
	}
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (r *Repo) OwnsCanteen(ctx context.Context, staffID, canteenID string) (bool, error) {
	var owns bool
	err := r.DB.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM canteens WHERE id = $1 AND staff_user_id = $2)`,
		canteenID, staffID).Scan(&owns)
	return owns, err
}

func (r *Repo) CanteenIDsOwnedBy(ctx context.Context, staffID string) ([]string, error) {
	rows, err := r.DB.Query(ctx, `SELECT id::text FROM canteens WHERE staff_user_id = $1`, staffID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// TransitionStatus only updates while the row still has status `from`.
func (r *Repo) TransitionStatus(ctx context.Context, id string, from, to Status, at time.Time) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders o SET status = $3, updated_at = $4, status_changed_at = $4
		WHERE o.id = $1 AND o.status = $2
		RETURNING `+orderColumns,
		id, string(from), string(to), at))
	switch {
	case err == nil:
		return o, nil
	case errors.Is(err, pgx.ErrNoRows):
		if _, gerr := r.GetOrder(ctx, id); gerr != nil {
			return Order{}, gerr
		}
		return Order{}, ErrStaleTransition
	case isCheckViolation(err):
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	default:
		return Order{}, err
	}
}

var anchorColumns = map[Anchor]string{
	AnchorCreated:       "created_at",
	AnchorStatusChanged: "status_changed_at",
}

// PromoteAged moves every order in `from` whose anchor timestamp is before
// cutoff to `to`, in one statement, and returns the promoted rows.
func (r *Repo) PromoteAged(ctx context.Context, from, to Status, anchor Anchor, cutoff, at time.Time) ([]Order, error) {
	col, ok := anchorColumns[anchor]
	if !ok {
		return nil, fmt.Errorf("unknown anchor %q", anchor)
	}
	rows, err := r.DB.Query(ctx, `
		UPDATE orders o SET status = $2, updated_at = $4, status_changed_at = $4
		WHERE o.status = $1 AND o.`+col+` < $3
		RETURNING `+orderColumns,
		string(from), string(to), cutoff, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
		}
		return nil, err
	}
	return out, nil
}

// ListViews loads matching orders with their canteen, then all their lines
// in a single batched query.
func (r *Repo) ListViews(ctx context.Context, f ViewFilter) ([]OrderView, error) {
	var (
		where []string
		args  []any
	)
	if f.OrderID != "" {
		if _, err := uuid.Parse(f.OrderID); err != nil {
			return nil, nil
		}
		args = append(args, f.OrderID)
		where = append(where, fmt.Sprintf("o.id = $%d", len(args)))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("o.customer_id = $%d", len(args)))
	}
	if len(f.CanteenIDs) > 0 {
		args = append(args, f.CanteenIDs)
		where = append(where, fmt.Sprintf("o.canteen_id = ANY($%d::text[]::uuid[])", len(args)))
	}
	q := `SELECT ` + orderColumns + `, c.name, COALESCE(c.location, '')
		FROM orders o JOIN canteens c ON c.id = o.canteen_id`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY o.created_at DESC, o.order_number DESC`

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		views []OrderView
		ids   []string
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			v     OrderView
			total string
			st    string
		)
		if err := rows.Scan(&v.ID, &v.Number, &v.CustomerID, &v.CanteenID, &total, &st, &v.Notes,
			&v.EstimatedPickupAt, &v.CreatedAt, &v.UpdatedAt, &v.StatusChangedAt,
			&v.Canteen.Name, &v.Canteen.Location); err != nil {
			return nil, err
		}
		if v.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parse total of order %s: %w", v.ID, err)
		}
		v.Status = Status(st)
		v.Lines = []LineView{}
		index[v.ID] = len(views)
		ids = append(ids, v.ID)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return views, nil
	}

	lrows, err := r.DB.Query(ctx, `
		SELECT oi.id::text, oi.order_id::text, oi.menu_item_id::text, oi.quantity, oi.unit_price::text,
		       m.name, COALESCE(m.description, '')
		FROM order_items oi JOIN menu_items m ON m.id = oi.menu_item_id
		WHERE oi.order_id = ANY($1::text[]::uuid[])
		ORDER BY oi.order_id, oi.id`, ids)
	if err != nil {
		return nil, err
	}
	defer lrows.Close()
	for lrows.Next() {
		var (
			l     LineView
			price string
		)
		if err := lrows.Scan(&l.ID, &l.OrderID, &l.MenuItemID, &l.Quantity, &price,
			&l.MenuItemName, &l.MenuItemDescription); err != nil {
			return nil, err
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse unit price of line %s: %w", l.ID, err)
		}
		i := index[l.OrderID]
		views[i].Lines = append(views[i].Lines, l)
	}
	return views, lrows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o     Order
		total string
		st    string
	)
	if err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.CanteenID, &total, &st, &o.Notes,
		&o.EstimatedPickupAt, &o.CreatedAt, &o.UpdatedAt, &o.StatusChangedAt); err != nil {
		return Order{}, err
	}
	t, err := decimal.NewFromString(total)
	if err != nil {
		return Order{}, fmt.Errorf("parse total of order %s: %w", o.ID, err)
	}
	o.Total = t
	o.Status = Status(st)
	return o, nil
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation
}
