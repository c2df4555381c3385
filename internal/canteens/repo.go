package canteens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

const canteenColumns = `id::text, name, COALESCE(description, ''), location, COALESCE(opening_hours, ''),
	COALESCE(image_url, ''), is_approved, staff_user_id, created_at`

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func (r *Repo) Create(ctx context.Context, c *Canteen) error {
	c.ID = uuid.NewString()
	_, err := r.DB.Exec(ctx, `
		INSERT INTO canteens(id, name, description, location, opening_hours, image_url, is_approved, staff_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8)`,
		c.ID, c.Name, c.Description, c.Location, c.OpeningHours, c.ImageURL, c.StaffUserID, c.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrAlreadyRegistered
	}
	return err
}

func (r *Repo) Approve(ctx context.Context, id string) (Canteen, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Canteen{}, ErrNotFound
	}
	return scanCanteen(r.DB.QueryRow(ctx,
		`UPDATE canteens SET is_approved = true WHERE id = $1 RETURNING `+canteenColumns, id))
}

func (r *Repo) List(ctx context.Context, approvedOnly bool) ([]Canteen, error) {
	q := `SELECT ` + canteenColumns + ` FROM canteens`
	if approvedOnly {
		q += ` WHERE is_approved`
	}
	q += ` ORDER BY name`
	rows, err := r.DB.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Canteen{}
	for rows.Next() {
		c, err := scanCanteen(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id string) (Canteen, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Canteen{}, ErrNotFound
	}
	return scanCanteen(r.DB.QueryRow(ctx, `SELECT `+canteenColumns+` FROM canteens WHERE id = $1`, id))
}

func (r *Repo) OwnedBy(ctx context.Context, staffID string) (Canteen, error) {
	return scanCanteen(r.DB.QueryRow(ctx, `SELECT `+canteenColumns+` FROM canteens WHERE staff_user_id = $1`, staffID))
}

const menuColumns = `id::text, canteen_id::text, name, COALESCE(description, ''), price::text,
	COALESCE(image_url, ''), is_available`

func (r *Repo) Menu(ctx context.Context, canteenID string) ([]MenuItem, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT `+menuColumns+` FROM menu_items WHERE canteen_id = $1 ORDER BY name`, canteenID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MenuItem{}
	for rows.Next() {
		it, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) MenuItem(ctx context.Context, id string) (MenuItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return MenuItem{}, ErrItemNotFound
	}
	it, err := scanMenuItem(r.DB.QueryRow(ctx, `SELECT `+menuColumns+` FROM menu_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return MenuItem{}, ErrItemNotFound
	}
	return it, err
}

func (r *Repo) CreateMenuItem(ctx context.Context, it *MenuItem) error {
	it.ID = uuid.NewString()
	_, err := r.DB.Exec(ctx, `
		INSERT INTO menu_items(id, canteen_id, name, description, price, image_url, is_available)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`,
		it.ID, it.CanteenID, it.Name, it.Description, it.Price.String(), it.ImageURL, it.Available)
	return err
}

func (r *Repo) UpdateMenuItem(ctx context.Context, it MenuItem) (MenuItem, error) {
	if _, err := uuid.Parse(it.ID); err != nil {
		return MenuItem{}, ErrItemNotFound
	}
	got, err := scanMenuItem(r.DB.QueryRow(ctx, `
		UPDATE menu_items
		SET name = $2, description = $3, price = $4::numeric, image_url = $5, is_available = $6
		WHERE id = $1
		RETURNING `+menuColumns,
		it.ID, it.Name, it.Description, it.Price.String(), it.ImageURL, it.Available))
	if errors.Is(err, pgx.ErrNoRows) {
		return MenuItem{}, ErrItemNotFound
	}
	return got, err
}

func (r *Repo) SetAvailability(ctx context.Context, id string, available bool) (MenuItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return MenuItem{}, ErrItemNotFound
	}
	it, err := scanMenuItem(r.DB.QueryRow(ctx,
		`UPDATE menu_items SET is_available = $2 WHERE id = $1 RETURNING `+menuColumns, id, available))
	if errors.Is(err, pgx.ErrNoRows) {
		return MenuItem{}, ErrItemNotFound
	}
	return it, err
}

func (r *Repo) DeleteMenuItem(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrItemNotFound
	}
	tag, err := r.DB.Exec(ctx, `DELETE FROM menu_items WHERE id = $1`, id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return ErrItemInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Stats counts in one round trip. Revenue only includes completed orders.
func (r *Repo) Stats(ctx context.Context, dayStart time.Time) (Stats, error) {
	var (
		s       Stats
		revenue string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT
			(SELECT count(DISTINCT customer_id) FROM orders),
			(SELECT count(*) FROM canteens),
			(SELECT count(*) FROM canteens WHERE NOT is_approved),
			(SELECT count(*) FROM orders),
			(SELECT count(*) FROM orders WHERE created_at >= $1),
			(SELECT COALESCE(sum(total_amount), 0)::text FROM orders WHERE status = 'completed')`,
		dayStart,
	).Scan(&s.Customers, &s.Canteens, &s.PendingApprovals, &s.Orders, &s.TodayOrders, &revenue)
	if err != nil {
		return Stats{}, err
	}
	if s.Revenue, err = decimal.NewFromString(revenue); err != nil {
		return Stats{}, fmt.Errorf("parse revenue: %w", err)
	}
	return s, nil
}

func scanCanteen(row pgx.Row) (Canteen, error) {
	var c Canteen
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Location, &c.OpeningHours,
		&c.ImageURL, &c.Approved, &c.StaffUserID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Canteen{}, ErrNotFound
	}
	return c, err
}

func scanMenuItem(row pgx.Row) (MenuItem, error) {
	var (
		it    MenuItem
		price string
	)
	if err := row.Scan(&it.ID, &it.CanteenID, &it.Name, &it.Description, &price, &it.ImageURL, &it.Available); err != nil {
		return MenuItem{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return MenuItem{}, fmt.Errorf("parse price of item %s: %w", it.ID, err)
	}
	it.Price = p
	return it, nil
}
