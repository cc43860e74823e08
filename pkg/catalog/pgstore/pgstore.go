// Package pgstore persists the product catalog and completed orders in
// PostgreSQL. It backs the catalog service; the session core never talks to
// the database directly.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/darkwings/voicecart/pkg/catalog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store wraps the catalog database.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productCols = `id, title, description, ingredients, sku, price, weight, width, proteins, mob_img`

func scanProduct(row interface{ Scan(...any) error }) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Ingredients, &p.SKU,
		&p.Price, &p.Weight, &p.Width, &p.Proteins, &p.MobImg)
	return p, err
}

func scanProducts(rows *sql.Rows) ([]catalog.Product, error) {
	defer rows.Close()
	products := []catalog.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListProducts returns the full catalog in menu order.
func (s *Store) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM products ORDER BY id`, productCols))
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return scanProducts(rows)
}

// GetBySKUs returns the products matching the given SKUs. Unknown SKUs are
// silently absent from the result.
func (s *Store) GetBySKUs(ctx context.Context, skus []string) ([]catalog.Product, error) {
	if len(skus) == 0 {
		return []catalog.Product{}, nil
	}
	placeholders := make([]string, len(skus))
	args := make([]any, len(skus))
	for i, sku := range skus {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = sku
	}
	query := fmt.Sprintf(`SELECT %s FROM products WHERE sku IN (%s) ORDER BY id`,
		productCols, strings.Join(placeholders, ", "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup products by sku: %w", err)
	}
	return scanProducts(rows)
}

// UpsertProduct inserts or refreshes one catalog entry, keyed by SKU.
func (s *Store) UpsertProduct(ctx context.Context, p catalog.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (title, description, ingredients, sku, price, weight, width, proteins, mob_img)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sku) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			ingredients = EXCLUDED.ingredients,
			price = EXCLUDED.price,
			weight = EXCLUDED.weight,
			width = EXCLUDED.width,
			proteins = EXCLUDED.proteins,
			mob_img = EXCLUDED.mob_img`,
		p.Title, p.Description, p.Ingredients, p.SKU, p.Price, p.Weight, p.Width, p.Proteins, p.MobImg)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.SKU, err)
	}
	return nil
}

// Order is one completed purchase recorded by the catalog service.
type Order struct {
	ID              int64
	PaymentIntentID string
	Total           float64
	Currency        string
	Status          string
	CreatedAt       time.Time
	Items           []OrderItem
}

// OrderItem is one line of an order, priced at purchase time.
type OrderItem struct {
	SKU       string
	Quantity  int
	UnitPrice float64
}

// CreateOrder records an order and its lines in one transaction and fills
// in the assigned ID.
func (s *Store) CreateOrder(ctx context.Context, order *Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin order tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (payment_intent_id, total, currency, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		order.PaymentIntentID, order.Total, order.Currency, order.Status,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, sku, quantity, unit_price)
			VALUES ($1, $2, $3, $4)`,
			order.ID, item.SKU, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order item %s: %w", item.SKU, err)
		}
	}
	return tx.Commit()
}

// GetOrder loads one order with its lines.
func (s *Store) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var order Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, payment_intent_id, total, currency, status, created_at
		FROM orders WHERE id = $1`, id,
	).Scan(&order.ID, &order.PaymentIntentID, &order.Total, &order.Currency, &order.Status, &order.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get order %d items: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.SKU, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	return &order, rows.Err()
}

// UpdateOrderStatus moves an order through its payment lifecycle.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE orders SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update order %d status: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
