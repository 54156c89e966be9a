package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ev-commerce/internal/apperr"
	"ev-commerce/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsUniqueViolation reports whether err is a postgres unique-constraint
// violation. Used to detect idempotency and duplicate-booking races.
func IsUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// GetVehicleByID retrieves a vehicle by ID.
func (s *Store) GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	err := s.db.GetContext(ctx, &vehicle, "SELECT * FROM vehicles WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("vehicle", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

// GetVehicleStock reads the raw stock field. Reservations are advisory and
// deliberately not subtracted here.
func (s *Store) GetVehicleStock(ctx context.Context, vehicleID int64) (int, error) {
	var stock int
	err := s.db.GetContext(ctx, &stock,
		"SELECT stock_quantity FROM vehicles WHERE id = $1", vehicleID)
	if err == sql.ErrNoRows {
		return 0, apperr.NotFound("vehicle", fmt.Sprintf("%d", vehicleID))
	}
	return stock, err
}

// DecrementStockIfAvailable atomically decrements stock only when enough
// remains. This is the sole mutation path for the stock counter; returns
// false when stock was insufficient.
func (s *Store) DecrementStockIfAvailable(ctx context.Context, vehicleID int64, quantity int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE vehicles SET stock_quantity = stock_quantity - $1, updated_at = NOW() WHERE id = $2 AND stock_quantity >= $1",
		quantity, vehicleID)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// RestoreStock increments stock, used when a paid order is cancelled.
func (s *Store) RestoreStock(ctx context.Context, vehicleID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE vehicles SET stock_quantity = stock_quantity + $1, updated_at = NOW() WHERE id = $2",
		quantity, vehicleID)
	return err
}

// CreateNotification persists a delivered notification.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (user_id, title, message, type, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, n, query,
		n.UserID, n.Title, n.Message, n.Type, n.Payload)
}
