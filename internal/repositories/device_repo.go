package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/fleetgate/internal/database"
	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// DeviceRepository handles company and device data access
type DeviceRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{db: db, pool: db.Pool}
}

const deviceColumns = `id, company_id, name, location, hardware_id, mac_addresses, fingerprint_hash,
		       secret_hash, registered_from_ip, risk_score, risk_level, flagged_for_review, created_at`

func scanDeviceRow(row rowScanner) (*models.Device, error) {
	var d models.Device
	var macs []string

	err := row.Scan(
		&d.ID, &d.CompanyID, &d.Name, &d.Location, &d.HardwareID, pq.Array(&macs), &d.FingerprintHash,
		&d.SecretHash, &d.RegisteredFromIP, &d.RiskScore, &d.RiskLevel, &d.FlaggedForReview, &d.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	d.MACAddresses = macs

	return &d, nil
}

// GetCompanyByRegistrationKey looks up the tenant owning a registration key.
func (r *DeviceRepository) GetCompanyByRegistrationKey(ctx context.Context, registrationKey string) (*models.Company, error) {
	query := `
		SELECT id, name, registration_key, registration_key_expires_at
		FROM companies WHERE registration_key = $1
	`

	var c models.Company
	err := r.pool.QueryRow(ctx, query, registrationKey).Scan(
		&c.ID, &c.Name, &c.RegistrationKey, &c.RegistrationKeyExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &c, nil
}

// DeviceNameExists reports whether companyID already has a device called name, ignoring case.
func (r *DeviceRepository) DeviceNameExists(ctx context.Context, companyID, name string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM devices WHERE company_id = $1 AND LOWER(name) = LOWER($2))`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, companyID, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check device name: %w", database.MapPostgresError(err))
	}

	return exists, nil
}

// CreateDevice inserts a device. Devices flagged for review are queued in the
// same transaction. A name clash within the company returns ErrDuplicateDeviceName.
func (r *DeviceRepository) CreateDevice(ctx context.Context, device *models.Device) (*models.Device, error) {
	insert := `
		INSERT INTO devices (
			company_id, name, location, hardware_id, mac_addresses, fingerprint_hash,
			secret_hash, registered_from_ip, risk_score, risk_level, flagged_for_review
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + deviceColumns

	queue := `
		INSERT INTO device_reviews (device_id, risk_score, risk_level)
		VALUES ($1, $2, $3)
	`

	macs := device.MACAddresses
	if macs == nil {
		macs = []string{}
	}

	var created *models.Device
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = scanDeviceRow(tx.QueryRow(ctx, insert,
			device.CompanyID, device.Name, device.Location, device.HardwareID, pq.Array(macs), device.FingerprintHash,
			device.SecretHash, device.RegisteredFromIP, device.RiskScore, device.RiskLevel, device.FlaggedForReview,
		))
		if err != nil {
			return err
		}

		if created.FlaggedForReview {
			if _, err := tx.Exec(ctx, queue, created.ID, created.RiskScore, created.RiskLevel); err != nil {
				return database.MapPostgresError(err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrDuplicateDeviceName
		}
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	return created, nil
}

// GetByID retrieves a device.
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`

	return scanDeviceRow(r.pool.QueryRow(ctx, query, id))
}

// CountDevices counts registered devices across all companies.
func (r *DeviceRepository) CountDevices(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM devices`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", database.MapPostgresError(err))
	}
	return n, nil
}

// CountPendingReviews counts flagged devices awaiting moderation.
func (r *DeviceRepository) CountPendingReviews(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM device_reviews WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending reviews: %w", database.MapPostgresError(err))
	}
	return n, nil
}
