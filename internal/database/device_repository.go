package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/luminode/devicehub-go/internal/core/devices"
	"github.com/luminode/devicehub-go/pkg/errors"
)

// DeviceRepository persists device identities and ownership
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository creates a device repository
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// GetByID returns the identity for a device
func (r *DeviceRepository) GetByID(ctx context.Context, deviceID string) (*devices.DeviceIdentity, error) {
	var identity devices.DeviceIdentity
	err := r.db.GetContext(ctx, &identity,
		`SELECT device_id, protocol, owner_id, name, type FROM devices WHERE device_id = ?`, deviceID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("device '%s' not registered", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device %s: %w", deviceID, err)
	}
	return &identity, nil
}

// ListByOwner returns all devices registered to a user
func (r *DeviceRepository) ListByOwner(ctx context.Context, ownerID string) ([]devices.DeviceIdentity, error) {
	identities := []devices.DeviceIdentity{}
	err := r.db.SelectContext(ctx, &identities,
		`SELECT device_id, protocol, owner_id, name, type FROM devices WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices for owner %s: %w", ownerID, err)
	}
	return identities, nil
}

// Upsert inserts or refreshes a device row. Ownership is preserved on
// conflict so a re-discovery never reassigns a device.
func (r *DeviceRepository) Upsert(ctx context.Context, identity devices.DeviceIdentity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (device_id, protocol, owner_id, name, type)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
		   protocol = excluded.protocol,
		   name = excluded.name,
		   type = excluded.type,
		   updated_at = CURRENT_TIMESTAMP`,
		identity.DeviceID, identity.Protocol, identity.OwnerID, identity.Name, identity.Type)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", identity.DeviceID, err)
	}
	return nil
}

// Delete removes a device row
func (r *DeviceRepository) Delete(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete device %s: %w", deviceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("device '%s' not registered", deviceID)
	}
	return nil
}
