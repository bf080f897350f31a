package integration

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/core/adaptermgr"
	"github.com/luminode/devicehub-go/internal/core/devices"
	"github.com/luminode/devicehub-go/pkg/errors"
)

// DeviceRepository is the device lookup/ownership collaborator
type DeviceRepository interface {
	GetByID(ctx context.Context, deviceID string) (*devices.DeviceIdentity, error)
	ListByOwner(ctx context.Context, ownerID string) ([]devices.DeviceIdentity, error)
	Upsert(ctx context.Context, identity devices.DeviceIdentity) error
	Delete(ctx context.Context, deviceID string) error
}

// AdapterRouter is the slice of the adapter manager the service consumes
type AdapterRouter interface {
	SendDeviceCommand(ctx context.Context, protocol devices.ProtocolType, deviceID, command string, params map[string]interface{}) (*devices.CommandResult, error)
	GetDeviceStatus(ctx context.Context, protocol devices.ProtocolType, deviceID string) (*devices.DeviceStatusUpdate, error)
	TestDeviceConnection(ctx context.Context, protocol devices.ProtocolType, deviceID string) (bool, error)
	DiscoverDevices(ctx context.Context, protocol devices.ProtocolType, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error)
	GetDiagnostics(ctx context.Context) map[string]interface{}
	Events() <-chan adaptermgr.ManagerEvent
}

// Service resolves device identity and ownership, applies status-read
// caching, and is the sole caller of the adapter manager on behalf of
// authenticated requests.
type Service struct {
	repo   DeviceRepository
	router AdapterRouter
	cache  *statusCache
	logger *logrus.Logger
}

// NewService creates the device integration service
func NewService(repo DeviceRepository, router AdapterRouter, statusTTL time.Duration, logger *logrus.Logger) *Service {
	return &Service{
		repo:   repo,
		router: router,
		cache:  newStatusCache(statusTTL),
		logger: logger,
	}
}

// Events exposes the manager's event stream to the realtime bridge
func (s *Service) Events() <-chan adaptermgr.ManagerEvent {
	return s.router.Events()
}

// ResolveOwnership returns the device identity when the principal owns the
// device. Admins may address any device.
func (s *Service) ResolveOwnership(ctx context.Context, deviceID string, principal *devices.Principal) (*devices.DeviceIdentity, error) {
	if principal == nil {
		return nil, errors.WithDetails(errors.ErrUnauthorized, "no principal")
	}

	identity, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if identity.OwnerID != principal.UserID && principal.Role != "admin" {
		return nil, errors.WithDetails(errors.ErrForbidden, "device belongs to another user")
	}
	return identity, nil
}

// ListDevices returns the devices registered to the principal
func (s *Service) ListDevices(ctx context.Context, principal *devices.Principal) ([]devices.DeviceIdentity, error) {
	if principal == nil {
		return nil, errors.WithDetails(errors.ErrUnauthorized, "no principal")
	}
	return s.repo.ListByOwner(ctx, principal.UserID)
}

// GetDeviceStatus returns the current status of a device the principal
// owns, served from cache unless the entry expired or a refresh is forced.
func (s *Service) GetDeviceStatus(ctx context.Context, principal *devices.Principal, deviceID string, forceRefresh bool) (*devices.DeviceStatusUpdate, error) {
	identity, err := s.ResolveOwnership(ctx, deviceID, principal)
	if err != nil {
		return nil, err
	}

	if !forceRefresh {
		if cached, ok := s.cache.get(deviceID); ok {
			return cached, nil
		}
	}

	update, err := s.router.GetDeviceStatus(ctx, identity.Protocol, deviceID)
	if err != nil {
		return nil, err
	}
	s.cache.set(update)
	return update, nil
}

// SendCommand routes a command to the owning adapter. A successful command
// that reports new device state replaces the cached status so subsequent
// reads see the post-command state.
func (s *Service) SendCommand(ctx context.Context, principal *devices.Principal, deviceID, command string, params map[string]interface{}) (*devices.CommandResult, error) {
	identity, err := s.ResolveOwnership(ctx, deviceID, principal)
	if err != nil {
		return nil, err
	}

	result, err := s.router.SendDeviceCommand(ctx, identity.Protocol, deviceID, command, params)
	if err != nil {
		return nil, err
	}

	if result.Success {
		if len(result.Data) > 0 {
			s.cache.set(&devices.DeviceStatusUpdate{
				DeviceID:  deviceID,
				Status:    devices.StatusOnline,
				State:     result.Data,
				Timestamp: time.Now().UTC(),
				Source:    devices.SourceManual,
			})
		} else {
			s.cache.invalidate(deviceID)
		}
	}

	return result, nil
}

// DeleteDevice removes the registration of a device the principal owns.
// The adapter is not touched; the device just stops being addressable.
func (s *Service) DeleteDevice(ctx context.Context, principal *devices.Principal, deviceID string) error {
	if _, err := s.ResolveOwnership(ctx, deviceID, principal); err != nil {
		return err
	}
	s.cache.invalidate(deviceID)
	return s.repo.Delete(ctx, deviceID)
}

// TestDeviceConnection probes reachability of a device the principal owns
func (s *Service) TestDeviceConnection(ctx context.Context, principal *devices.Principal, deviceID string) (bool, error) {
	identity, err := s.ResolveOwnership(ctx, deviceID, principal)
	if err != nil {
		return false, err
	}
	return s.router.TestDeviceConnection(ctx, identity.Protocol, deviceID)
}

// DiscoverDevices runs discovery and registers newly found devices to the
// requesting principal. Existing registrations keep their owner.
func (s *Service) DiscoverDevices(ctx context.Context, principal *devices.Principal, protocol devices.ProtocolType, filters devices.DiscoveryFilters) ([]devices.DeviceDiscovery, error) {
	if principal == nil {
		return nil, errors.WithDetails(errors.ErrUnauthorized, "no principal")
	}

	found, err := s.router.DiscoverDevices(ctx, protocol, filters)
	if err != nil {
		return nil, err
	}

	for _, d := range found {
		identity := devices.DeviceIdentity{
			DeviceID: d.DeviceID,
			Protocol: d.Protocol,
			OwnerID:  principal.UserID,
			Name:     d.Name,
			Type:     d.Type,
		}
		if err := s.repo.Upsert(ctx, identity); err != nil {
			s.logger.WithError(err).WithField("device_id", d.DeviceID).Warn("Failed to persist discovered device")
		}
	}

	return found, nil
}

// GetDeviceDiagnostics returns the adapter diagnostics block for the
// protocol of a device the principal owns.
func (s *Service) GetDeviceDiagnostics(ctx context.Context, principal *devices.Principal, deviceID string) (map[string]interface{}, error) {
	identity, err := s.ResolveOwnership(ctx, deviceID, principal)
	if err != nil {
		return nil, err
	}

	diag := s.router.GetDiagnostics(ctx)
	adapters, _ := diag["adapters"].(map[string]interface{})
	block, ok := adapters[string(identity.Protocol)].(map[string]interface{})
	if !ok {
		return nil, errors.NotFound("no diagnostics for protocol '%s'", identity.Protocol)
	}
	block["device_id"] = deviceID
	block["protocol"] = string(identity.Protocol)
	return block, nil
}

// GetDiagnostics returns the full aggregate diagnostics map
func (s *Service) GetDiagnostics(ctx context.Context) map[string]interface{} {
	return s.router.GetDiagnostics(ctx)
}
