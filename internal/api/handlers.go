package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/luminode/devicehub-go/internal/core/devices"
	"github.com/luminode/devicehub-go/internal/core/integration"
	"github.com/luminode/devicehub-go/pkg/errors"
	"github.com/luminode/devicehub-go/pkg/utils"
)

// Handlers serves the REST surface over the device integration service
type Handlers struct {
	service *integration.Service
	logger  *logrus.Logger
}

func NewHandlers(service *integration.Service, logger *logrus.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

func (h *Handlers) sendAppError(c *gin.Context, err error) {
	status := errors.GetStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	utils.SendError(c, status, err.Error())
}

// ListDevices returns devices owned by the caller
func (h *Handlers) ListDevices(c *gin.Context) {
	principal := PrincipalFromContext(c)

	list, err := h.service.ListDevices(c.Request.Context(), principal)
	if err != nil {
		h.sendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"devices": list, "count": len(list)})
}

// GetDeviceStatus reads the current state of one device
func (h *Handlers) GetDeviceStatus(c *gin.Context) {
	principal := PrincipalFromContext(c)
	deviceID := c.Param("id")
	forceRefresh := c.Query("refresh") == "true"

	update, err := h.service.GetDeviceStatus(c.Request.Context(), principal, deviceID, forceRefresh)
	if err != nil {
		h.sendAppError(c, err)
		return
	}
	utils.SendSuccess(c, update)
}

type commandRequest struct {
	Command    string                 `json:"command" binding:"required"`
	Parameters map[string]interface{} `json:"parameters"`
}

// SendCommand executes one command against one device
func (h *Handlers) SendCommand(c *gin.Context) {
	principal := PrincipalFromContext(c)
	deviceID := c.Param("id")

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "invalid command payload: "+err.Error())
		return
	}

	result, err := h.service.SendCommand(c.Request.Context(), principal, deviceID, req.Command, req.Parameters)
	if err != nil {
		h.sendAppError(c, err)
		return
	}
	utils.SendSuccess(c, result)
}

// DeleteDevice removes one device registration
func (h *Handlers) DeleteDevice(c *gin.Context) {
	principal := PrincipalFromContext(c)
	deviceID := c.Param("id")

	if err := h.service.DeleteDevice(c.Request.Context(), principal, deviceID); err != nil {
		h.sendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"device_id": deviceID, "deleted": true})
}

// TestConnection probes reachability of one device
func (h *Handlers) TestConnection(c *gin.Context) {
	principal := PrincipalFromContext(c)
	deviceID := c.Param("id")

	reachable, err := h.service.TestDeviceConnection(c.Request.Context(), principal, deviceID)
	if err != nil {
		h.sendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"device_id": deviceID, "reachable": reachable})
}

type discoverRequest struct {
	Protocol   string `json:"protocol"`
	DeviceType string `json:"device_type"`
	Capability string `json:"capability"`
}

// DiscoverDevices scans one protocol, or all connected protocols when
// none is given, and persists what it finds for the caller.
func (h *Handlers) DiscoverDevices(c *gin.Context) {
	principal := PrincipalFromContext(c)

	var req discoverRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		utils.SendError(c, http.StatusBadRequest, "invalid discovery payload: "+err.Error())
		return
	}

	found, err := h.service.DiscoverDevices(c.Request.Context(), principal,
		devices.ProtocolType(req.Protocol),
		devices.DiscoveryFilters{DeviceType: req.DeviceType, Capability: req.Capability})
	if err != nil {
		h.sendAppError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"devices": found, "count": len(found)})
}

// GetDeviceDiagnostics returns adapter diagnostics for one device
func (h *Handlers) GetDeviceDiagnostics(c *gin.Context) {
	principal := PrincipalFromContext(c)
	deviceID := c.Param("id")

	diag, err := h.service.GetDeviceDiagnostics(c.Request.Context(), principal, deviceID)
	if err != nil {
		h.sendAppError(c, err)
		return
	}
	utils.SendSuccess(c, diag)
}

// GetDiagnostics returns the aggregate diagnostics across adapters
func (h *Handlers) GetDiagnostics(c *gin.Context) {
	utils.SendSuccess(c, h.service.GetDiagnostics(c.Request.Context()))
}
