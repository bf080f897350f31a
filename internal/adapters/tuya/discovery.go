package tuya

import (
	"context"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/luminode/devicehub-go/internal/core/devices"
)

const (
	mdnsService    = "_tuya._tcp"
	mdnsDomain     = "local."
	mdnsBrowseTime = 5 * time.Second
)

// discoverLocal browses the LAN for Tuya devices announcing over mDNS.
// Best-effort: any failure returns what was found so far.
func (a *Adapter) discoverLocal(ctx context.Context) []devices.DeviceDiscovery {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		a.logger.WithError(err).Debug("mDNS resolver unavailable, skipping local discovery")
		return nil
	}

	browseCtx, cancel := context.WithTimeout(ctx, mdnsBrowseTime)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(browseCtx, mdnsService, mdnsDomain, entries); err != nil {
		a.logger.WithError(err).Debug("mDNS browse failed")
		return nil
	}

	var found []devices.DeviceDiscovery
	for entry := range entries {
		if entry == nil || entry.Instance == "" {
			continue
		}
		address := ""
		if len(entry.AddrIPv4) > 0 {
			address = entry.AddrIPv4[0].String()
		}
		found = append(found, devices.DeviceDiscovery{
			DeviceID: entry.Instance,
			Protocol: devices.ProtocolTuya,
			Name:     entry.Instance,
			Type:     devices.DeviceTypePlug,
			Address:  address,
		})
	}

	if len(found) > 0 {
		a.logger.WithField("devices", len(found)).Debug("mDNS discovery found local devices")
	}
	return found
}
