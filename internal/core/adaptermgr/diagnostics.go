package adaptermgr

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// hostDiagnostics collects a best-effort snapshot of the host the hub runs
// on. Individual probe failures leave their field absent rather than
// failing the block.
func hostDiagnostics() map[string]interface{} {
	diag := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"go_version": runtime.Version(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		diag["cpu_percent"] = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		diag["memory_used_percent"] = vm.UsedPercent
		diag["memory_total_bytes"] = vm.Total
	}

	if uptime, err := host.Uptime(); err == nil {
		diag["host_uptime"] = (time.Duration(uptime) * time.Second).String()
	}

	return diag
}
