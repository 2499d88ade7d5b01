package poller

import (
	"fmt"
	"strings"
	"time"

	"github.com/carverauto/hostpulse/pkg/models"
)

// sampleSet accumulates samples sharing one source and collection time.
type sampleSet struct {
	source  string
	at      time.Time
	samples []models.MetricSample
}

func (s *sampleSet) add(name string, value float64, unit string) {
	s.samples = append(s.samples, models.MetricSample{
		Source:      s.source,
		MetricName:  name,
		Value:       value,
		Unit:        unit,
		CollectedAt: s.at,
	})
}

// flattenTelemetry turns a nested telemetry payload into flat samples. The
// source is the hostname the agent reported, falling back to the configured
// agent ID; the collection time is the agent's timestamp, falling back to now.
func flattenTelemetry(agentID string, t *telemetryPayload, now time.Time) []models.MetricSample {
	source := agentID
	if t.Host != nil && t.Host.Hostname != "" {
		source = t.Host.Hostname
	}

	at := t.Timestamp
	if at.IsZero() {
		at = now
	}

	set := &sampleSet{source: source, at: at}

	if t.CPU != nil {
		set.add("cpu.usage_percent", t.CPU.UsagePercent, models.UnitPercent)
		set.add("cpu.core_count", float64(t.CPU.CoreCount), models.UnitCount)
	}

	if t.Memory != nil {
		set.add("memory.total_bytes", t.Memory.TotalBytes, models.UnitBytes)
		set.add("memory.used_bytes", t.Memory.UsedBytes, models.UnitBytes)
		set.add("memory.available_bytes", t.Memory.AvailableBytes, models.UnitBytes)
		set.add("memory.used_percent", t.Memory.UsedPercent, models.UnitPercent)
	}

	for i := range t.Disks {
		d := &t.Disks[i]

		set.add(diskMetric(d.MountPoint, "total_bytes"), d.TotalBytes, models.UnitBytes)
		set.add(diskMetric(d.MountPoint, "used_bytes"), d.UsedBytes, models.UnitBytes)
		set.add(diskMetric(d.MountPoint, "free_bytes"), d.FreeBytes, models.UnitBytes)
		set.add(diskMetric(d.MountPoint, "used_percent"), d.UsedPercent, models.UnitPercent)
	}

	if t.Network != nil {
		set.add("network.bytes_sent", t.Network.BytesSent, models.UnitBytes)
		set.add("network.bytes_recv", t.Network.BytesRecv, models.UnitBytes)
		set.add("network.packets_sent", t.Network.PacketsSent, models.UnitCount)
		set.add("network.packets_recv", t.Network.PacketsRecv, models.UnitCount)
		set.add("network.upload_speed_bps", t.Network.UploadSpeedBps, models.UnitBytesPerSecond)
		set.add("network.download_speed_bps", t.Network.DownloadSpeedBps, models.UnitBytesPerSecond)
	}

	if t.Host != nil {
		set.add("host.uptime_seconds", t.Host.UptimeSeconds, models.UnitSeconds)
	}

	return set.samples
}

// flattenHealth reduces a health payload to a single gauge: 1 when the agent
// reports OK, 0 otherwise.
func flattenHealth(agentID string, h *healthStatusPayload, now time.Time) []models.MetricSample {
	value := 0.0
	if strings.EqualFold(h.Status, "OK") {
		value = 1
	}

	return []models.MetricSample{{
		Source:      agentID,
		MetricName:  "agent.healthy",
		Value:       value,
		Unit:        models.UnitCount,
		CollectedAt: now,
	}}
}

// diskMetric keys one disk field by its mount point, "disk./data.used_bytes".
func diskMetric(mount, field string) string {
	return fmt.Sprintf("disk.%s.%s", mount, field)
}
