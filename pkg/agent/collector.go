/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package agent serves system telemetry over GraphQL plus a health probe.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

const defaultSampleInterval = 250 * time.Millisecond

// Collector gathers one telemetry payload per call. A failed subsystem read
// degrades that section to zeroes instead of failing the whole collection.
type Collector struct {
	log            logger.Logger
	version        string
	identity       string
	sampleInterval time.Duration

	cpuPercent     func(context.Context, time.Duration, bool) ([]float64, error)
	cpuCounts      func(context.Context, bool) (int, error)
	virtualMemory  func(context.Context) (*mem.VirtualMemoryStat, error)
	diskPartitions func(context.Context, bool) ([]disk.PartitionStat, error)
	diskUsage      func(context.Context, string) (*disk.UsageStat, error)
	netCounters    func(context.Context, bool) ([]net.IOCountersStat, error)
	hostInfo       func(context.Context) (*host.InfoStat, error)
	now            func() time.Time

	mu        sync.Mutex
	hostFacts *models.HostStats
	prevNet   *netSample
}

// netSample remembers the counters from the previous collection so transfer
// speeds can be derived from the delta.
type netSample struct {
	bytesSent uint64
	bytesRecv uint64
	at        time.Time
}

// NewCollector builds a collector reading live system stats. identity, when
// non-empty, overrides the reported hostname.
func NewCollector(version, identity string, log logger.Logger) *Collector {
	return &Collector{
		log:            log,
		version:        version,
		identity:       identity,
		sampleInterval: defaultSampleInterval,
		cpuPercent:     cpu.PercentWithContext,
		cpuCounts:      cpu.CountsWithContext,
		virtualMemory:  mem.VirtualMemoryWithContext,
		diskPartitions: disk.PartitionsWithContext,
		diskUsage:      disk.UsageWithContext,
		netCounters:    net.IOCountersWithContext,
		hostInfo:       host.InfoWithContext,
		now:            time.Now,
	}
}

// Collect gathers a full telemetry payload. It never fails; sections whose
// reads error are reported as zeroes with a warning.
func (c *Collector) Collect(ctx context.Context) models.Telemetry {
	return models.Telemetry{
		CPU:       c.collectCPU(ctx),
		Memory:    c.collectMemory(ctx),
		Disks:     c.collectDisks(ctx),
		Network:   c.collectNetwork(ctx),
		Host:      c.collectHost(ctx),
		Timestamp: c.now().UTC(),
	}
}

// Hostname returns the identity the agent reports for itself.
func (c *Collector) Hostname(ctx context.Context) string {
	return c.collectHost(ctx).Hostname
}

func (c *Collector) collectCPU(ctx context.Context) models.CPUStats {
	var stats models.CPUStats

	perCore, err := c.cpuPercent(ctx, c.sampleInterval, true)
	if err != nil {
		c.log.Warn().Err(err).Msg("cpu collection failed; reporting zeroes")
		return stats
	}

	stats.PerCore = perCore
	stats.CoreCount = len(perCore)

	if count, err := c.cpuCounts(ctx, true); err == nil && count > 0 {
		stats.CoreCount = count
	}

	if len(perCore) > 0 {
		var total float64
		for _, usage := range perCore {
			total += usage
		}

		stats.UsagePercent = total / float64(len(perCore))
	}

	return stats
}

func (c *Collector) collectMemory(ctx context.Context) models.MemoryStats {
	vmStats, err := c.virtualMemory(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("memory collection failed; reporting zeroes")
		return models.MemoryStats{}
	}

	return models.MemoryStats{
		TotalBytes:     vmStats.Total,
		UsedBytes:      vmStats.Used,
		AvailableBytes: vmStats.Available,
		UsedPercent:    vmStats.UsedPercent,
	}
}

func (c *Collector) collectDisks(ctx context.Context) []models.DiskStats {
	partitions, err := c.diskPartitions(ctx, false)
	if err != nil {
		c.log.Warn().Err(err).Msg("disk partition listing failed; reporting no disks")
		return nil
	}

	disks := make([]models.DiskStats, 0, len(partitions))
	seen := make(map[string]struct{}, len(partitions))

	for _, part := range partitions {
		if _, ok := seen[part.Mountpoint]; ok {
			continue
		}

		seen[part.Mountpoint] = struct{}{}

		usage, err := c.diskUsage(ctx, part.Mountpoint)
		if err != nil {
			c.log.Debug().Err(err).Str("mount_point", part.Mountpoint).Msg("disk usage read failed")
			continue
		}

		disks = append(disks, models.DiskStats{
			MountPoint:  part.Mountpoint,
			TotalBytes:  usage.Total,
			UsedBytes:   usage.Used,
			FreeBytes:   usage.Free,
			UsedPercent: usage.UsedPercent,
		})
	}

	return disks
}

func (c *Collector) collectNetwork(ctx context.Context) models.NetworkStats {
	counters, err := c.netCounters(ctx, false)
	if err != nil {
		c.log.Warn().Err(err).Msg("network collection failed; reporting zeroes")
		return models.NetworkStats{}
	}

	if len(counters) == 0 {
		return models.NetworkStats{}
	}

	total := counters[0]
	stats := models.NetworkStats{
		BytesSent:   total.BytesSent,
		BytesRecv:   total.BytesRecv,
		PacketsSent: total.PacketsSent,
		PacketsRecv: total.PacketsRecv,
	}

	sampledAt := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Speeds come from the delta against the previous collection, so the
	// first collection after startup reports zero.
	if c.prevNet != nil {
		elapsed := sampledAt.Sub(c.prevNet.at).Seconds()
		if elapsed > 0 {
			stats.UploadSpeedBps = counterRate(total.BytesSent, c.prevNet.bytesSent, elapsed)
			stats.DownloadSpeedBps = counterRate(total.BytesRecv, c.prevNet.bytesRecv, elapsed)
		}
	}

	c.prevNet = &netSample{
		bytesSent: total.BytesSent,
		bytesRecv: total.BytesRecv,
		at:        sampledAt,
	}

	return stats
}

func (c *Collector) collectHost(ctx context.Context) models.HostStats {
	c.mu.Lock()
	cached := c.hostFacts
	c.mu.Unlock()

	if cached == nil {
		info, err := c.hostInfo(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("host info collection failed; reporting zeroes")

			return models.HostStats{
				Hostname:     c.identity,
				AgentVersion: c.version,
			}
		}

		facts := &models.HostStats{
			Hostname:        info.Hostname,
			Platform:        info.Platform,
			PlatformVersion: info.PlatformVersion,
			KernelVersion:   info.KernelVersion,
			BootTime:        time.Unix(int64(info.BootTime), 0).UTC(),
		}

		if c.identity != "" {
			facts.Hostname = c.identity
		}

		c.mu.Lock()
		c.hostFacts = facts
		c.mu.Unlock()

		cached = facts
	}

	stats := *cached
	stats.AgentVersion = c.version

	if !stats.BootTime.IsZero() {
		if up := c.now().Sub(stats.BootTime); up > 0 {
			stats.UptimeSeconds = uint64(up.Seconds())
		}
	}

	return stats
}

// counterRate converts a counter delta into a per-second rate, treating a
// counter reset as zero rather than a negative rate.
func counterRate(current, previous uint64, elapsedSeconds float64) float64 {
	if current < previous {
		return 0
	}

	return float64(current-previous) / elapsedSeconds
}
