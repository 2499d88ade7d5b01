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

package models

import "time"

// Telemetry is the full payload an agent reports for one collection pass.
type Telemetry struct {
	CPU       CPUStats     `json:"cpu"`
	Memory    MemoryStats  `json:"memory"`
	Disks     []DiskStats  `json:"disks"`
	Network   NetworkStats `json:"network"`
	Host      HostStats    `json:"host"`
	Timestamp time.Time    `json:"timestamp"`
}

type CPUStats struct {
	UsagePercent float64   `json:"usage_percent"`
	PerCore      []float64 `json:"per_core,omitempty"`
	CoreCount    int       `json:"core_count"`
}

type MemoryStats struct {
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

type DiskStats struct {
	MountPoint  string  `json:"mount_point"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// NetworkStats carries interface-wide counters plus transfer speeds derived
// from the delta between two successive collections. Speeds are zero on the
// first collection after startup.
type NetworkStats struct {
	BytesSent        uint64  `json:"bytes_sent"`
	BytesRecv        uint64  `json:"bytes_recv"`
	PacketsSent      uint64  `json:"packets_sent"`
	PacketsRecv      uint64  `json:"packets_recv"`
	UploadSpeedBps   float64 `json:"upload_speed_bps"`
	DownloadSpeedBps float64 `json:"download_speed_bps"`
}

// HostStats holds slow-changing host facts. Collectors cache these after the
// first read.
type HostStats struct {
	Hostname        string    `json:"hostname"`
	Platform        string    `json:"platform"`
	PlatformVersion string    `json:"platform_version"`
	KernelVersion   string    `json:"kernel_version"`
	AgentVersion    string    `json:"agent_version"`
	UptimeSeconds   uint64    `json:"uptime_seconds"`
	BootTime        time.Time `json:"boot_time"`
}
