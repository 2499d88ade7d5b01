package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/carverauto/hostpulse/pkg/models"
)

var errMissingSnapshot = errors.New("telemetry snapshot missing from query context")

// snapshotKey indexes the per-request telemetry holder in the GraphQL root
// object.
const snapshotKey = "snapshot"

// snapshotHolder collects telemetry at most once per request. A query that
// touches several root fields sees one consistent collection pass, and a
// health-only query collects nothing.
type snapshotHolder struct {
	collector *Collector
	once      sync.Once
	telemetry models.Telemetry
}

func (h *snapshotHolder) get(ctx context.Context) models.Telemetry {
	h.once.Do(func() {
		h.telemetry = h.collector.Collect(ctx)
	})

	return h.telemetry
}

func snapshotFrom(p graphql.ResolveParams) (telemetryView, error) {
	root, ok := p.Info.RootValue.(map[string]interface{})
	if !ok {
		return telemetryView{}, errMissingSnapshot
	}

	holder, ok := root[snapshotKey].(*snapshotHolder)
	if !ok {
		return telemetryView{}, errMissingSnapshot
	}

	return newTelemetryView(holder.get(p.Context)), nil
}

// View structs hand the executor float64 counters. The resolver cannot pass
// the uint64 model fields through directly because the Float scalar does not
// coerce them.
type telemetryView struct {
	CPU       cpuView
	Memory    memoryView
	Disks     []diskView
	Network   networkView
	Host      hostView
	Timestamp time.Time
}

type cpuView struct {
	UsagePercent float64
	PerCore      []float64
	CoreCount    int
}

type memoryView struct {
	TotalBytes     float64
	UsedBytes      float64
	AvailableBytes float64
	UsedPercent    float64
}

type diskView struct {
	MountPoint  string
	TotalBytes  float64
	UsedBytes   float64
	FreeBytes   float64
	UsedPercent float64
}

type networkView struct {
	BytesSent        float64
	BytesRecv        float64
	PacketsSent      float64
	PacketsRecv      float64
	UploadSpeedBps   float64
	DownloadSpeedBps float64
}

type hostView struct {
	Hostname        string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	AgentVersion    string
	UptimeSeconds   float64
	BootTime        time.Time
}

func newTelemetryView(t models.Telemetry) telemetryView {
	disks := make([]diskView, 0, len(t.Disks))
	for _, d := range t.Disks {
		disks = append(disks, diskView{
			MountPoint:  d.MountPoint,
			TotalBytes:  float64(d.TotalBytes),
			UsedBytes:   float64(d.UsedBytes),
			FreeBytes:   float64(d.FreeBytes),
			UsedPercent: d.UsedPercent,
		})
	}

	return telemetryView{
		CPU: cpuView{
			UsagePercent: t.CPU.UsagePercent,
			PerCore:      t.CPU.PerCore,
			CoreCount:    t.CPU.CoreCount,
		},
		Memory: memoryView{
			TotalBytes:     float64(t.Memory.TotalBytes),
			UsedBytes:      float64(t.Memory.UsedBytes),
			AvailableBytes: float64(t.Memory.AvailableBytes),
			UsedPercent:    t.Memory.UsedPercent,
		},
		Disks: disks,
		Network: networkView{
			BytesSent:        float64(t.Network.BytesSent),
			BytesRecv:        float64(t.Network.BytesRecv),
			PacketsSent:      float64(t.Network.PacketsSent),
			PacketsRecv:      float64(t.Network.PacketsRecv),
			UploadSpeedBps:   t.Network.UploadSpeedBps,
			DownloadSpeedBps: t.Network.DownloadSpeedBps,
		},
		Host: hostView{
			Hostname:        t.Host.Hostname,
			Platform:        t.Host.Platform,
			PlatformVersion: t.Host.PlatformVersion,
			KernelVersion:   t.Host.KernelVersion,
			AgentVersion:    t.Host.AgentVersion,
			UptimeSeconds:   float64(t.Host.UptimeSeconds),
			BootTime:        t.Host.BootTime,
		},
		Timestamp: t.Timestamp,
	}
}

// healthPayload is the health field's response body, shared with the HTTP
// health endpoint.
type healthPayload struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// newSchema builds the query schema. Byte and packet counters are exposed as
// Float because GraphQL Int is 32-bit.
func newSchema(agentVersion string) (graphql.Schema, error) {
	cpuType := graphql.NewObject(graphql.ObjectConfig{
		Name: "CPU",
		Fields: graphql.Fields{
			"usagePercent": &graphql.Field{Type: graphql.Float},
			"perCore":      &graphql.Field{Type: graphql.NewList(graphql.Float)},
			"coreCount":    &graphql.Field{Type: graphql.Int},
		},
	})

	memoryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Memory",
		Fields: graphql.Fields{
			"totalBytes":     &graphql.Field{Type: graphql.Float},
			"usedBytes":      &graphql.Field{Type: graphql.Float},
			"availableBytes": &graphql.Field{Type: graphql.Float},
			"usedPercent":    &graphql.Field{Type: graphql.Float},
		},
	})

	diskType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Disk",
		Fields: graphql.Fields{
			"mountPoint":  &graphql.Field{Type: graphql.String},
			"totalBytes":  &graphql.Field{Type: graphql.Float},
			"usedBytes":   &graphql.Field{Type: graphql.Float},
			"freeBytes":   &graphql.Field{Type: graphql.Float},
			"usedPercent": &graphql.Field{Type: graphql.Float},
		},
	})

	networkType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Network",
		Fields: graphql.Fields{
			"bytesSent":        &graphql.Field{Type: graphql.Float},
			"bytesRecv":        &graphql.Field{Type: graphql.Float},
			"packetsSent":      &graphql.Field{Type: graphql.Float},
			"packetsRecv":      &graphql.Field{Type: graphql.Float},
			"uploadSpeedBps":   &graphql.Field{Type: graphql.Float},
			"downloadSpeedBps": &graphql.Field{Type: graphql.Float},
		},
	})

	hostType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Host",
		Fields: graphql.Fields{
			"hostname":        &graphql.Field{Type: graphql.String},
			"platform":        &graphql.Field{Type: graphql.String},
			"platformVersion": &graphql.Field{Type: graphql.String},
			"kernelVersion":   &graphql.Field{Type: graphql.String},
			"agentVersion":    &graphql.Field{Type: graphql.String},
			"uptimeSeconds":   &graphql.Field{Type: graphql.Float},
			"bootTime":        &graphql.Field{Type: graphql.DateTime},
		},
	})

	healthType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Health",
		Fields: graphql.Fields{
			"status":  &graphql.Field{Type: graphql.String},
			"version": &graphql.Field{Type: graphql.String},
		},
	})

	telemetryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Telemetry",
		Fields: graphql.Fields{
			"cpu":       &graphql.Field{Type: graphql.NewNonNull(cpuType)},
			"memory":    &graphql.Field{Type: graphql.NewNonNull(memoryType)},
			"disks":     &graphql.Field{Type: graphql.NewList(graphql.NewNonNull(diskType))},
			"network":   &graphql.Field{Type: graphql.NewNonNull(networkType)},
			"host":      &graphql.Field{Type: graphql.NewNonNull(hostType)},
			"timestamp": &graphql.Field{Type: graphql.DateTime},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"telemetry": &graphql.Field{
				Type: graphql.NewNonNull(telemetryType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return snapshotFrom(p)
				},
			},
			"cpu": &graphql.Field{
				Type: graphql.NewNonNull(cpuType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					snap, err := snapshotFrom(p)
					if err != nil {
						return nil, err
					}

					return snap.CPU, nil
				},
			},
			"memory": &graphql.Field{
				Type: graphql.NewNonNull(memoryType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					snap, err := snapshotFrom(p)
					if err != nil {
						return nil, err
					}

					return snap.Memory, nil
				},
			},
			"disks": &graphql.Field{
				Type: graphql.NewList(graphql.NewNonNull(diskType)),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					snap, err := snapshotFrom(p)
					if err != nil {
						return nil, err
					}

					return snap.Disks, nil
				},
			},
			"network": &graphql.Field{
				Type: graphql.NewNonNull(networkType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					snap, err := snapshotFrom(p)
					if err != nil {
						return nil, err
					}

					return snap.Network, nil
				},
			},
			"host": &graphql.Field{
				Type: graphql.NewNonNull(hostType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					snap, err := snapshotFrom(p)
					if err != nil {
						return nil, err
					}

					return snap.Host, nil
				},
			},
			"health": &graphql.Field{
				Type: graphql.NewNonNull(healthType),
				Resolve: func(_ graphql.ResolveParams) (interface{}, error) {
					return healthPayload{Status: "OK", Version: agentVersion}, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
}
