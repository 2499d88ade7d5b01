package poller

import (
	"fmt"

	"github.com/carverauto/hostpulse/pkg/models"
)

// Named query documents sent to agents. The basic shape covers CPU, memory,
// and host identity; extended adds disks and network; health touches no
// collectors at all.
const (
	basicTelemetryDocument = `query GetBasicTelemetry {
  telemetry {
    cpu {
      usagePercent
      coreCount
    }
    memory {
      totalBytes
      usedBytes
      availableBytes
      usedPercent
    }
    host {
      hostname
      uptimeSeconds
    }
    timestamp
  }
}`

	extendedTelemetryDocument = `query GetExtendedTelemetry {
  telemetry {
    cpu {
      usagePercent
      coreCount
    }
    memory {
      totalBytes
      usedBytes
      availableBytes
      usedPercent
    }
    disks {
      mountPoint
      totalBytes
      usedBytes
      freeBytes
      usedPercent
    }
    network {
      bytesSent
      bytesRecv
      packetsSent
      packetsRecv
      uploadSpeedBps
      downloadSpeedBps
    }
    host {
      hostname
      uptimeSeconds
    }
    timestamp
  }
}`

	healthCheckDocument = `query GetAgentHealth {
  health {
    status
    version
  }
}`
)

// queryDocument resolves a named query shape to its GraphQL document.
func queryDocument(name string) (string, error) {
	switch name {
	case models.QueryBasic:
		return basicTelemetryDocument, nil
	case models.QueryExtended:
		return extendedTelemetryDocument, nil
	case models.QueryHealth:
		return healthCheckDocument, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownQuery, name)
	}
}
