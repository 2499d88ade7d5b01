package gate

//go:generate mockgen -destination=mock_gate.go -package=gate github.com/carverauto/hostpulse/pkg/gate Clock,Ticker

import "time"

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}
