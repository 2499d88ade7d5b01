package poller

import "errors"

var (
	errNilConfig        = errors.New("config cannot be nil")
	errNoTargets        = errors.New("no poll targets configured")
	errNilSink          = errors.New("task sink cannot be nil")
	errNilWriter        = errors.New("writer cannot be nil")
	errUnknownQuery     = errors.New("unknown named query")
	errUnknownAgent     = errors.New("task names an unregistered agent")
	errAgentNotReady    = errors.New("agent health probe failed")
	errUnexpectedStatus = errors.New("unexpected response status")
	errExecutionFailed  = errors.New("query execution failed")
	errMissingData      = errors.New("response carried no telemetry data")
)
