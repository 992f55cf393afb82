package domain

import (
	"context"
	"time"
)

// DesiredState is the operator's requested bot state, read each tick.
type DesiredState string

const (
	DesiredRunning DesiredState = "running"
	DesiredPaused  DesiredState = "paused"
	DesiredStopped DesiredState = "stopped"
)

// ControlSurface is the external control contract: the loop reads the desired
// state and reports its actual state plus a heartbeat for observability. The
// surface itself (dashboard, CLI) lives outside the core.
type ControlSurface interface {
	DesiredState(ctx context.Context) (DesiredState, error)
	ReportActual(ctx context.Context, state string, heartbeat time.Time) error
}
