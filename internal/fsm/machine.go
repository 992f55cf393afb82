// Package fsm implements the bot state machine. Exactly one state is active
// at any moment and every transition is explicit; strategies are evaluated
// only in the Evaluating state and entries are admitted only from there. The
// machine is the single gate that serializes trade decisions per tick.
package fsm

import (
	"log/slog"
	"sync"
	"time"
)

// State is the bot's lifecycle state.
type State string

const (
	StateIdle       State = "IDLE"
	StateEvaluating State = "EVALUATING"
	StateInPosition State = "IN_POSITION"
	StateCooldown   State = "COOLDOWN"
	StateError      State = "ERROR"
)

// Status is a read-only projection of the machine for logging and the
// control surface.
type Status struct {
	State          State      `json:"state"`
	PreviousState  State      `json:"previous_state,omitempty"`
	StateEnteredAt time.Time  `json:"state_entered_at"`
	OpenPositions  int        `json:"open_positions"`
	MaxPositions   int        `json:"max_positions"`
	CanEvaluate    bool       `json:"can_evaluate"`
	CanEnter       bool       `json:"can_enter"`
	InCooldown     bool       `json:"in_cooldown"`
	CooldownEndsAt *time.Time `json:"cooldown_ends_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ErrorCount     int        `json:"error_count"`
}

// Machine enforces deterministic bot behavior: at most one evaluation at a
// time, entries only out of an evaluation, and a cooldown after the last
// position closes.
type Machine struct {
	mu sync.Mutex

	state          State
	previous       State
	stateEnteredAt time.Time

	openPositions int
	maxPositions  int

	cooldown        time.Duration
	cooldownEndsAt  time.Time
	cooldownRunning bool

	errMessage string
	errCount   int

	logger *slog.Logger
	now    func() time.Time
}

// New builds a Machine starting in Idle.
func New(maxPositions int, cooldown time.Duration, logger *slog.Logger) *Machine {
	m := &Machine{
		state:          StateIdle,
		stateEnteredAt: time.Now().UTC(),
		maxPositions:   maxPositions,
		cooldown:       cooldown,
		logger:         logger.With(slog.String("component", "fsm")),
		now:            time.Now,
	}
	m.logger.Info("state machine initialized", slog.String("state", string(m.state)))
	return m
}

// State returns the current state. A Cooldown whose timer has expired is
// reported as Cooldown until the next StartEvaluation observes the expiry.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanEvaluate reports whether a new evaluation may begin. An expired cooldown
// transitions back to Idle as a side effect of the check.
func (m *Machine) CanEvaluate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canEvaluateLocked()
}

func (m *Machine) canEvaluateLocked() bool {
	if m.state == StateCooldown {
		if m.cooldownExpiredLocked() {
			m.transitionLocked(StateIdle)
			return m.openPositions < m.maxPositions
		}
		return false
	}
	if m.openPositions >= m.maxPositions {
		return false
	}
	return m.state == StateIdle
}

// CanEnter reports whether a position entry is admissible right now.
func (m *Machine) CanEnter() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canEnterLocked()
}

func (m *Machine) canEnterLocked() bool {
	return m.state == StateEvaluating && m.openPositions < m.maxPositions
}

// StartEvaluation transitions Idle -> Evaluating. Returns false when the
// machine is in cooldown, at the position cap, or not Idle.
func (m *Machine) StartEvaluation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canEvaluateLocked() {
		m.logger.Debug("evaluation not admissible",
			slog.String("state", string(m.state)),
			slog.Int("positions", m.openPositions),
			slog.Int("max_positions", m.maxPositions),
		)
		return false
	}
	m.transitionLocked(StateEvaluating)
	return true
}

// CancelEvaluation returns Evaluating -> Idle when no entry was made.
func (m *Machine) CancelEvaluation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateEvaluating {
		return false
	}
	m.transitionLocked(StateIdle)
	return true
}

// EnterPosition records a successful entry. At the position cap the machine
// moves to InPosition, otherwise back to Idle so further symbols can be
// evaluated next tick.
func (m *Machine) EnterPosition(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canEnterLocked() {
		m.logger.Warn("entry not admissible",
			slog.String("symbol", symbol),
			slog.String("state", string(m.state)),
		)
		return false
	}
	m.openPositions++
	m.logger.Info("position entered",
		slog.String("symbol", symbol),
		slog.Int("positions", m.openPositions),
	)
	if m.openPositions >= m.maxPositions {
		m.transitionLocked(StateInPosition)
	} else {
		m.transitionLocked(StateIdle)
	}
	return true
}

// ExitPosition records a position close. When the last position closes and
// forceCooldown is set, the machine enters Cooldown for the configured
// duration; otherwise it returns to Idle.
func (m *Machine) ExitPosition(symbol string, forceCooldown bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openPositions > 0 {
		m.openPositions--
	}
	m.logger.Info("position exited",
		slog.String("symbol", symbol),
		slog.Int("positions", m.openPositions),
	)
	if m.openPositions == 0 && forceCooldown {
		m.startCooldownLocked()
	} else if m.openPositions < m.maxPositions {
		m.transitionLocked(StateIdle)
	}
}

// SyncPositionCount reconciles the machine's position count with the ledger,
// for the case where fills arrive asynchronously. Transitions follow the
// count: zero leaves InPosition, reaching the cap enters it.
func (m *Machine) SyncPositionCount(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if count == m.openPositions {
		return
	}
	m.logger.Debug("position count synced",
		slog.Int("from", m.openPositions),
		slog.Int("to", count),
	)
	m.openPositions = count
	if count == 0 && m.state == StateInPosition {
		m.transitionLocked(StateIdle)
	} else if count >= m.maxPositions && m.state != StateInPosition {
		m.transitionLocked(StateInPosition)
	}
}

// Fail moves the machine to Error. Only ClearError leaves it.
func (m *Machine) Fail(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errMessage = message
	m.errCount++
	m.logger.Error("state machine error", slog.String("error", message))
	m.transitionLocked(StateError)
}

// ClearError returns Error -> Idle.
func (m *Machine) ClearError() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateError {
		return false
	}
	m.errMessage = ""
	m.transitionLocked(StateIdle)
	m.logger.Info("error cleared")
	return true
}

// Status returns a consistent snapshot of the machine.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:          m.state,
		PreviousState:  m.previous,
		StateEnteredAt: m.stateEnteredAt,
		OpenPositions:  m.openPositions,
		MaxPositions:   m.maxPositions,
		CanEnter:       m.canEnterLocked(),
		InCooldown:     m.state == StateCooldown,
		ErrorMessage:   m.errMessage,
		ErrorCount:     m.errCount,
	}
	// Report admissibility without mutating out of an expired cooldown.
	switch {
	case m.state == StateCooldown:
		st.CanEvaluate = m.cooldownExpiredLocked()
	case m.openPositions >= m.maxPositions:
		st.CanEvaluate = false
	default:
		st.CanEvaluate = m.state == StateIdle
	}
	if m.cooldownRunning {
		t := m.cooldownEndsAt
		st.CooldownEndsAt = &t
	}
	return st
}

func (m *Machine) transitionLocked(next State) {
	if next == m.state {
		return
	}
	m.previous = m.state
	m.state = next
	m.stateEnteredAt = m.now().UTC()
	if next != StateCooldown {
		m.cooldownRunning = false
	}
	m.logger.Info("state transition",
		slog.String("from", string(m.previous)),
		slog.String("to", string(next)),
	)
}

func (m *Machine) startCooldownLocked() {
	m.cooldownEndsAt = m.now().UTC().Add(m.cooldown)
	m.transitionLocked(StateCooldown)
	m.cooldownRunning = true
	m.logger.Info("cooldown started", slog.Time("ends_at", m.cooldownEndsAt))
}

func (m *Machine) cooldownExpiredLocked() bool {
	if !m.cooldownRunning {
		return true
	}
	return !m.now().UTC().Before(m.cooldownEndsAt)
}
