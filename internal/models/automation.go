package models

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal automation transition")

type AutomationStatus string

const (
	AutomationIdle    AutomationStatus = "IDLE"
	AutomationRunning AutomationStatus = "RUNNING"
)

type AutomationEvent string

const (
	EventStart     AutomationEvent = "start"
	EventStop      AutomationEvent = "stop"
	EventExhausted AutomationEvent = "exhausted"
	EventFailed    AutomationEvent = "failed"
	EventDeleted   AutomationEvent = "deleted"
)

type transitionKey struct {
	from  AutomationStatus
	event AutomationEvent
}

// automationTransitions is the complete set of legal moves. Anything missing
// is rejected, including start on an already running workflow.
var automationTransitions = map[transitionKey]AutomationStatus{
	{AutomationIdle, EventStart}:        AutomationRunning,
	{AutomationRunning, EventStop}:      AutomationIdle,
	{AutomationRunning, EventExhausted}: AutomationIdle,
	{AutomationRunning, EventFailed}:    AutomationIdle,
	{AutomationRunning, EventDeleted}:   AutomationIdle,
	{AutomationIdle, EventDeleted}:      AutomationIdle,
}

// NextAutomationStatus returns the state reached by applying event in from.
func NextAutomationStatus(from AutomationStatus, event AutomationEvent) (AutomationStatus, error) {
	to, ok := automationTransitions[transitionKey{from, event}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, from)
	}
	return to, nil
}

func (s AutomationStatus) Valid() bool {
	return s == AutomationIdle || s == AutomationRunning
}
