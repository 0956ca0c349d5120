package model

import "time"

// Status is the activity state of a ticker record.
//
// Inactive is terminal: once a ticker is confirmed delisted nothing moves it
// back. PendingObservation means delisting evidence was inconclusive and the
// ticker must be re-checked on the next reconciliation pass.
type Status string

const (
	StatusActive             Status = "active"
	StatusPendingObservation Status = "pending"
	StatusInactive           Status = "inactive"
)

// CanTransition reports whether moving from s to next is a legal status
// transition. Inactive never leaves; PendingObservation may resolve either
// way; Active may be demoted to PendingObservation or confirmed Inactive.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusInactive:
		return false
	case StatusActive:
		return next == StatusPendingObservation || next == StatusInactive
	case StatusPendingObservation:
		return next == StatusActive || next == StatusInactive
	}
	return false
}

// Security types as reported by the reference feed.
const (
	TypeCommonStock = "CS"
	TypeWarrant     = "WARRANT"
	TypePreferred   = "PFD"
	TypeSubPref     = "SP"
	TypeRight       = "RIGHT"
	TypeFund        = "FUND"
	TypeIndex       = "INDEX"
	TypeUnit        = "UNIT"
)

// BackfillExcluded reports whether a security type is recorded but never
// bar-backfilled on IPO discovery.
func BackfillExcluded(secType string) bool {
	switch secType {
	case TypeFund, TypeIndex, TypePreferred, TypeRight, TypeSubPref, TypeUnit, TypeWarrant:
		return true
	}
	return false
}

// Ticker is one known security. Rows are created on IPO discovery and never
// physically deleted; only Status and Exchange mutate afterwards.
type Ticker struct {
	Symbol         string // canonical identifier, storage key
	Name           string
	Type           string // security type from the reference feed
	Exchange       string // primary listing venue (MIC)
	Status         Status
	LastReconciled time.Time
}
