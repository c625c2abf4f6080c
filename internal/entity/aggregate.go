package entity

import "fmt"

// SyncPhase tracks where a locally shown value stands relative to the server.
type SyncPhase int

const (
	// SyncConfirmed means the value was read from, or accepted by, the server.
	SyncConfirmed SyncPhase = iota
	// SyncPending means an optimistic value is shown while a request is in flight.
	SyncPending
	// SyncRolledBack means the last optimistic change failed and was reverted.
	SyncRolledBack
)

func (p SyncPhase) String() string {
	switch p {
	case SyncConfirmed:
		return "confirmed"
	case SyncPending:
		return "pending"
	case SyncRolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("SyncPhase(%d)", int(p))
}

// SyncState is attached to every mutable entity the client shows.
type SyncState struct {
	Phase SyncPhase
	Err   error // set when Phase is SyncRolledBack
}

func Confirmed() SyncState           { return SyncState{Phase: SyncConfirmed} }
func Pending() SyncState             { return SyncState{Phase: SyncPending} }
func RolledBack(err error) SyncState { return SyncState{Phase: SyncRolledBack, Err: err} }

// Outcome reports what a reducer did with an event.
type Outcome int

const (
	Applied Outcome = iota
	Duplicate
	Stale
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	case Ignored:
		return "ignored"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}
