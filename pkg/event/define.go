package event

import (
	"fmt"
	"time"

	"vmcontroller/pkg/errbuf"
)

type StageName string

const (
	Init StageName = "init"
	Run  StageName = "run"
)

// Kind tags the lifecycle event variants.
type Kind int

const (
	KindProgress Kind = iota
	KindComplete
	KindCancelled
	KindRejectedMemory
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "Progress"
	case KindComplete:
		return "Complete"
	case KindCancelled:
		return "Cancelled"
	case KindRejectedMemory:
		return "RejectedMemory"
	case KindFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the kind ends a startup attempt.
func (k Kind) Terminal() bool {
	return k != KindProgress
}

type Event struct {
	// Attempt numbers startup attempts of one controller, starting at 1.
	Attempt uint64    `json:"attempt"`
	Kind    Kind      `json:"-"`
	Stage   StageName `json:"stage"`
	Time    time.Time `json:"time"`

	// Current and Total are only set on progress events.
	Current uint64 `json:"current,omitempty"`
	Total   uint64 `json:"total,omitempty"`

	// Errors is set on failure events and is sealed.
	Errors *errbuf.Buffer `json:"-"`
}

func (e Event) Terminal() bool {
	return e.Kind.Terminal()
}

func (e Event) String() string {
	switch e.Kind {
	case KindProgress:
		return fmt.Sprintf("attempt %d: %s %d/%d", e.Attempt, e.Kind, e.Current, e.Total)
	case KindFailed:
		return fmt.Sprintf("attempt %d: %s: %v", e.Attempt, e.Kind, e.Errors)
	default:
		return fmt.Sprintf("attempt %d: %s", e.Attempt, e.Kind)
	}
}

func Progress(attempt uint64, stage StageName, current, total uint64) Event {
	return Event{Attempt: attempt, Kind: KindProgress, Stage: stage, Time: time.Now(), Current: current, Total: total}
}

func Complete(attempt uint64, stage StageName) Event {
	return Event{Attempt: attempt, Kind: KindComplete, Stage: stage, Time: time.Now()}
}

func Cancelled(attempt uint64, stage StageName) Event {
	return Event{Attempt: attempt, Kind: KindCancelled, Stage: stage, Time: time.Now()}
}

func RejectedMemory(attempt uint64, stage StageName) Event {
	return Event{Attempt: attempt, Kind: KindRejectedMemory, Stage: stage, Time: time.Now()}
}

// Failed seals errs; the caller must not touch it afterwards.
func Failed(attempt uint64, stage StageName, errs *errbuf.Buffer) Event {
	if errs == nil {
		errs = errbuf.New()
	}
	return Event{Attempt: attempt, Kind: KindFailed, Stage: stage, Time: time.Now(), Errors: errs.Seal()}
}
