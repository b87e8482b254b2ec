package crawl

import (
	"coursedump/pkg/checkpoint"
	"coursedump/pkg/models"
	"coursedump/pkg/policy"
	"coursedump/pkg/storage"
)

// SkipReason says why an entry was not dispatched
type SkipReason string

const (
	SkipResume      SkipReason = "resume"
	SkipStartIndex  SkipReason = "start-index"
	SkipScope       SkipReason = "scope"
	SkipUnknownKind SkipReason = "unknown-kind"
)

// WriteEvent is emitted for every file persisted
type WriteEvent struct {
	Node     models.Node
	Position checkpoint.Position
	Written  storage.Written
}

// SkipEvent is emitted for every entry that was not dispatched
type SkipEvent struct {
	Node     models.Node
	Position checkpoint.Position
	Reason   SkipReason
}

// FailureEvent is emitted after the failure policy decided
type FailureEvent struct {
	Node     models.Node
	Position checkpoint.Position
	Err      error
	Decision policy.Decision
}

// Observer receives traversal events. Calls come from the traversal
// goroutine only.
type Observer interface {
	OnWrite(WriteEvent)
	OnSkip(SkipEvent)
	OnFailure(FailureEvent)
}

// Observers fans events out to several observers
type Observers []Observer

func (o Observers) OnWrite(e WriteEvent) {
	for _, obs := range o {
		obs.OnWrite(e)
	}
}

func (o Observers) OnSkip(e SkipEvent) {
	for _, obs := range o {
		obs.OnSkip(e)
	}
}

func (o Observers) OnFailure(e FailureEvent) {
	for _, obs := range o {
		obs.OnFailure(e)
	}
}
