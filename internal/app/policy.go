package app

import (
	"errors"

	"github.com/dkeye/Dialogue/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickSession
)

// Policy decides what happens to a session whose delivery failed.
type Policy interface {
	OnDeliveryFailure(snap core.SessionSnap, err error) BackpressureAction
}

// SimplePolicy kicks sessions whose send queue is full. A client that cannot
// drain its queue would otherwise silently miss call signals.
type SimplePolicy struct{}

func (SimplePolicy) OnDeliveryFailure(_ core.SessionSnap, err error) BackpressureAction {
	if errors.Is(err, core.ErrBackpressure) {
		return KickSession
	}
	return NoAction
}
