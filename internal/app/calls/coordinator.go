// Package calls relays call offers and their outcome between two users.
package calls

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Dialogue/internal/app"
	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/dkeye/Dialogue/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrStaleSignal    = errors.New("call already finished or unknown")
	ErrNotParticipant = errors.New("user is not a party to this call")
	ErrSelfCall       = errors.New("cannot call yourself")
)

const DefaultTimeout = 30 * time.Second

// Reasons carried in call-closed notices sent to callee sessions.
const (
	ReasonAnsweredElsewhere = "answered_elsewhere"
	ReasonDeclinedElsewhere = "declined_elsewhere"
	ReasonTimeout           = "timeout"
)

// Deliverer is the slice of app.Dispatcher the coordinator needs.
type Deliverer interface {
	Deliver(targets []domain.UserID, event string, payload any) app.DeliveryReport
	DeliverSessions(sids []core.SessionID, event string, payload any) app.DeliveryReport
}

// Notice is the payload of every call-* event.
type Notice struct {
	CallID domain.CallID `json:"callId"`
	From   domain.UserID `json:"from"`
	To     domain.UserID `json:"to"`
	Media  string        `json:"media,omitempty"`
	SDP    string        `json:"sdp,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

type callSession struct {
	id         domain.CallID
	caller     domain.UserID
	callerSID  core.SessionID
	callee     domain.UserID
	media      string
	state      domain.CallState
	offeredTo  []core.SessionID
	answeredBy core.SessionID
	timer      *time.Timer
}

func (cs *callSession) notice() Notice {
	return Notice{CallID: cs.id, From: cs.caller, To: cs.callee, Media: cs.media}
}

// Coordinator owns every in-flight CallSession. Transitions happen under mu;
// deliveries happen after mu is released. A record leaves the maps at the
// moment it reaches a terminal state, so a late timer or signal finds nothing.
type Coordinator struct {
	mu       sync.Mutex
	calls    map[domain.CallID]*callSession
	byCaller map[core.SessionID]map[domain.CallID]struct{}

	out     Deliverer
	timeout time.Duration
	metrics *metrics.Metrics
	newID   func() domain.CallID
}

func NewCoordinator(out Deliverer, timeout time.Duration, m *metrics.Metrics) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		calls:    make(map[domain.CallID]*callSession),
		byCaller: make(map[core.SessionID]map[domain.CallID]struct{}),
		out:      out,
		timeout:  timeout,
		metrics:  m,
		newID:    func() domain.CallID { return domain.CallID(uuid.NewString()) },
	}
}

// Offer starts a call from callerSID and rings every session of callee.
// When no callee session accepts the offer the call ends immediately as
// CallUnreachable and the caller is told so.
func (c *Coordinator) Offer(callerSID core.SessionID, caller, callee domain.UserID, sdp, media string) (domain.CallID, domain.CallState, error) {
	if caller == callee {
		return "", domain.CallUnreachable, ErrSelfCall
	}
	cs := &callSession{
		id:        c.newID(),
		caller:    caller,
		callerSID: callerSID,
		callee:    callee,
		media:     media,
		state:     domain.CallOfferSent,
	}
	logger := log.With().Str("module", "app.calls").Str("call", string(cs.id)).Logger()

	c.mu.Lock()
	c.calls[cs.id] = cs
	set, ok := c.byCaller[callerSID]
	if !ok {
		set = make(map[domain.CallID]struct{})
		c.byCaller[callerSID] = set
	}
	set[cs.id] = struct{}{}
	c.mu.Unlock()

	offer := cs.notice()
	offer.SDP = sdp
	report := c.out.Deliver([]domain.UserID{callee}, core.EvCallOffer, offer)
	delivered := report.DeliveredTo(callee)

	c.mu.Lock()
	if cs.state.Terminal() {
		// Finished while the offer was in flight; the transition could not
		// know which callee sessions were rung.
		st := cs.state
		c.mu.Unlock()
		c.calleeFollowUp(cs, st, delivered)
		return cs.id, st, nil
	}
	if len(delivered) == 0 {
		c.finishLocked(cs, domain.CallUnreachable)
		c.mu.Unlock()
		logger.Info().Str("callee", string(callee)).Bool("offline", report.Offline(callee)).Msg("callee unreachable")
		c.out.Deliver([]domain.UserID{caller}, core.EvCallUnreachable, cs.notice())
		return cs.id, domain.CallUnreachable, nil
	}
	cs.offeredTo = delivered
	cs.timer = time.AfterFunc(c.timeout, func() { c.expire(cs) })
	c.mu.Unlock()

	logger.Info().Str("caller", string(caller)).Str("callee", string(callee)).
		Int("rung", len(delivered)).Msg("offer sent")
	return cs.id, domain.CallOfferSent, nil
}

// Answer completes the call. The first answer wins; later ones return
// ErrStaleSignal.
func (c *Coordinator) Answer(calleeSID core.SessionID, callee domain.UserID, id domain.CallID, sdp string) error {
	cs, others, err := c.settle(id, callee, calleeSID, domain.CallAnswered)
	if err != nil {
		return err
	}
	n := cs.notice()
	n.SDP = sdp
	c.out.Deliver([]domain.UserID{cs.caller}, core.EvCallAnswer, n)
	c.closeOthers(cs, others, ReasonAnsweredElsewhere)
	return nil
}

func (c *Coordinator) Decline(calleeSID core.SessionID, callee domain.UserID, id domain.CallID, reason string) error {
	cs, others, err := c.settle(id, callee, calleeSID, domain.CallRejected)
	if err != nil {
		return err
	}
	n := cs.notice()
	n.Reason = reason
	c.out.Deliver([]domain.UserID{cs.caller}, core.EvCallRejected, n)
	c.closeOthers(cs, others, ReasonDeclinedElsewhere)
	return nil
}

// Hangup cancels an unanswered call on the caller's request.
func (c *Coordinator) Hangup(caller domain.UserID, id domain.CallID) error {
	c.mu.Lock()
	cs, ok := c.calls[id]
	if !ok {
		c.mu.Unlock()
		return ErrStaleSignal
	}
	if cs.caller != caller {
		c.mu.Unlock()
		return ErrNotParticipant
	}
	c.finishLocked(cs, domain.CallCancelled)
	offered := cs.offeredTo
	c.mu.Unlock()

	c.out.DeliverSessions(offered, core.EvCallCancelled, cs.notice())
	return nil
}

// CallerDisconnected cancels every pending call started from sid.
func (c *Coordinator) CallerDisconnected(sid core.SessionID) {
	c.mu.Lock()
	var cancelled []*callSession
	for id := range c.byCaller[sid] {
		cs := c.calls[id]
		c.finishLocked(cs, domain.CallCancelled)
		cancelled = append(cancelled, cs)
	}
	offered := make([][]core.SessionID, len(cancelled))
	for i, cs := range cancelled {
		offered[i] = cs.offeredTo
	}
	c.mu.Unlock()

	for i, cs := range cancelled {
		log.Info().Str("module", "app.calls").Str("call", string(cs.id)).Msg("caller disconnected, call cancelled")
		c.out.DeliverSessions(offered[i], core.EvCallCancelled, cs.notice())
	}
}

func (c *Coordinator) settle(id domain.CallID, callee domain.UserID, sid core.SessionID, st domain.CallState) (*callSession, []core.SessionID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.calls[id]
	if !ok {
		log.Debug().Str("module", "app.calls").Str("call", string(id)).Str("state", st.String()).Msg("stale signal ignored")
		return nil, nil, ErrStaleSignal
	}
	if cs.callee != callee {
		return nil, nil, ErrNotParticipant
	}
	cs.answeredBy = sid
	c.finishLocked(cs, st)
	return cs, without(cs.offeredTo, sid), nil
}

func (c *Coordinator) expire(cs *callSession) {
	c.mu.Lock()
	if cur, ok := c.calls[cs.id]; !ok || cur != cs {
		c.mu.Unlock()
		return
	}
	c.finishLocked(cs, domain.CallTimedOut)
	offered := cs.offeredTo
	c.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call", string(cs.id)).Msg("call timed out")
	c.out.Deliver([]domain.UserID{cs.caller}, core.EvCallTimeout, cs.notice())
	c.closeOthers(cs, offered, ReasonTimeout)
}

// finishLocked moves cs to a terminal state and destroys its record.
func (c *Coordinator) finishLocked(cs *callSession, st domain.CallState) {
	cs.state = st
	if cs.timer != nil {
		cs.timer.Stop()
	}
	delete(c.calls, cs.id)
	if set, ok := c.byCaller[cs.callerSID]; ok {
		delete(set, cs.id)
		if len(set) == 0 {
			delete(c.byCaller, cs.callerSID)
		}
	}
	c.metrics.CallFinished(st.String())
	log.Info().Str("module", "app.calls").Str("call", string(cs.id)).Str("state", st.String()).Msg("call finished")
}

func (c *Coordinator) calleeFollowUp(cs *callSession, st domain.CallState, rung []core.SessionID) {
	switch st {
	case domain.CallCancelled:
		c.out.DeliverSessions(rung, core.EvCallCancelled, cs.notice())
	case domain.CallAnswered:
		c.closeOthers(cs, without(rung, cs.answeredBy), ReasonAnsweredElsewhere)
	case domain.CallRejected:
		c.closeOthers(cs, without(rung, cs.answeredBy), ReasonDeclinedElsewhere)
	}
}

func (c *Coordinator) closeOthers(cs *callSession, sids []core.SessionID, reason string) {
	if len(sids) == 0 {
		return
	}
	n := cs.notice()
	n.Reason = reason
	c.out.DeliverSessions(sids, core.EvCallClosed, n)
}

// Pending returns the number of calls waiting for an outcome.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Close stops every pending timer without notifying anyone. Used on shutdown.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cs := range c.calls {
		if cs.timer != nil {
			cs.timer.Stop()
		}
		delete(c.calls, id)
	}
	c.byCaller = make(map[core.SessionID]map[domain.CallID]struct{})
}

func without(sids []core.SessionID, drop core.SessionID) []core.SessionID {
	out := make([]core.SessionID, 0, len(sids))
	for _, s := range sids {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}
