package app

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/dkeye/Dialogue/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Envelope is the wire shape of every outbound event.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func Encode(event string, payload any) (core.Frame, error) {
	b, err := json.Marshal(Envelope{Type: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return b, nil
}

// TargetStats counts per-session delivery outcomes for one user.
type TargetStats struct {
	Attempted int
	Delivered int
	Failed    int
	// DeliveredTo lists sessions whose queue accepted the frame.
	DeliveredTo []core.SessionID
	Errors      []error
}

type DeliveryReport struct {
	Event   string
	Targets map[domain.UserID]*TargetStats
}

func (r DeliveryReport) stats(uid domain.UserID) *TargetStats {
	if s, ok := r.Targets[uid]; ok {
		return s
	}
	return &TargetStats{}
}

// Offline reports that uid had no live session to try.
func (r DeliveryReport) Offline(uid domain.UserID) bool { return r.stats(uid).Attempted == 0 }

// Failed reports that uid had sessions but none accepted the event.
func (r DeliveryReport) Failed(uid domain.UserID) bool {
	s := r.stats(uid)
	return s.Attempted > 0 && s.Delivered == 0
}

func (r DeliveryReport) DeliveredTo(uid domain.UserID) []core.SessionID {
	return r.stats(uid).DeliveredTo
}

func (r DeliveryReport) Totals() (attempted, delivered, failed int) {
	for _, s := range r.Targets {
		attempted += s.Attempted
		delivered += s.Delivered
		failed += s.Failed
	}
	return
}

// Dispatcher fans events out to every live session of the target users.
// Sessions are resolved under the registry lock; sends happen after it is
// released. A failed session never stops delivery to the others.
type Dispatcher struct {
	Registry *Registry
	Policy   Policy
	Metrics  *metrics.Metrics
}

func NewDispatcher(reg *Registry, policy Policy, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{Registry: reg, Policy: policy, Metrics: m}
}

func (d *Dispatcher) Deliver(targets []domain.UserID, event string, payload any) DeliveryReport {
	report := DeliveryReport{Event: event, Targets: make(map[domain.UserID]*TargetStats, len(targets))}
	uids := dedupe(targets)
	for _, uid := range uids {
		report.Targets[uid] = &TargetStats{}
	}
	frame, err := Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.dispatcher").Msg("encode event")
		return report
	}

	resolved := d.Registry.SessionsForMany(uids)
	for _, uid := range uids {
		d.sendAll(report.Targets[uid], resolved[uid], event, frame)
	}
	d.record(report)
	return report
}

// DeliverSessions sends to the listed sessions that are still live. The
// report is keyed by each session's owner.
func (d *Dispatcher) DeliverSessions(sids []core.SessionID, event string, payload any) DeliveryReport {
	report := DeliveryReport{Event: event, Targets: make(map[domain.UserID]*TargetStats)}
	frame, err := Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.dispatcher").Msg("encode event")
		return report
	}
	byOwner := make(map[domain.UserID][]core.SessionSnap)
	var order []domain.UserID
	for _, snap := range d.Registry.Lookup(sids) {
		if _, ok := byOwner[snap.Owner]; !ok {
			order = append(order, snap.Owner)
		}
		byOwner[snap.Owner] = append(byOwner[snap.Owner], snap)
	}
	for _, uid := range order {
		st := &TargetStats{}
		report.Targets[uid] = st
		d.sendAll(st, byOwner[uid], event, frame)
	}
	d.record(report)
	return report
}

func (d *Dispatcher) sendAll(st *TargetStats, snaps []core.SessionSnap, event string, frame core.Frame) {
	for _, snap := range snaps {
		st.Attempted++
		if err := snap.Conn.TrySend(frame); err != nil {
			st.Failed++
			st.Errors = append(st.Errors, fmt.Errorf("session %s: %w", snap.SID, err))
			d.onFailure(snap, event, err)
			continue
		}
		st.Delivered++
		st.DeliveredTo = append(st.DeliveredTo, snap.SID)
	}
}

func (d *Dispatcher) onFailure(snap core.SessionSnap, event string, err error) {
	log.Warn().Err(err).Str("module", "app.dispatcher").Str("sid", string(snap.SID)).
		Str("user", string(snap.Owner)).Str("event", event).Msg("delivery failed")
	if d.Policy == nil {
		return
	}
	switch d.Policy.OnDeliveryFailure(snap, err) {
	case KickSession:
		log.Warn().Str("module", "app.dispatcher").Str("sid", string(snap.SID)).Msg("kicking slow session")
		// The read loop observes the close and runs the lifecycle release.
		snap.Conn.Close()
	case NoAction:
	}
}

func (d *Dispatcher) record(r DeliveryReport) {
	_, ok, failed := r.Totals()
	d.Metrics.Delivered(r.Event, ok, failed)
	log.Debug().Str("module", "app.dispatcher").Str("event", r.Event).Int("targets", len(r.Targets)).
		Int("delivered", ok).Int("failed", failed).Msg("delivery result")
}

func dedupe(uids []domain.UserID) []domain.UserID {
	seen := make(map[domain.UserID]struct{}, len(uids))
	out := make([]domain.UserID, 0, len(uids))
	for _, uid := range uids {
		if _, ok := seen[uid]; ok || uid == "" {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	return out
}
