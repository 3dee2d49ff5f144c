package orch

import (
	"github.com/dkeye/Dialogue/internal/adapters/rtc"
	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/rs/zerolog/log"
)

type CallStarted struct {
	CallID domain.CallID `json:"callId"`
	State  string        `json:"state"`
}

// StartCall validates the offer and hands it to the coordinator. The media
// kind is taken from the SDP when the client leaves it out.
func (o *Orchestrator) StartCall(s Session, ev core.OfferEvent) (*CallStarted, error) {
	if _, err := domain.ParseUserID(string(ev.To)); err != nil {
		return nil, err
	}
	desc, err := rtc.ParseOffer(ev.SDP)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("sid", string(s.SID)).Msg("rejecting offer")
		return nil, err
	}
	if o.Offers != nil && !o.Offers.Allow(s.UID) {
		return nil, ErrRateLimited
	}
	media := ev.Media
	if media == "" {
		media = rtc.MediaKind(desc)
	}
	id, st, err := o.Calls.Offer(s.SID, s.UID, ev.To, ev.SDP, media)
	if err != nil {
		return nil, err
	}
	return &CallStarted{CallID: id, State: st.String()}, nil
}

func (o *Orchestrator) AnswerCall(s Session, ev core.AnswerEvent) error {
	if _, err := rtc.ParseAnswer(ev.SDP); err != nil {
		return err
	}
	return o.Calls.Answer(s.SID, s.UID, ev.CallID, ev.SDP)
}
