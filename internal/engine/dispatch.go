package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/danmuck/msnctl/internal/observability"
	"github.com/danmuck/msnctl/internal/protocol"
	"github.com/danmuck/msnctl/internal/session"
	"github.com/rs/zerolog/log"
)

type inboundHandler func(ctx context.Context, msg protocol.InboundMessage) error

func (e *Engine) buildLoginHandlers() map[protocol.Verb]inboundHandler {
	return map[protocol.Verb]inboundHandler{
		protocol.VerbVersion:       e.onVersion,
		protocol.VerbClientVersion: e.onClientVersion,
		protocol.VerbTransfer:      e.onServerTransfer,
		protocol.VerbUser:          e.onUser,
		protocol.VerbSBS:           e.onIgnored,
		protocol.VerbMessage:       e.onLoginMessage,
	}
}

func (e *Engine) buildSteadyHandlers() map[protocol.Verb]inboundHandler {
	return map[protocol.Verb]inboundHandler{
		protocol.VerbInitialPresence: e.onInitialPresence,
		protocol.VerbPersonalInfo:    e.onPersonalInfo,
		protocol.VerbChallenge:       e.onChallenge,
		protocol.VerbOnline:          e.onOnline,
		protocol.VerbOffline:         e.onOffline,
		protocol.VerbAddList:         e.onRosterNotice,
		protocol.VerbRemoveList:      e.onRosterNotice,
		protocol.VerbRing:            e.onConversationRequest,
		protocol.VerbTransfer:        e.onConversationTransfer,
		protocol.VerbMessage:         e.onServerMessage,
		protocol.VerbNotification:    e.onNotification,
		protocol.VerbSignOut:         e.onSignOut,
		protocol.VerbPong:            e.onPong,
		protocol.VerbChangeStatus:    e.onStatusAck,
		protocol.VerbProperty:        e.onPropertyAck,
		protocol.VerbPersonalUpdate:  e.onPersonalUpdateAck,
		protocol.VerbPrivacy:         e.onIgnored,
		protocol.VerbSBS:             e.onIgnored,
	}
}

// HandleInbound dispatches one server message for the current phase. It
// never panics; handler faults are logged and the message is dropped.
func (e *Engine) HandleInbound(ctx context.Context, msg protocol.InboundMessage) {
	phase := e.Phase()
	verb := string(msg.Command)
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			log.Error().Msgf("engine.Engine.HandleInbound id=%s panic msg=%q recovered=%v\n%s", e.id, msg.String(), r, debug.Stack())
		}
		observability.RecordInbound(phase.String(), verb, result)
	}()

	if msg.IsError() {
		verb = "error"
		e.onServerError(msg, phase)
		return
	}

	var table map[protocol.Verb]inboundHandler
	switch phase {
	case PhaseNegotiation:
		table = e.loginHandlers
	case PhaseSteady:
		table = e.steadyHandlers
	default:
		result = "dropped"
		log.Debug().Msgf("engine.Engine.HandleInbound id=%s phase=%s drop=%q", e.id, phase, msg.String())
		return
	}

	handler, ok := table[msg.Command]
	if !ok {
		verb = "unknown"
		result = "unknown"
		log.Debug().Msgf("engine.Engine.HandleInbound id=%s phase=%s unknown=%q", e.id, phase, msg.String())
		return
	}
	if err := handler(ctx, msg); err != nil {
		result = "error"
		log.Warn().Msgf("engine.Engine.HandleInbound id=%s phase=%s msg=%q err=%v", e.id, phase, msg.String(), err)
	}
}

func (e *Engine) onServerError(msg protocol.InboundMessage, phase Phase) {
	code := string(msg.Command)
	log.Warn().Msgf("engine.Engine.onServerError id=%s phase=%s code=%s tid=%q", e.id, phase, code, msg.TID)
	if phase == PhaseNegotiation {
		e.failLogin(fmt.Sprintf("server error %s", code))
		return
	}
	if tid, err := msg.NumericTID(); err == nil {
		if account, ok := e.pending[tid]; ok {
			delete(e.pending, tid)
			log.Warn().Msgf("engine.Engine.onServerError id=%s dropped pending conversation tid=%d account=%q", e.id, tid, account)
		}
	}
	e.sess.AddEvent(session.EventError, fmt.Sprintf("server error %s", code), msg.TID)
}

func (e *Engine) onIgnored(_ context.Context, msg protocol.InboundMessage) error {
	log.Debug().Msgf("engine.Engine.onIgnored id=%s msg=%q", e.id, msg.String())
	return nil
}
