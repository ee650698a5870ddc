package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/danmuck/msnctl/internal/conversation"
	"github.com/danmuck/msnctl/internal/protocol"
	"github.com/danmuck/msnctl/internal/session"
	"github.com/rs/zerolog/log"
)

// allocLocalID hands out conversation ids 0, 1, 2... for the life of the
// engine, whichever side opened the conversation.
func (e *Engine) allocLocalID() int {
	e.convMu.Lock()
	defer e.convMu.Unlock()
	id := e.nextLocalID
	e.nextLocalID++
	return id
}

func (e *Engine) registerConversation(id int, conv Conversation) {
	e.convMu.Lock()
	defer e.convMu.Unlock()
	e.conversations[id] = conv
}

func (e *Engine) Conversation(id int) (Conversation, bool) {
	e.convMu.RLock()
	defer e.convMu.RUnlock()
	conv, ok := e.conversations[id]
	return conv, ok
}

func (e *Engine) ConversationIDs() []int {
	e.convMu.RLock()
	defer e.convMu.RUnlock()
	ids := make([]int, 0, len(e.conversations))
	for id := range e.conversations {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (e *Engine) closeConversations() {
	e.convMu.Lock()
	convs := e.conversations
	e.conversations = make(map[int]Conversation)
	e.convMu.Unlock()
	for id, conv := range convs {
		closer, ok := conv.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			log.Warn().Msgf("engine.Engine.closeConversations id=%s local_id=%d err=%v", e.id, id, err)
		}
	}
}

// clearPending drops switchboard requests the server never answered.
func (e *Engine) clearPending() {
	if n := len(e.pending); n > 0 {
		log.Debug().Msgf("engine.Engine.clearPending id=%s dropped=%d", e.id, n)
	}
	clear(e.pending)
}

// requestConversation asks the server for a switchboard; the XFR answer
// carrying the same tid completes the handoff.
func (e *Engine) requestConversation(account string) error {
	tid, err := e.send(protocol.NewCommand(protocol.VerbTransfer, "SB"))
	if err != nil {
		return err
	}
	e.pending[tid] = account
	log.Debug().Msgf("engine.Engine.requestConversation id=%s tid=%d account=%q", e.id, tid, account)
	return nil
}

// onConversationTransfer handles "XFR tid SB host:port CKI cookie ...".
func (e *Engine) onConversationTransfer(_ context.Context, msg protocol.InboundMessage) error {
	if !msg.ParamIs(0, "SB") {
		log.Debug().Msgf("engine.Engine.onConversationTransfer id=%s ignored=%q", e.id, msg.String())
		return nil
	}
	if len(msg.Params) < 4 {
		return fmt.Errorf("%w: XFR SB params=%d", protocol.ErrMalformed, len(msg.Params))
	}
	tid, err := msg.NumericTID()
	if err != nil {
		return err
	}
	account, ok := e.pending[tid]
	if !ok {
		return fmt.Errorf("%w: no pending conversation for tid=%d", protocol.ErrMalformed, tid)
	}
	delete(e.pending, tid)

	host, port, err := splitHostPort(msg.Params[1])
	if err != nil {
		e.sess.AddEvent(session.EventError, "invalid XFR command", account)
		return err
	}
	conv, id, err := e.openConversation(conversation.Params{
		Host:        host,
		Port:        port,
		PeerAccount: account,
		SessionID:   msg.Params[3],
		Mode:        conversation.ModeInvite,
	})
	if err != nil {
		return err
	}
	return e.conversationStep(id,
		conv.Announce,
		func() error { return conv.Invite(account) },
		conv.Start,
	)
}

// onConversationRequest handles "RNG session host:port CKI auth account nick ...".
func (e *Engine) onConversationRequest(_ context.Context, msg protocol.InboundMessage) error {
	if len(msg.Params) < 4 || msg.TID == "" {
		return fmt.Errorf("%w: RNG params=%d", protocol.ErrMalformed, len(msg.Params))
	}
	host, port, err := splitHostPort(msg.Params[0])
	if err != nil {
		return err
	}
	conv, id, err := e.openConversation(conversation.Params{
		Host:        host,
		Port:        port,
		PeerAccount: msg.Params[3],
		SessionID:   msg.TID,
		AuthID:      msg.Params[2],
		Mode:        conversation.ModeAnswer,
	})
	if err != nil {
		return err
	}
	return e.conversationStep(id, conv.Answer, conv.Start)
}

func (e *Engine) openConversation(params conversation.Params) (Conversation, int, error) {
	params.LocalID = e.allocLocalID()
	conv, err := e.newConv(params)
	if err != nil {
		e.sess.AddEvent(session.EventError, fmt.Sprintf("conversation %d: %v", params.LocalID, err))
		return nil, params.LocalID, err
	}
	e.registerConversation(params.LocalID, conv)
	log.Info().Msgf("engine.Engine.openConversation id=%s local_id=%d peer=%q mode=%s", e.id, params.LocalID, params.PeerAccount, params.Mode)
	return conv, params.LocalID, nil
}

func (e *Engine) conversationStep(id int, steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			e.sess.AddEvent(session.EventError, fmt.Sprintf("conversation %d: %v", id, err))
			return err
		}
	}
	return nil
}

func (e *Engine) sendConversationMessage(id int, text string) error {
	conv, ok := e.Conversation(id)
	if !ok {
		return ErrUnknownConversation
	}
	return conv.SendMessage(text)
}
