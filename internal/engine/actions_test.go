package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/danmuck/msnctl/internal/conversation"
	"github.com/danmuck/msnctl/internal/protocol"
	"github.com/danmuck/msnctl/internal/session"
	"github.com/danmuck/msnctl/internal/status"
	"github.com/danmuck/msnctl/internal/testutil/testlog"
)

func TestArityMismatchEmitsOneErrorAndContinues(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)

	if !h.act(session.ActionSendMessage, 0) {
		t.Fatalf("arity mismatch must not stop the engine")
	}
	events := drainEvents(h.sess)
	if len(events) != 1 || events[0].Kind != session.EventError {
		t.Fatalf("expected exactly one error event: %+v", events)
	}
	if !strings.Contains(events[0].Arg(0), "expects 2 arguments, got 1") {
		t.Fatalf("unexpected message: %q", events[0].Arg(0))
	}

	h.act(session.ActionNewConversation, "bob@example.com")
	if last := h.transport.Last(); last.Command != protocol.VerbTransfer || last.Params[0] != "SB" {
		t.Fatalf("next action not processed: %+v", last)
	}
	if events := drainEvents(h.sess); len(events) != 0 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestWrongArgumentTypeEmitsOneError(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)
	h.act(session.ActionChangeStatus, 42)
	h.act(session.ActionSendMessage, "zero", "hi")

	events := drainEvents(h.sess)
	if len(events) != 2 || countKind(events, session.EventError) != 2 {
		t.Fatalf("expected two error events: %+v", events)
	}
}

func TestLocalIDsAcrossServerAndClientConversations(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)

	h.feed("RNG 11752013 207.46.108.38:1863 CKI 849102291.520491113 alice@example.com Alice U messenger.msn.com")

	h.act(session.ActionNewConversation, "Bob@Example.com")
	tid := h.transport.LastTID()
	h.feed(fmt.Sprintf("XFR %d SB 207.46.108.37:1863 CKI 17262740.1050826919.32308 U messenger.msn.com", tid))

	h.feed("RNG 22 10.1.1.1:1863 CKI 777 carol@example.com Carol U messenger.msn.com")

	if len(h.params) != 3 {
		t.Fatalf("conversations=%d, want 3", len(h.params))
	}
	for i, p := range h.params {
		if p.LocalID != i {
			t.Fatalf("conversation %d has local id %d", i, p.LocalID)
		}
	}
	if got := h.engine.ConversationIDs(); fmt.Sprint(got) != "[0 1 2]" {
		t.Fatalf("registered ids=%v", got)
	}

	rng := h.params[0]
	if rng.Mode != conversation.ModeAnswer || rng.SessionID != "11752013" || rng.AuthID != "849102291.520491113" || rng.PeerAccount != "alice@example.com" || rng.Port != 1863 {
		t.Fatalf("unexpected RNG params: %+v", rng)
	}
	if got := strings.Join(h.convs[0].calls, ","); got != "answer,start" {
		t.Fatalf("RNG calls=%q", got)
	}

	xfr := h.params[1]
	if xfr.Mode != conversation.ModeInvite || xfr.Host != "207.46.108.37" || xfr.SessionID != "17262740.1050826919.32308" || xfr.PeerAccount != "bob@example.com" {
		t.Fatalf("unexpected XFR params: %+v", xfr)
	}
	if got := strings.Join(h.convs[1].calls, ","); got != "announce,invite bob@example.com,start" {
		t.Fatalf("XFR calls=%q", got)
	}

	// the pending record is single use
	h.feed(fmt.Sprintf("XFR %d SB 207.46.108.37:1863 CKI 1 U messenger.msn.com", tid))
	if len(h.params) != 3 {
		t.Fatalf("pending request must be consumed once")
	}
}

func TestSendMessage(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)
	h.feed("RNG 1 10.0.0.1:1863 CKI 5 alice@example.com Alice")

	h.act(session.ActionSendMessage, 0, "hello")
	if got := h.convs[0].texts; len(got) != 1 || got[0] != "hello" {
		t.Fatalf("message not delivered: %v", got)
	}

	h.act(session.ActionSendMessage, 7, "lost")
	events := drainEvents(h.sess)
	if countKind(events, session.EventError) != 1 {
		t.Fatalf("expected one error: %+v", events)
	}
	for _, ev := range events {
		if ev.Kind == session.EventError && ev.Arg(0) != "invalid conversation id" {
			t.Fatalf("unexpected error message %q", ev.Arg(0))
		}
	}
}

func TestServerErrorConsumesPendingConversation(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)
	h.act(session.ActionNewConversation, "bob@example.com")
	tid := h.transport.LastTID()

	h.feed(fmt.Sprintf("800 %d", tid))
	h.feed(fmt.Sprintf("XFR %d SB 10.0.0.1:1863 CKI 1", tid))

	if len(h.params) != 0 {
		t.Fatalf("errored request must not open a conversation")
	}
	events := drainEvents(h.sess)
	if len(events) != 1 || events[0].Kind != session.EventError || events[0].Arg(0) != "server error 800" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestContactAndProfileActions(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)

	h.act(session.ActionAddContact, "Dave@Example.com")
	if last := h.transport.Last(); last.Command != protocol.VerbAddList || !strings.Contains(string(last.Payload), `<c n="dave"`) {
		t.Fatalf("unexpected ADL: %s %s", last.Command, last.Payload)
	}
	if _, ok := h.sess.Contacts().Get("dave@example.com"); !ok {
		t.Fatalf("contact not added")
	}

	h.act(session.ActionRemoveContact, "dave@example.com")
	if last := h.transport.Last(); last.Command != protocol.VerbRemoveList {
		t.Fatalf("unexpected command: %s", last.Command)
	}

	h.act(session.ActionSetNick, "Bob the Builder")
	assertLast(t, h, protocol.VerbProperty, "MFN", "Bob%20the%20Builder")

	h.act(session.ActionSetMessage, "a < b")
	if last := h.transport.Last(); last.Command != protocol.VerbPersonalUpdate || string(last.Payload) != "<Data><PSM>a &lt; b</PSM><CurrentMedia></CurrentMedia></Data>" {
		t.Fatalf("unexpected UUX: %s %q", last.Command, last.Payload)
	}

	h.act(session.ActionChangeStatus, status.Idle)
	assertLast(t, h, protocol.VerbChangeStatus, "IDL", "1342472230", "0")

	sent := len(h.transport.Sent())
	h.act(session.ActionRenameGroup, "g1", "Friends")
	if len(h.transport.Sent()) != sent {
		t.Fatalf("unsupported action must not send")
	}

	events := drainEvents(h.sess)
	if countKind(events, session.EventContactAdded) != 1 || countKind(events, session.EventContactRemoved) != 1 || countKind(events, session.EventError) != 0 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestActionsRequireSignIn(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, nil)
	h.act(session.ActionSetNick, "bob")
	h.act(session.ActionNewConversation, "bob@example.com")
	events := drainEvents(h.sess)
	if len(events) != 2 || events[0].Arg(0) != "not signed in" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if len(h.transport.Sent()) != 0 {
		t.Fatalf("nothing may be sent before sign in")
	}
}

func TestLogoutEndsTheConnection(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)
	h.act(session.ActionNewConversation, "bob@example.com")
	drainEvents(h.sess)

	h.act(session.ActionLogout)
	if h.transport.Last().Command != protocol.VerbSignOut {
		t.Fatalf("logout must send OUT, last=%s", h.transport.Last().Command)
	}
	if !h.transport.IsClosed() || h.engine.Phase() != PhaseSignedOut {
		t.Fatalf("logout must close the transport, phase=%s closed=%v", h.engine.Phase(), h.transport.IsClosed())
	}
	if len(h.engine.pending) != 0 {
		t.Fatalf("unanswered conversation requests must be dropped: %v", h.engine.pending)
	}
	sent := len(h.transport.Sent())

	if !h.act(session.ActionLogin, "bob@example.com", "secret", status.Online) {
		t.Fatalf("rejected login must not stop the engine")
	}
	events := drainEvents(h.sess)
	if countKind(events, session.EventDisconnected) != 1 {
		t.Fatalf("expected one disconnected event: %+v", events)
	}
	if countKind(events, session.EventError) != 1 || countKind(events, session.EventLoginStarted) != 0 {
		t.Fatalf("login after logout must be rejected with one error: %+v", events)
	}
	if len(h.transport.Sent()) != sent || h.engine.Phase() != PhaseSignedOut {
		t.Fatalf("login after logout must not touch the connection, phase=%s", h.engine.Phase())
	}
	if h.act(session.ActionQuit) {
		t.Fatalf("quit must stop the engine")
	}
}

func TestShutdownDropsPendingConversations(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)
	h.act(session.ActionNewConversation, "bob@example.com")
	h.act(session.ActionNewConversation, "carol@example.com")
	if len(h.engine.pending) != 2 {
		t.Fatalf("expected two pending requests, got %v", h.engine.pending)
	}

	h.engine.shutdown("test")
	if len(h.engine.pending) != 0 || !h.transport.IsClosed() {
		t.Fatalf("shutdown must close the transport and drop pending requests: %v", h.engine.pending)
	}
}
