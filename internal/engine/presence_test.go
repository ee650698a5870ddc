package engine

import (
	"testing"

	"github.com/danmuck/msnctl/internal/protocol"
	"github.com/danmuck/msnctl/internal/protocol/challenge"
	"github.com/danmuck/msnctl/internal/session"
	"github.com/danmuck/msnctl/internal/status"
	"github.com/danmuck/msnctl/internal/testutil/testlog"
)

func steadyHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, nil)
	h.engine.setPhase(PhaseSteady)
	h.sess.Contacts().Add(session.Contact{Account: "alice@example.com", Status: status.Offline})
	return h
}

func TestInitialPresenceIsSilent(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)

	h.feed("ILN 9 BSY alice@example.com Alice%20A 1 %3Cmsnobj%2F%3E")
	h.feed("ILN 9 NLN stranger@example.com Stranger")

	c, _ := h.sess.Contacts().Get("alice@example.com")
	if c.Status != status.Busy || c.Nick != "Alice A" || c.Attrs["msnobj"] != "<msnobj/>" {
		t.Fatalf("unexpected contact: %+v", c)
	}
	if _, ok := h.sess.Contacts().Get("stranger@example.com"); ok {
		t.Fatalf("unknown accounts must not be created")
	}
	if events := drainEvents(h.sess); len(events) != 0 {
		t.Fatalf("initial presence must not emit events: %+v", events)
	}
}

func TestOnlineOfflineTransitionsEmitEvents(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)

	h.feed("NLN AWY Alice@Example.com Ally%20%E2%9C%93 2788999228 %3Cobj%2F%3E")
	c, _ := h.sess.Contacts().Get("alice@example.com")
	if c.Status != status.Away || c.Nick != "Ally ✓" || c.Attrs["CID"] != "2788999228" || c.Attrs["msnobj"] != "<obj/>" {
		t.Fatalf("unexpected contact after NLN: %+v", c)
	}

	h.feed("FLN alice@example.com")
	c, _ = h.sess.Contacts().Get("alice@example.com")
	if c.Status != status.Offline {
		t.Fatalf("unexpected status after FLN: %v", c.Status)
	}

	h.feed("NLN NLN ghost@example.com Ghost")
	h.feed("FLN ghost@example.com")
	h.feed("NLN XXX alice@example.com Alice")

	events := drainEvents(h.sess)
	if len(events) != 2 || countKind(events, session.EventContactAttrChanged) != 4 || events[0].Arg(0) != "alice@example.com" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestPersonalInfo(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)

	payload := `<Data><PSM>fish &amp; chips</PSM><CurrentMedia>\0Music\01\0{0} - {1}\0Song &quot;A&quot;\0Band\0</CurrentMedia></Data>`
	h.feed("UBX alice@example.com 120", payload)
	c, _ := h.sess.Contacts().Get("alice@example.com")
	if c.Message != "fish & chips" || c.Media != `Song "A" - Band` {
		t.Fatalf("unexpected contact: %+v", c)
	}

	h.feed("UBX alice@example.com 50", "<Data><PSM></PSM><CurrentMedia></CurrentMedia></Data>")
	c, _ = h.sess.Contacts().Get("alice@example.com")
	if c.Message != "" || c.Media != "" {
		t.Fatalf("empty payload fields must clear: %+v", c)
	}

	h.feed("UBX alice@example.com 80", `<Data><PSM>hi</PSM><CurrentMedia>\0Music\01\0{0}\0Song\0</CurrentMedia></Data>`)
	h.feed("UBX alice@example.com 20", "<Data><PSM>hi</PSM></Data>")
	c, _ = h.sess.Contacts().Get("alice@example.com")
	if c.Message != "hi" || c.Media != "" {
		t.Fatalf("absent media must clear: %+v", c)
	}

	h.feed("UBX alice@example.com 0")
	h.feed("UBX ghost@example.com 30", "<Data><PSM>x</PSM></Data>")

	if events := drainEvents(h.sess); countKind(events, session.EventContactAttrChanged) != 4 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestParseMedia(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{raw: `\0Music\01\0{0} - {1}\0Title\0Artist\0`, want: "Title - Artist", ok: true},
		{raw: `WMP\0Music\01\0{1}: {0}\0T\0A`, want: "A: T", ok: true},
		{raw: `\0Games\01\0Playing {0}\0Chess`, ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseMedia(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseMedia(%q)=%q,%v want %q,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestChallengeIsAnswered(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)
	h.feed("CHL 0 29409134351025259292")

	last := h.transport.Last()
	if last.Command != protocol.VerbQuery || len(last.Params) != 1 || last.Params[0] != challenge.ProductID {
		t.Fatalf("unexpected reply: %+v", last)
	}
	if string(last.Payload) != challenge.Respond("29409134351025259292") || len(last.Payload) != 32 {
		t.Fatalf("unexpected payload: %q", last.Payload)
	}
}

func TestUnknownVerbProducesNothing(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)
	sent := len(h.transport.Sent())

	h.feed("ZZZ 1 whatever")
	h.feed("CHL 0")
	h.feed("FLN alice@example.com")

	events := drainEvents(h.sess)
	if len(events) != 1 || events[0].Kind != session.EventContactAttrChanged {
		t.Fatalf("processing must continue past unknown verbs: %+v", events)
	}
	if len(h.transport.Sent()) != sent {
		t.Fatalf("unknown verb must not send")
	}
}

func TestAcknowledgementsAndSignOut(t *testing.T) {
	testlog.Start(t)
	h := steadyHarness(t)

	h.feed("CHG 5 BSY 1342472230")
	h.feed("PRP 6 MFN Bob%20B")
	h.feed("UUX 7 0")
	if h.sess.Account().Status != status.Busy {
		t.Fatalf("status ack must update account status")
	}

	h.feed("OUT OTH")
	events := drainEvents(h.sess)
	kinds := []session.EventKind{session.EventStatusChangeSucceed, session.EventNickChangeSucceed, session.EventMessageChangeSucceed, session.EventDisconnected}
	if len(events) != len(kinds) {
		t.Fatalf("unexpected events: %+v", events)
	}
	for i, k := range kinds {
		if events[i].Kind != k {
			t.Fatalf("event %d=%v, want %v", i, events[i].Kind, k)
		}
	}
	if events[1].Arg(0) != "Bob B" || events[3].Arg(0) != "OTH" {
		t.Fatalf("unexpected event args: %+v", events)
	}
	if h.engine.Phase() != PhaseSignedOut || !h.transport.IsClosed() {
		t.Fatalf("sign out must end the connection, phase=%s", h.engine.Phase())
	}
	h.act(session.ActionLogin, "bob@example.com", "secret", status.Online)
	if events := drainEvents(h.sess); len(events) != 1 || events[0].Kind != session.EventError {
		t.Fatalf("login after sign out must be rejected: %+v", events)
	}
}
