package engine

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/msnctl/internal/conversation"
	"github.com/danmuck/msnctl/internal/passport"
	"github.com/danmuck/msnctl/internal/protocol"
	"github.com/danmuck/msnctl/internal/roster"
	"github.com/danmuck/msnctl/internal/session"
)

type fakeTransport struct {
	mu         sync.Mutex
	in         chan protocol.InboundMessage
	sent       []protocol.OutboundCommand
	next       uint32
	reconnects []string
	closed     bool
	sendErr    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan protocol.InboundMessage, 32)}
}

func (f *fakeTransport) Inbound() <-chan protocol.InboundMessage {
	return f.in
}

func (f *fakeTransport) Send(cmd protocol.OutboundCommand) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	if f.closed {
		return 0, errors.New("closed")
	}
	f.next++
	f.sent = append(f.sent, cmd)
	return f.next, nil
}

func (f *fakeTransport) Reconnect(_ context.Context, host string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects = append(f.reconnects, net.JoinHostPort(host, strconv.Itoa(port)))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Sent() []protocol.OutboundCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.OutboundCommand(nil), f.sent...)
}

func (f *fakeTransport) Last() protocol.OutboundCommand {
	sent := f.Sent()
	if len(sent) == 0 {
		return protocol.OutboundCommand{}
	}
	return sent[len(sent)-1]
}

func (f *fakeTransport) LastTID() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

func (f *fakeTransport) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeNegotiator struct {
	calls  []string
	ticket passport.Ticket
	err    error
}

func (f *fakeNegotiator) Negotiate(_ context.Context, account, password, nonce string) (passport.Ticket, error) {
	f.calls = append(f.calls, account+"|"+password+"|"+nonce)
	return f.ticket, f.err
}

type fakeConversation struct {
	mu    sync.Mutex
	calls []string
	texts []string
}

func (c *fakeConversation) record(call string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return nil
}

func (c *fakeConversation) Start() error                { return c.record("start") }
func (c *fakeConversation) Announce() error             { return c.record("announce") }
func (c *fakeConversation) Invite(account string) error { return c.record("invite " + account) }
func (c *fakeConversation) Answer() error               { return c.record("answer") }
func (c *fakeConversation) SendMessage(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

type fakeRoster struct {
	mu     sync.Mutex
	starts int
}

func (r *fakeRoster) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}

func (r *fakeRoster) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

type harness struct {
	engine    *Engine
	sess      *session.Session
	transport *fakeTransport
	neg       *fakeNegotiator
	roster    *fakeRoster
	params    []conversation.Params
	convs     []*fakeConversation
}

func newHarness(t *testing.T, negotiator Negotiator) *harness {
	t.Helper()
	h := &harness{
		sess:      session.New(session.DefaultConfig()),
		transport: newFakeTransport(),
		roster:    &fakeRoster{},
	}
	if negotiator == nil {
		h.neg = &fakeNegotiator{ticket: passport.Ticket{Raw: "t=TTT&p=PPP", T: "TTT", P: "PPP"}}
		negotiator = h.neg
	}
	e, err := New(Config{}, Deps{
		Session:    h.sess,
		Transport:  h.transport,
		Negotiator: negotiator,
		Conversations: func(p conversation.Params) (Conversation, error) {
			conv := &fakeConversation{}
			h.params = append(h.params, p)
			h.convs = append(h.convs, conv)
			return conv, nil
		},
		Roster: func(_ *session.Session, _ roster.Sink, initial bool) RosterSync {
			if !initial {
				t.Errorf("roster sync must be initial after login")
			}
			return h.roster
		},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = e
	return h
}

func (h *harness) feed(line string, payload ...string) {
	msg, _, err := protocol.ParseLine(line)
	if err != nil {
		panic(err)
	}
	if len(payload) > 0 {
		msg.Payload = []byte(payload[0])
	}
	h.engine.HandleInbound(context.Background(), msg)
}

func (h *harness) act(id session.ActionID, args ...any) bool {
	return h.engine.HandleAction(context.Background(), session.NewAction(id, args...))
}

func drainEvents(sess *session.Session) []session.Event {
	var out []session.Event
	for {
		select {
		case ev := <-sess.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []session.Event, kind session.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
