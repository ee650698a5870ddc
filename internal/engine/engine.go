package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/msnctl/internal/conversation"
	"github.com/danmuck/msnctl/internal/passport"
	"github.com/danmuck/msnctl/internal/protocol"
	"github.com/danmuck/msnctl/internal/roster"
	"github.com/danmuck/msnctl/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ClientID advertises msnc5 plus ink, multi-packet, winks and voice clips.
const ClientID uint32 = 0x50000000 | 0x2 | 0x4 | 0x20 | 0x8000 | 0x40000

const ProtocolVersion = "MSNP13"

type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseNegotiation
	PhaseSteady
	// PhaseSignedOut is terminal: the transport is closed and the engine
	// never signs in again.
	PhaseSignedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNegotiation:
		return "negotiation"
	case PhaseSteady:
		return "steady"
	case PhaseSignedOut:
		return "signed out"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Transport is the notification-server socket.
type Transport interface {
	Inbound() <-chan protocol.InboundMessage
	// Send writes cmd and returns the correlation id it was sent with.
	Send(cmd protocol.OutboundCommand) (uint32, error)
	Reconnect(ctx context.Context, host string, port int) error
	Close() error
}

type Negotiator interface {
	Negotiate(ctx context.Context, account, password, nonce string) (passport.Ticket, error)
}

type Conversation interface {
	Start() error
	Announce() error
	Invite(account string) error
	Answer() error
	SendMessage(text string) error
}

type ConversationFactory func(params conversation.Params) (Conversation, error)

type RosterSync interface {
	Start()
}

type RosterFactory func(sess *session.Session, sink roster.Sink, initial bool) RosterSync

type Config struct {
	// PingInterval is the keep-alive period in steady state; zero disables it.
	PingInterval   time.Duration
	OutboundBuffer int
}

func DefaultConfig() Config {
	return Config{
		PingInterval:   45 * time.Second,
		OutboundBuffer: 64,
	}
}

type Deps struct {
	Session       *session.Session
	Transport     Transport
	Negotiator    Negotiator
	Conversations ConversationFactory
	Roster        RosterFactory
}

type Engine struct {
	id  string
	cfg Config

	sess       *session.Session
	transport  Transport
	negotiator Negotiator
	newConv    ConversationFactory
	newRoster  RosterFactory

	phase    atomic.Int32
	outbound chan protocol.OutboundCommand
	lastPong atomic.Int64

	loginHandlers  map[protocol.Verb]inboundHandler
	steadyHandlers map[protocol.Verb]inboundHandler
	actionHandlers map[session.ActionID]actionHandler

	convMu        sync.RWMutex
	conversations map[int]Conversation
	nextLocalID   int

	// loop goroutine only
	pending map[uint32]string
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Session == nil {
		return nil, ErrSessionRequired
	}
	if deps.Transport == nil {
		return nil, ErrTransportRequired
	}
	if deps.Negotiator == nil {
		return nil, ErrNegotiatorRequired
	}
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = DefaultConfig().OutboundBuffer
	}
	if cfg.PingInterval < 0 {
		cfg.PingInterval = 0
	}
	e := &Engine{
		id:            uuid.NewString(),
		cfg:           cfg,
		sess:          deps.Session,
		transport:     deps.Transport,
		negotiator:    deps.Negotiator,
		newConv:       deps.Conversations,
		newRoster:     deps.Roster,
		outbound:      make(chan protocol.OutboundCommand, cfg.OutboundBuffer),
		conversations: make(map[int]Conversation),
		pending:       make(map[uint32]string),
	}
	if e.newConv == nil {
		sess := e.sess
		e.newConv = func(p conversation.Params) (Conversation, error) {
			return conversation.New(sess, p)
		}
	}
	if e.newRoster == nil {
		e.newRoster = func(s *session.Session, sink roster.Sink, initial bool) RosterSync {
			return roster.New(s, sink, initial)
		}
	}
	e.loginHandlers = e.buildLoginHandlers()
	e.steadyHandlers = e.buildSteadyHandlers()
	e.actionHandlers = e.buildActionHandlers()
	log.Info().Msgf("engine.New id=%s ping_interval=%s", e.id, cfg.PingInterval)
	return e, nil
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Session() *session.Session {
	return e.sess
}

func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) setPhase(p Phase) {
	prev := Phase(e.phase.Swap(int32(p)))
	if prev != p {
		log.Info().Msgf("engine.Engine.setPhase id=%s from=%s to=%s", e.id, prev, p)
	}
}

// LastPong reports when the server last answered a keep-alive.
func (e *Engine) LastPong() time.Time {
	n := e.lastPong.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Enqueue hands a command to the loop for sending. It never blocks.
func (e *Engine) Enqueue(cmd protocol.OutboundCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	select {
	case e.outbound <- cmd:
		return nil
	default:
		return ErrOutboundFull
	}
}

// Run drives the connection until ActionQuit, ctx cancellation or the
// transport closing. Negotiation holds off client actions; they stay queued
// in the session until steady state.
func (e *Engine) Run(ctx context.Context) error {
	var pingC <-chan time.Time
	if e.cfg.PingInterval > 0 {
		ticker := time.NewTicker(e.cfg.PingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}
	inbound := e.transport.Inbound()
	log.Info().Msgf("engine.Engine.Run id=%s start", e.id)

	for {
		var actions <-chan session.Action
		if e.Phase() != PhaseNegotiation {
			actions = e.sess.Actions()
		}

		select {
		case <-ctx.Done():
			e.shutdown("context done")
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				if e.Phase() == PhaseSignedOut {
					log.Info().Msgf("engine.Engine.Run id=%s signed out", e.id)
					return nil
				}
				log.Warn().Msgf("engine.Engine.Run id=%s transport closed", e.id)
				e.sess.AddEvent(session.EventDisconnected, "connection closed")
				e.setPhase(PhaseIdle)
				return ErrTransportClosed
			}
			e.HandleInbound(ctx, msg)
		case cmd := <-e.outbound:
			e.send(cmd)
		case a := <-actions:
			if !e.HandleAction(ctx, a) {
				e.shutdown("quit")
				return nil
			}
		case <-pingC:
			if e.Phase() == PhaseSteady {
				e.send(protocol.NewCommand(protocol.VerbPing))
			}
		}
	}
}

func (e *Engine) shutdown(reason string) {
	log.Info().Msgf("engine.Engine.shutdown id=%s reason=%q", e.id, reason)
	if err := e.transport.Close(); err != nil {
		log.Warn().Msgf("engine.Engine.shutdown id=%s close err=%v", e.id, err)
	}
	e.closeConversations()
	e.clearPending()
}

// signOut ends the connection. Signing in again takes a new engine with a
// fresh transport.
func (e *Engine) signOut(reason string) {
	e.setPhase(PhaseSignedOut)
	e.closeConversations()
	e.clearPending()
	if err := e.transport.Close(); err != nil {
		log.Warn().Msgf("engine.Engine.signOut id=%s close err=%v", e.id, err)
	}
	e.sess.AddEvent(session.EventDisconnected, reason)
}

// send writes cmd and returns its correlation id. Failures are logged; the
// server's silence surfaces them as a stalled login or missing ack.
func (e *Engine) send(cmd protocol.OutboundCommand) (uint32, error) {
	tid, err := e.transport.Send(cmd)
	if err != nil {
		log.Error().Msgf("engine.Engine.send id=%s cmd=%s err=%v", e.id, cmd.Command, err)
		return 0, err
	}
	return tid, nil
}
