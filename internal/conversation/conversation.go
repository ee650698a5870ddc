// Package conversation holds the local side of one switchboard conversation
// handed off by the notification engine. The switchboard wire exchange is
// not driven here; a Handle tracks the handoff lifecycle and the outgoing
// message log so the engine and UI agree on what each conversation is.
package conversation

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/msnctl/internal/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidParams = errors.New("conversation: invalid params")
	ErrInvalidState  = errors.New("conversation: invalid state")
	ErrEmptyMessage  = errors.New("conversation: empty message")
)

// Mode tells whether the local client opened the conversation or answers
// a server ring.
type Mode int

const (
	ModeInvite Mode = iota
	ModeAnswer
)

func (m Mode) String() string {
	if m == ModeAnswer {
		return "answer"
	}
	return "invite"
}

type State int

const (
	StateCreated State = iota
	StateAnnounced
	StateAnswered
	StateStarted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAnnounced:
		return "announced"
	case StateAnswered:
		return "answered"
	case StateStarted:
		return "started"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Params are the resolved switchboard coordinates.
type Params struct {
	LocalID     int
	Host        string
	Port        int
	PeerAccount string
	SessionID   string
	AuthID      string
	Mode        Mode
}

func (p Params) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Params) Validate() error {
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidParams)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("%w: port=%d", ErrInvalidParams, p.Port)
	}
	if strings.TrimSpace(p.PeerAccount) == "" {
		return fmt.Errorf("%w: missing peer account", ErrInvalidParams)
	}
	if p.Mode == ModeAnswer && strings.TrimSpace(p.AuthID) == "" {
		return fmt.Errorf("%w: answer mode requires auth id", ErrInvalidParams)
	}
	return nil
}

type Message struct {
	Text string
	At   time.Time
}

// Snapshot is a read-only view of a Handle.
type Snapshot struct {
	Params  Params
	State   State
	Invited []string
	Sent    int
}

type Handle struct {
	mu      sync.Mutex
	sess    *session.Session
	params  Params
	state   State
	invited []string
	sent    []Message
}

func New(sess *session.Session, params Params) (*Handle, error) {
	if sess == nil {
		return nil, fmt.Errorf("%w: nil session", ErrInvalidParams)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params.PeerAccount = strings.ToLower(strings.TrimSpace(params.PeerAccount))
	return &Handle{
		sess:   sess,
		params: params,
		state:  StateCreated,
	}, nil
}

func (h *Handle) LocalID() int {
	return h.params.LocalID
}

// Announce identifies the local account on a conversation it opened.
func (h *Handle) Announce() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.params.Mode != ModeInvite || h.state != StateCreated {
		return fmt.Errorf("%w: announce in mode=%s state=%s", ErrInvalidState, h.params.Mode, h.state)
	}
	h.state = StateAnnounced
	log.Debug().Msgf("conversation.Handle.Announce local_id=%d addr=%q account=%q", h.params.LocalID, h.params.Address(), h.sess.Account().Account)
	return nil
}

func (h *Handle) Invite(account string) error {
	account = strings.ToLower(strings.TrimSpace(account))
	if account == "" {
		return fmt.Errorf("%w: missing invitee", ErrInvalidParams)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateAnnounced && h.state != StateStarted {
		return fmt.Errorf("%w: invite in state=%s", ErrInvalidState, h.state)
	}
	for _, existing := range h.invited {
		if existing == account {
			return nil
		}
	}
	h.invited = append(h.invited, account)
	log.Debug().Msgf("conversation.Handle.Invite local_id=%d invitee=%q", h.params.LocalID, account)
	return nil
}

// Answer joins a conversation the server rang us for.
func (h *Handle) Answer() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.params.Mode != ModeAnswer || h.state != StateCreated {
		return fmt.Errorf("%w: answer in mode=%s state=%s", ErrInvalidState, h.params.Mode, h.state)
	}
	h.state = StateAnswered
	log.Debug().Msgf("conversation.Handle.Answer local_id=%d session=%q peer=%q", h.params.LocalID, h.params.SessionID, h.params.PeerAccount)
	return nil
}

func (h *Handle) Start() error {
	h.mu.Lock()
	if h.state != StateAnnounced && h.state != StateAnswered {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("%w: start in state=%s", ErrInvalidState, state)
	}
	h.state = StateStarted
	h.mu.Unlock()

	log.Info().Msgf("conversation.Handle.Start local_id=%d addr=%q peer=%q mode=%s", h.params.LocalID, h.params.Address(), h.params.PeerAccount, h.params.Mode)
	h.sess.AddEvent(session.EventConvStarted, h.params.LocalID, h.params.PeerAccount)
	return nil
}

func (h *Handle) SendMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateStarted {
		return fmt.Errorf("%w: send in state=%s", ErrInvalidState, h.state)
	}
	h.sent = append(h.sent, Message{Text: text, At: time.Now()})
	log.Debug().Msgf("conversation.Handle.SendMessage local_id=%d bytes=%d", h.params.LocalID, len(text))
	return nil
}

// Close ends the conversation; closing twice is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return nil
	}
	h.state = StateClosed
	h.mu.Unlock()
	h.sess.AddEvent(session.EventConvEnded, h.params.LocalID)
	return nil
}

func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		Params:  h.params,
		State:   h.state,
		Invited: append([]string(nil), h.invited...),
		Sent:    len(h.sent),
	}
}

// Messages returns a copy of the outgoing message log.
func (h *Handle) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.sent...)
}
