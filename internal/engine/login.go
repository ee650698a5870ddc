package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/danmuck/msnctl/internal/observability"
	"github.com/danmuck/msnctl/internal/passport"
	"github.com/danmuck/msnctl/internal/protocol"
	"github.com/danmuck/msnctl/internal/session"
	"github.com/danmuck/msnctl/internal/status"
	"github.com/rs/zerolog/log"
)

// Extras keys written during login.
const (
	ExtraNonce      = "hash"
	ExtraTicketT    = "t"
	ExtraTicketP    = "p"
	ExtraProfile    = "MSPProf"
	ExtraPassportID = "passport id"
)

var clientVersionParams = []string{"0x0c0a", "winnt", "5.1", "i386", "MSNMSGR", "8.0.0792", "msmsgs"}

func versionCommand() protocol.OutboundCommand {
	return protocol.NewCommand(protocol.VerbVersion, ProtocolVersion, "CVR0")
}

// startLogin stores the credentials and opens the handshake. A send
// failure is reported as a login failure, not returned.
func (e *Engine) startLogin(account, password string, st status.Status) error {
	account = strings.TrimSpace(account)
	if account == "" || strings.ContainsAny(account, " \r\n") {
		return fmt.Errorf("%w: invalid account %q", ErrActionArgs, account)
	}
	e.sess.SetAccount(session.Account{Account: account, Password: password, Status: st})
	if _, err := e.send(versionCommand()); err != nil {
		e.sess.AddEvent(session.EventLoginFailed, "can't reach notification server: "+err.Error())
		observability.RecordLogin("failed")
		return nil
	}
	e.sess.AddEvent(session.EventLoginStarted)
	e.setPhase(PhaseNegotiation)
	log.Info().Msgf("engine.Engine.startLogin id=%s account=%q status=%s", e.id, account, st)
	return nil
}

// failLogin emits one login-failed event and returns to idle so a new
// login action can retry on the same engine.
func (e *Engine) failLogin(reason string) {
	log.Warn().Msgf("engine.Engine.failLogin id=%s reason=%q", e.id, reason)
	observability.RecordLogin("failed")
	e.sess.AddEvent(session.EventLoginFailed, reason)
	e.setPhase(PhaseIdle)
}

// sendLogin aborts the login when a handshake command cannot be written.
func (e *Engine) sendLogin(cmd protocol.OutboundCommand) error {
	if _, err := e.send(cmd); err != nil {
		e.failLogin("connection lost: " + err.Error())
		return err
	}
	return nil
}

func (e *Engine) onVersion(_ context.Context, _ protocol.InboundMessage) error {
	params := append(append([]string(nil), clientVersionParams...), e.sess.Account().Account)
	return e.sendLogin(protocol.NewCommand(protocol.VerbClientVersion, params...))
}

func (e *Engine) onClientVersion(_ context.Context, _ protocol.InboundMessage) error {
	return e.sendLogin(protocol.NewCommand(protocol.VerbUser, "TWN", "I", e.sess.Account().Account))
}

// onServerTransfer follows "XFR tid NS host:port ..." to another
// notification server and restarts the handshake there.
func (e *Engine) onServerTransfer(ctx context.Context, msg protocol.InboundMessage) error {
	addr, ok := msg.Param(1)
	if !msg.ParamIs(0, "NS") || !ok {
		e.failLogin("invalid XFR command")
		return nil
	}
	host, port, err := splitHostPort(addr)
	if err != nil {
		e.failLogin("invalid XFR command")
		return nil
	}
	if err := e.transport.Reconnect(ctx, host, port); err != nil {
		e.failLogin(fmt.Sprintf("can't connect to %s: %v", addr, err))
		return nil
	}
	log.Info().Msgf("engine.Engine.onServerTransfer id=%s host=%q port=%d", e.id, host, port)
	return e.sendLogin(versionCommand())
}

func (e *Engine) onUser(ctx context.Context, msg protocol.InboundMessage) error {
	switch {
	case msg.ParamIs(0, "TWN") && msg.ParamIs(1, "S"):
		return e.authenticate(ctx, msg)
	case msg.ParamIs(0, "OK"):
		log.Info().Msgf("engine.Engine.onUser id=%s ticket accepted", e.id)
		return nil
	default:
		log.Debug().Msgf("engine.Engine.onUser id=%s ignored=%q", e.id, msg.String())
		return nil
	}
}

// authenticate trades the server nonce for a passport ticket and presents
// it. Negotiation blocks the loop for its duration.
func (e *Engine) authenticate(ctx context.Context, msg protocol.InboundMessage) error {
	raw := strings.Join(msg.Params[2:], " ")
	nonce, err := url.PathUnescape(raw)
	if err != nil || strings.TrimSpace(nonce) == "" {
		e.failLogin("invalid USR command")
		return nil
	}
	e.sess.SetExtra(ExtraNonce, nonce)

	acct := e.sess.Account()
	ticket, err := e.negotiator.Negotiate(ctx, acct.Account, acct.Password, nonce)
	if err != nil {
		var authErr *passport.AuthError
		if errors.As(err, &authErr) {
			e.failLogin(authErr.Reason)
		} else {
			e.failLogin(err.Error())
		}
		return nil
	}

	e.sess.SetExtra(ExtraPassportID, ticket.Raw)
	e.sess.SetExtra(ExtraTicketT, ticket.T)
	e.sess.SetExtra(ExtraTicketP, ticket.P)
	e.sess.SetExtra(ExtraProfile, ticket.P)
	return e.sendLogin(protocol.NewCommand(protocol.VerbUser, "TWN", "S", ticket.Raw))
}

// onLoginMessage handles the profile MSG that closes the handshake.
func (e *Engine) onLoginMessage(_ context.Context, msg protocol.InboundMessage) error {
	for _, line := range strings.Split(string(msg.Payload), "\r\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok || key == "" {
			continue
		}
		e.sess.SetExtra(key, value)
	}

	e.sess.AddEvent(session.EventLoginSucceed)
	e.setPhase(PhaseSteady)
	observability.RecordLogin("succeeded")
	log.Info().Msgf("engine.Engine.onLoginMessage id=%s signed in account=%q", e.id, e.sess.Account().Account)

	e.setStatus(e.sess.Account().Status)
	e.newRoster(e.sess, e, true).Start()
	return nil
}

func (e *Engine) setStatus(st status.Status) {
	e.sess.SetStatus(st)
	e.send(protocol.NewCommand(protocol.VerbChangeStatus, st.Code(), strconv.FormatUint(uint64(ClientID), 10), "0"))
}

func splitHostPort(addr string) (string, int, error) {
	host, portRaw, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 || port > 65535 || host == "" {
		return "", 0, fmt.Errorf("%w: address %q", protocol.ErrMalformed, addr)
	}
	return host, port, nil
}
