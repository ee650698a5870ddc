package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/danmuck/msnctl/internal/observability"
	"github.com/danmuck/msnctl/internal/protocol"
	"github.com/danmuck/msnctl/internal/roster"
	"github.com/danmuck/msnctl/internal/session"
	"github.com/danmuck/msnctl/internal/status"
	"github.com/rs/zerolog/log"
)

type actionHandler struct {
	arity int
	fn    func(ctx context.Context, args []any) error
}

func (e *Engine) buildActionHandlers() map[session.ActionID]actionHandler {
	return map[session.ActionID]actionHandler{
		session.ActionLogin:           {arity: 3, fn: e.actionLogin},
		session.ActionLogout:          {arity: 0, fn: e.actionLogout},
		session.ActionChangeStatus:    {arity: 1, fn: e.actionChangeStatus},
		session.ActionSetNick:         {arity: 1, fn: e.actionSetNick},
		session.ActionSetMessage:      {arity: 1, fn: e.actionSetMessage},
		session.ActionAddContact:      {arity: 1, fn: e.actionAddContact},
		session.ActionRemoveContact:   {arity: 1, fn: e.actionRemoveContact},
		session.ActionNewConversation: {arity: 1, fn: e.actionNewConversation},
		session.ActionSendMessage:     {arity: 2, fn: e.actionSendMessage},
		session.ActionBlockContact:    {arity: 1, fn: e.actionUnsupported},
		session.ActionSetContactAlias: {arity: 2, fn: e.actionUnsupported},
		session.ActionAddToGroup:      {arity: 2, fn: e.actionUnsupported},
		session.ActionRemoveFromGroup: {arity: 2, fn: e.actionUnsupported},
		session.ActionMoveToGroup:     {arity: 3, fn: e.actionUnsupported},
		session.ActionRenameGroup:     {arity: 2, fn: e.actionUnsupported},
		session.ActionAddGroup:        {arity: 1, fn: e.actionUnsupported},
		session.ActionRemoveGroup:     {arity: 1, fn: e.actionUnsupported},
		session.ActionSetPicture:      {arity: 1, fn: e.actionUnsupported},
		session.ActionSetPreferences:  {arity: 1, fn: e.actionUnsupported},
	}
}

// HandleAction runs one client action. It returns false only for
// ActionQuit. Any failure becomes exactly one error event.
func (e *Engine) HandleAction(ctx context.Context, a session.Action) (keepRunning bool) {
	name := a.ID.String()
	if a.ID == session.ActionQuit {
		observability.RecordAction(name, "ok")
		log.Info().Msgf("engine.Engine.HandleAction id=%s quit", e.id)
		return false
	}

	handler, ok := e.actionHandlers[a.ID]
	if !ok {
		observability.RecordAction(name, "unknown")
		e.sess.AddEvent(session.EventError, fmt.Sprintf("unknown action %s", name))
		return true
	}
	if len(a.Args) != handler.arity {
		observability.RecordAction(name, "bad_args")
		e.sess.AddEvent(session.EventError, fmt.Sprintf("action %s expects %d arguments, got %d", name, handler.arity, len(a.Args)))
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			observability.RecordAction(name, "panic")
			log.Error().Msgf("engine.Engine.HandleAction id=%s action=%q recovered=%v\n%s", e.id, name, r, debug.Stack())
			e.sess.AddEvent(session.EventError, fmt.Sprintf("action %s failed", name))
			keepRunning = true
		}
	}()

	if err := handler.fn(ctx, a.Args); err != nil {
		result := "error"
		if errors.Is(err, ErrActionArgs) {
			result = "bad_args"
		}
		observability.RecordAction(name, result)
		log.Warn().Msgf("engine.Engine.HandleAction id=%s action=%q err=%v", e.id, name, err)
		e.sess.AddEvent(session.EventError, describe(err), name)
		return true
	}
	observability.RecordAction(name, "ok")
	return true
}

func describe(err error) string {
	return strings.TrimPrefix(err.Error(), "engine: ")
}

func (e *Engine) requireSteady() error {
	if e.Phase() != PhaseSteady {
		return ErrNotSignedIn
	}
	return nil
}

func (e *Engine) actionLogin(_ context.Context, args []any) error {
	if e.Phase() == PhaseSignedOut {
		return ErrSignedOut
	}
	if e.Phase() != PhaseIdle {
		return fmt.Errorf("engine: login while %s", e.Phase())
	}
	account, err := argString(args, 0)
	if err != nil {
		return err
	}
	password, err := argString(args, 1)
	if err != nil {
		return err
	}
	st, err := argStatus(args, 2)
	if err != nil {
		return err
	}
	return e.startLogin(account, password, st)
}

func (e *Engine) actionLogout(_ context.Context, _ []any) error {
	if err := e.requireSteady(); err != nil {
		return err
	}
	e.send(protocol.NewCommand(protocol.VerbSignOut))
	e.signOut("logout")
	return nil
}

func (e *Engine) actionChangeStatus(_ context.Context, args []any) error {
	if err := e.requireSteady(); err != nil {
		return err
	}
	st, err := argStatus(args, 0)
	if err != nil {
		return err
	}
	e.setStatus(st)
	return nil
}

func (e *Engine) actionSetNick(_ context.Context, args []any) error {
	if err := e.requireSteady(); err != nil {
		return err
	}
	nick, err := argString(args, 0)
	if err != nil {
		return err
	}
	if strings.TrimSpace(nick) == "" {
		return fmt.Errorf("%w: empty nick", ErrActionArgs)
	}
	_, err = e.send(protocol.NewCommand(protocol.VerbProperty, "MFN", url.PathEscape(nick)))
	return err
}

func (e *Engine) actionSetMessage(_ context.Context, args []any) error {
	if err := e.requireSteady(); err != nil {
		return err
	}
	text, err := argString(args, 0)
	if err != nil {
		return err
	}
	payload := "<Data><PSM>" + escapeXML(text) + "</PSM><CurrentMedia></CurrentMedia></Data>"
	_, err = e.send(protocol.NewCommand(protocol.VerbPersonalUpdate).WithPayload([]byte(payload)))
	return err
}

func (e *Engine) actionAddContact(_ context.Context, args []any) error {
	account, err := argAccount(args, 0)
	if err != nil {
		return err
	}
	contact := session.Contact{Account: account, Status: status.Offline}
	if e.Phase() == PhaseSteady {
		payload, err := roster.BuildADL([]session.Contact{contact})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrActionArgs, err)
		}
		if _, err := e.send(protocol.NewCommand(protocol.VerbAddList).WithPayload(payload)); err != nil {
			return err
		}
	}
	e.sess.Contacts().Add(contact)
	e.sess.AddEvent(session.EventContactAdded, account)
	return nil
}

func (e *Engine) actionRemoveContact(_ context.Context, args []any) error {
	account, err := argAccount(args, 0)
	if err != nil {
		return err
	}
	contact, ok := e.sess.Contacts().Get(account)
	if !ok {
		return fmt.Errorf("%w: unknown contact %q", ErrActionArgs, account)
	}
	if e.Phase() == PhaseSteady {
		payload, err := roster.BuildADL([]session.Contact{contact})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrActionArgs, err)
		}
		if _, err := e.send(protocol.NewCommand(protocol.VerbRemoveList).WithPayload(payload)); err != nil {
			return err
		}
	}
	e.sess.Contacts().Remove(account)
	e.sess.AddEvent(session.EventContactRemoved, account)
	return nil
}

func (e *Engine) actionNewConversation(_ context.Context, args []any) error {
	if err := e.requireSteady(); err != nil {
		return err
	}
	account, err := argAccount(args, 0)
	if err != nil {
		return err
	}
	return e.requestConversation(account)
}

func (e *Engine) actionSendMessage(_ context.Context, args []any) error {
	id, err := argInt(args, 0)
	if err != nil {
		return err
	}
	text, err := argString(args, 1)
	if err != nil {
		return err
	}
	return e.sendConversationMessage(id, text)
}

func (e *Engine) actionUnsupported(_ context.Context, args []any) error {
	log.Warn().Msgf("engine.Engine.actionUnsupported id=%s args=%d", e.id, len(args))
	return nil
}

func argString(args []any, i int) (string, error) {
	switch v := args[i].(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("%w: arg %d is %T, want string", ErrActionArgs, i, args[i])
	}
}

func argAccount(args []any, i int) (string, error) {
	s, err := argString(args, i)
	if err != nil {
		return "", err
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(s, "@") || strings.ContainsAny(s, " \r\n") {
		return "", fmt.Errorf("%w: invalid account %q", ErrActionArgs, s)
	}
	return s, nil
}

func argInt(args []any, i int) (int, error) {
	switch v := args[i].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: arg %d is %T %v, want int", ErrActionArgs, i, args[i], args[i])
}

func argStatus(args []any, i int) (status.Status, error) {
	switch v := args[i].(type) {
	case status.Status:
		if v.Valid() {
			return v, nil
		}
	case string:
		if st, err := status.Parse(v); err == nil {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: arg %d is %T %v, want status", ErrActionArgs, i, args[i], args[i])
}

var _ roster.Sink = (*Engine)(nil)
