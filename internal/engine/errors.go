package engine

import "errors"

var (
	ErrSessionRequired     = errors.New("engine: session required")
	ErrTransportRequired   = errors.New("engine: transport required")
	ErrNegotiatorRequired  = errors.New("engine: negotiator required")
	ErrTransportClosed     = errors.New("engine: transport closed")
	ErrOutboundFull        = errors.New("engine: outbound queue full")
	ErrActionArgs          = errors.New("engine: invalid action arguments")
	ErrNotSignedIn         = errors.New("engine: not signed in")
	ErrSignedOut           = errors.New("engine: connection signed out")
	ErrUnknownConversation = errors.New("engine: invalid conversation id")
)
