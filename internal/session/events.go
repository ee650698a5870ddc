package session

import (
	"fmt"
	"time"
)

type EventKind int

const (
	EventLoginStarted EventKind = iota
	EventLoginInfo
	EventLoginSucceed
	EventLoginFailed
	EventDisconnected
	EventUserListReady
	EventContactAttrChanged
	EventContactAdded
	EventContactRemoved
	EventStatusChangeSucceed
	EventNickChangeSucceed
	EventMessageChangeSucceed
	EventError
	EventConvStarted
	EventConvEnded
	EventConvMessage
)

var eventNames = map[EventKind]string{
	EventLoginStarted:         "login started",
	EventLoginInfo:            "login info",
	EventLoginSucceed:         "login succeed",
	EventLoginFailed:          "login failed",
	EventDisconnected:         "disconnected",
	EventUserListReady:        "user list ready",
	EventContactAttrChanged:   "contact attr changed",
	EventContactAdded:         "contact added",
	EventContactRemoved:       "contact removed",
	EventStatusChangeSucceed:  "status change succeed",
	EventNickChangeSucceed:    "nick change succeed",
	EventMessageChangeSucceed: "message change succeed",
	EventError:                "error",
	EventConvStarted:          "conv started",
	EventConvEnded:            "conv ended",
	EventConvMessage:          "conv message",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one notification from the engine to the client.
type Event struct {
	Kind EventKind
	Args []any
	At   time.Time
}

// Arg returns Args[i] formatted as a string, or "".
func (e Event) Arg(i int) string {
	if i < 0 || i >= len(e.Args) {
		return ""
	}
	return fmt.Sprint(e.Args[i])
}
