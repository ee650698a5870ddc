package session

import "fmt"

type ActionID int

const (
	ActionLogin ActionID = iota
	ActionLogout
	ActionChangeStatus
	ActionBlockContact
	ActionAddContact
	ActionRemoveContact
	ActionSetContactAlias
	ActionQuit
	ActionAddToGroup
	ActionRemoveFromGroup
	ActionMoveToGroup
	ActionRenameGroup
	ActionAddGroup
	ActionRemoveGroup
	ActionSetNick
	ActionSetMessage
	ActionSetPicture
	ActionSetPreferences
	ActionNewConversation
	ActionSendMessage
)

var actionNames = map[ActionID]string{
	ActionLogin:           "login",
	ActionLogout:          "logout",
	ActionChangeStatus:    "change status",
	ActionBlockContact:    "block contact",
	ActionAddContact:      "add contact",
	ActionRemoveContact:   "remove contact",
	ActionSetContactAlias: "set contact alias",
	ActionQuit:            "quit",
	ActionAddToGroup:      "add to group",
	ActionRemoveFromGroup: "remove from group",
	ActionMoveToGroup:     "move to group",
	ActionRenameGroup:     "rename group",
	ActionAddGroup:        "add group",
	ActionRemoveGroup:     "remove group",
	ActionSetNick:         "set nick",
	ActionSetMessage:      "set message",
	ActionSetPicture:      "set picture",
	ActionSetPreferences:  "set preferences",
	ActionNewConversation: "new conversation",
	ActionSendMessage:     "send message",
}

func (id ActionID) String() string {
	if name, ok := actionNames[id]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(id))
}

// ParseActionID resolves an action by its display name.
func ParseActionID(name string) (ActionID, bool) {
	for id, n := range actionNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// Action is one client request for the engine.
type Action struct {
	ID   ActionID
	Args []any
}

func NewAction(id ActionID, args ...any) Action {
	return Action{ID: id, Args: args}
}
