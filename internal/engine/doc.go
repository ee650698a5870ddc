// Package engine runs one notification-server connection.
//
// Ownership boundary:
// - login negotiation (VER, CVR, XFR NS, USR TWN, login MSG)
// - steady-state verb dispatch and presence projection
// - client action processing
// - conversation handoff and local conversation ids
//
// A single goroutine owns the loop in Run; all protocol state is touched
// only from there. Session state shared with other goroutines goes through
// the session package.
package engine
