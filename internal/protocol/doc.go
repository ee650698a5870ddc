// Package protocol owns the notification-server wire contract.
//
// Ownership boundary:
// - inbound message / outbound command records
// - verb constants
// - line + length-prefixed payload codec
package protocol
