// Package session holds the state shared between the connection engine and
// whatever drives it.
//
// Ownership boundary:
// - account credentials and own status
// - contact directory
// - event sink (engine -> client) and action queue (client -> engine)
// - extras scratch map for login artifacts
//
// Every exported method is safe for concurrent use.
package session
