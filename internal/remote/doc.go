// Package remote owns the gateway side of the actuator link.
//
// Ownership boundary:
// - dialing, handshake and reconnect
// - request/response correlation by message id
// - goal handles, feedback and result fan-out
//
// Client implements action.Client over the framed wire protocol.
package remote
