// Package coordinator owns the goal lifecycle for one actuator.
//
// Ownership boundary:
// - the single session slot and its reject policy
// - goal dispatch, acceptance and terminal status
// - feedback monitoring and the stale-feedback watchdog
// - external and watchdog cancel paths
//
// Lifecycle order:
// - reserve -> wait available -> submit -> accepted -> terminal
//
// - the first of result, watchdog timeout and external cancel to finish decides the status.
//
// Coordinator does not own the transport; it drives any action.Client.
package coordinator
