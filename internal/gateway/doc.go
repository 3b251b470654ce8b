// Package gateway owns the HTTP edge.
//
// Ownership boundary:
// - user and task publish routes
// - execute/cancel/goal routes over the coordinator
// - health, readiness and metrics endpoints
// - bearer auth on write routes
//
// Service wires the remote actuator client, the coordinator and the router.
package gateway
