// Package actuator owns the simulated actuator server.
//
// Ownership boundary:
// - per-connection peers and the hello handshake
// - goal execution, feedback cadence and results
// - cancel replies for running, finished and unknown goals
// - recorded topic publishes
package actuator
