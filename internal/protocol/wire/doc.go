// Package wire owns gateway<->actuator transport helpers.
//
// Ownership boundary:
// - hello/hello.ack handshake and clock sync
// - goal/feedback/result/cancel message codecs
// - topic publish messages
// - transport timeouts and retry backoff
//
// All messages travel as frame.Frame with TLV payloads validated by schema.
// Responses reuse the request's message id and carry frame.FlagIsResponse.
package wire
