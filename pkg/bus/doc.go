// Package bus is the in-process publish/subscribe dispatcher that connects
// the modules of the integration hub.
//
// A Bus is constructed explicitly and closed at shutdown. Handlers register
// per event type under a stable handler ID; each gets a bounded queue and
// its own workers. Publish returns once every matching handler has accepted
// the event. When a handler succeeds the bus appends exactly one audit
// record for the (event, handler) pair; failures are handed to a
// FailureHandler such as the retry manager.
package bus
