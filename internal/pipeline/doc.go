// Package pipeline runs ordered hook chains around each proxied exchange.
//
// Three phases exist: request (before the transport engine dispatches
// upstream), response (after the origin answered, before the body goes
// to the client), and error (invoked once when any handler of another
// phase fails). Handlers run strictly in registration order and share
// one mutable Exchange, so later handlers observe earlier mutations.
//
// A failing handler is logged, escalated once to the error phase, and
// then returned to the transport code, which owns exchange termination.
// Nothing in this package terminates the process.
package pipeline
