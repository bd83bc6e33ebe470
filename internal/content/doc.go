// Package content rewrites fetched bodies so every URL a browser finds
// in them routes back through the proxy gateway.
//
// Dispatch is by declared content type: HTML gets a full tree walk with
// client-side shim injection, CSS and JavaScript get textual pattern
// rewrites, JSON gets an order-preserving recursive walk, and anything
// else passes through untouched. Rewriting never fails an exchange:
// internal errors are recovered, logged, and answered with the original
// bytes, because serving the content outranks rewriting it.
package content
