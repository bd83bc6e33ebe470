// Package rewrite translates origin URLs into proxy gateway URLs.
//
// The engine resolves relative references against a target page, applies
// the configured domain blocklist, and emits gateway URLs of the form
// {proxyBase}/gateway?url=<encoded absolute URL>. URLs it cannot or must
// not touch (non-http schemes, unparseable input, blocked hosts) pass
// through unchanged; the engine never fails an exchange.
package rewrite
