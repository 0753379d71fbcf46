// Package proxy implements the same-origin relay between browsers and the
// lattice crypto oracle.
//
// Only the keygen, encrypt and decrypt verbs are forwarded. Any other verb is
// answered locally with 400 {"error":"Invalid action"} and never reaches the
// upstream. Upstream failures are reported with the upstream status and
// {"error":"Upstream error: <status text>"}; anything else that goes wrong,
// including a panic in the handler, becomes 500 {"error":"Internal Server
// Error"}.
//
// Request and response bodies carry key material and are never logged.
package proxy
