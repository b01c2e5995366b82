/*
Package api implements the control-plane HTTP surface on a plain
http.ServeMux with Go 1.22 method+path patterns, deliberately not
pulling in a routing framework since depth there is not the point of this
system.

The mux is wrapped in a small Server type carrying read/write/idle
timeouts and JSON-encoded typed responses. Every handler is instrumented
through APIRequestsTotal and APIRequestDuration.
*/
package api
