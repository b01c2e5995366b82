/*
Package engine is the thin contract Zeta uses to talk to the local
container engine over its UNIX-socket HTTP API.

It exposes only the operations the control plane needs: building and
listing images, running/inspecting/stopping/removing containers, and
creating the shared bridge network. Every other Zeta package depends on
the Engine interface, never on *client.Client directly, so tests can swap
in a fake.

Failures are classified into two kinds via the Zeta error taxonomy
(pkg/types): KindEngineUnavailable for transient daemon/connectivity
failures, and KindNotFound for permanent "no such image/container/network"
failures. Everything else is wrapped as-is.
*/
package engine
