/*
Package types defines the core data structures shared across Zeta.

This package contains the domain model described by the data model section of
the Zeta design: functions, the runner images built for them, the runner
containers started to serve them, and the error taxonomy every other package
reports through.

# Core Types

  - Function: a registered serverless unit, bound to exactly one RunnerImage
    and at most one RunnerContainer.
  - RunnerImage: the built container image for a function's handler.
  - RunnerContainer: a running (or recently running) instance serving
    invocations, tracked with its allocated host port and last heartbeat.
  - PortMapping: a container-port/host-port pair published for a container.
  - Error: a typed error carrying one of the Kind values, used uniformly by
    pkg/engine, pkg/storage and pkg/zeta so pkg/api can map failures
    to HTTP status codes without inspecting error strings.

All types are JSON-serializable and safe to read concurrently; mutation must
be synchronized by the caller (pkg/storage and pkg/zeta own that discipline).
*/
package types
