/*
Package health provides generic, checker-based readiness probing: an
HTTP checker and a TCP checker behind a common Checker interface.

pkg/zeta's waitReady drives both during a cold start:
NewRunnerPortChecker gates the first stage (the engine can return from
RunContainer before the published host port accepts connections), then
NewRunnerReadinessChecker polls the runner container's GET /is-running
until it answers or the 60s deadline elapses.
*/
package health
