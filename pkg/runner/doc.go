/*
Package runner implements the in-container runner agent: a small HTTP
server listening on the fixed container port that serves /is-running and
/run, and emits a heartbeat after each successful invocation.

Go cannot load and execute arbitrary Python source in-process, so the
agent does not implement the handler loader itself. It launches and
supervises a long-lived python3 harness (baked into the image by
pkg/imagebuilder) and speaks one JSON object per line over the
subprocess's stdin/stdout.
*/
package runner
