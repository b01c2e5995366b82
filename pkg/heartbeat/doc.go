/*
Package heartbeat implements both sides of Zeta's UNIX-socket heartbeat
channel.

Listener binds a stream UNIX socket, accepts connections serially, reads
each in up-to-1KiB chunks until EOF, parses one JSON object per connection,
and forwards it to the metadata store. Emit is the client half used by the
runner agent after each successful invocation.

A bind-mounted UNIX socket is used because containers on the shared bridge
network cannot universally reach the host by a stable name. The channel is
a stream socket rather than datagrams to avoid message-size fragility, and
Listener atomically replaces any stale socket file left by a previous run
before binding.
*/
package heartbeat
