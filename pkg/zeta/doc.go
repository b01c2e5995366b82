/*
Package zeta implements the control-plane orchestrator: CreateZeta,
DeleteZeta, ColdStart, WarmStart, Invoke, ListZetas, and GetZeta.

Service coordinates the metadata store, the engine adapter, the port
allocator, and the image builder behind a per-function lock so concurrent
invocations of a cold function never double-start it.
*/
package zeta
