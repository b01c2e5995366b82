/*
Package pns implements the Port Name System: the in-memory allocator that
hands each cold-started runner container a free host TCP port.

PNS never survives a process restart and is owned entirely by this
package; nothing outside it ever holds a pointer into the table. Candidate
ports are probed with a short TCP connect so ports already bound by other
processes on the host are never handed out.
*/
package pns
