/*
Package reaper periodically scans the metadata store for runner containers
that have gone idle and stops and removes them.

Reaper is a ticker-driven background loop with Start/Stop and a single
reap pass per tick. A failure reaping one container is logged and the
pass continues with the rest.
*/
package reaper
