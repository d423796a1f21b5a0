// Package stream broadcasts delivered change events to WebSocket
// subscribers. The Hub fans each event out to every connected client;
// slow clients are dropped rather than allowed to stall the
// broadcast loop.
package stream
