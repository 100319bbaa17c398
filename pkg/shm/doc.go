// Package shm implements the shared-memory transport: a pair of lock-free
// single-producer/single-consumer slot rings in a memory-mapped segment,
// signalled by futex-backed counting semaphores, with an out-of-band
// handshake over a filesystem rendezvous socket.
//
// Each connection uses one segment holding two rings (client-to-server and
// server-to-client) and four counting semaphores (items and spaces per
// ring). The dialer creates and owns the named resources; the listener's
// accept side only maps them. Resource names derive deterministically from
// an FNV-1a hash of the bus name plus a random per-connection id, which the
// dialer announces by writing exactly 16 ASCII hex bytes to the rendezvous
// socket.
//
// The transport is available on Unix-like hosts; Windows would use a file
// mapping plus a named pipe rendezvous and is not implemented.
package shm
