// Package socketserver serves the IPC protocol on the local endpoint the UI
// process connects to.
//
// # Architecture
//
//   - Server: binds the endpoint, accepts connections up to the configured
//     limit and coordinates shutdown
//   - Hub: tracks live connections and fans events out to them
//   - Client: one connection, with a read pump that answers requests in
//     order and a write pump that owns the socket for writing
//
// # Framing
//
// Every frame is one JSON envelope terminated by a newline, in both
// directions:
//
//	{"id":"...","type":"request","method":"ping","params":null,"result":null,"error":null}\n
//
// A frame that cannot be decoded is answered with an error response whose id
// is "unknown" and the connection stays open. Frames longer than the
// configured maximum are discarded up to the next newline and answered the
// same way.
//
// # Events
//
// Broadcast queues an event on every connection. Responses and events share
// the write pump, so frames never interleave. A connection whose queue is
// full loses the event rather than stalling the others.
//
// # Shutdown
//
// Stop closes the listener, lets every connection finish the request it is
// handling and flush the queued frames, then closes the connections.
package socketserver
