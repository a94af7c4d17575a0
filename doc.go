// Package roomsync is the client-side synchronization core of a real-time,
// multi-user virtual tabletop. It keeps a set of shared, mutable collections
// (scene objects, chat logs, actors, room settings, card state and so on)
// consistent across concurrently connected clients, using a remote document
// store reached over one persistent WebSocket connection.
//
// The package is organized around three layers:
//
//   - connection.Channel multiplexes request/response exchanges and
//     subscription pushes over the socket.
//   - Collection is the typed per-collection controller: CRUD plus the
//     touch/lock protocol, and live local-cache mirroring.
//   - Room composes the room's collections into one consistent snapshot and
//     carries the composite multi-document operations.
//
// Every mutation follows the touch protocol: reserve or lock a document
// (touch / touch-modify), submit the change, release. The server is the lock
// arbiter; a touch-modify rejected because another client holds the lock is
// the one expected, recoverable failure class.
package roomsync
