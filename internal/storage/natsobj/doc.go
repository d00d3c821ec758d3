// Package natsobj connects sharefs to NATS JetStream object stores.
//
// A session is a NATS connection with its JetStream context, a share is an
// object store bucket and a handle is the object's info. Reads keep one
// object reader open and continue it while requests stay contiguous; any
// other position reopens the object and skips forward, which is the expensive
// seek the read-ahead pipeline exists to avoid. Writes are streamed through
// an io.Pipe into ObjectStore.Put and committed on close.
package natsobj
