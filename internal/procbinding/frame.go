// Package procbinding implements the process concurrency binding from spec
// §5: a worker that runs as a separate OS process (the recursid binary,
// re-invoked with a hidden -recursid-worker flag) instead of a goroutine.
//
// The dispatcher and lifecycle controller are written once against
// queue.ObjectQueue and dispatcher.Handle, and never know which binding
// backs a given worker. For the thread binding that contract is met by
// module.Base's queue.Chan queues and a real sync.Mutex; this package meets
// the same contract across a process boundary: Handle.ToWorker/FromWorker
// are backed by a gob-framed pipe pair over the child's stdin/stdout, and
// Handle.Lock's "held means nothing is mid-transfer" guarantee is replaced
// by an ACK-on-idle protocol (see pipeSend/pipeRecv in bridge.go).
package procbinding

import "github.com/kestrelio/recursid/internal/object"

// frameKind tags a wire frame. Only three kinds ever cross the pipe: a
// carried object, an idle announcement, and a die command — the full
// vocabulary a process-bound worker needs, mirroring queue.Command's own
// small vocabulary.
type frameKind int

const (
	frameObject frameKind = iota
	frameIdle
	frameDie
)

// frame is the unit exchanged over both directions of a worker's pipe
// pair. encoding/gob self-delimits each Encode/Decode call on a persistent
// stream, so no separate length prefix is needed; gob is used (rather than
// the corpus's msgpack library) because object.Object values are Go
// interfaces and object.go already registers every concrete kind with
// encoding/gob via gob.Register — msgpack has no equivalent registration
// anywhere in this codebase for decoding into an interface field.
type frame struct {
	Kind frameKind
	Obj  object.Object
}
