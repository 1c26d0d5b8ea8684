// Package object defines the typed records that flow through the recursid
// dispatch fabric: every record carries a TTL and an ancestry string, and
// dispatch is by declared Kind compatibility rather than a closed type switch.
package object

import (
	"encoding/gob"
	"fmt"
	"sync"
)

// Kind is a variant tag drawn from a closed-but-extensible registry.
// New kinds register themselves at init time via RegisterKind; the
// dispatcher never needs to know the concrete set.
type Kind string

// Built-in kinds.
const (
	KindLogEntry       Kind = "LogEntry"
	KindDeathLog       Kind = "DeathLog"
	KindJSONRecord     Kind = "JSONRecord"
	KindFluentdRecord  Kind = "FluentdRecord"
	KindURLRef         Kind = "URLRef"
	KindBinaryBlob     Kind = "BinaryBlob"
	KindDownloadedBlob Kind = "DownloadedBlob"
)

var (
	registryMu sync.RWMutex
	registry   = map[Kind]struct{}{
		KindLogEntry:       {},
		KindDeathLog:       {},
		KindJSONRecord:     {},
		KindFluentdRecord:  {},
		KindURLRef:         {},
		KindBinaryBlob:     {},
		KindDownloadedBlob: {},
	}
)

// RegisterKind adds a new object kind to the registry. Modules that define
// their own object kinds call this from an init function; the dispatcher
// and module base never need to be touched to support a new kind.
//
// sample is also registered with encoding/gob so the kind can cross a
// process-binding pipe (see internal/procbinding); pass
// a zero-value pointer of the concrete type, e.g. RegisterKind(KindFoo, &Foo{}).
func RegisterKind(k Kind, sample Object) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[k] = struct{}{}
	gob.Register(sample)
}

func init() {
	gob.Register(&LogEntry{})
	gob.Register(&DeathLog{})
	gob.Register(&JSONRecord{})
	gob.Register(&FluentdRecord{})
	gob.Register(&URLRef{})
	gob.Register(&BinaryBlob{})
	gob.Register(&DownloadedBlob{})
}

// IsRegistered reports whether k has been registered.
func IsRegistered(k Kind) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[k]
	return ok
}

// Object is a tagged record traversing the pipeline. Implementations MUST
// be safe to copy by value at emission time: Clone returns a copy that
// shares no mutable state with the original, so a single object handed to
// several modules during dispatcher fan-out never aliases across workers.
type Object interface {
	Kind() Kind
	TTL() int
	SetTTL(int)
	Ancestors() string
	SetAncestors(string)
	// String renders a human-readable, diagnostic-only trace of this
	// object. It is never parsed back — ancestors is opaque by design.
	String() string
	// Clone returns a deep copy with no shared mutable payload.
	Clone() Object
}

// Base is embedded by every concrete object kind and implements the
// ttl/ancestors bookkeeping common to all of them.
type Base struct {
	ttl       int
	ancestors string
}

// TTL returns the object's remaining re-emission budget.
func (b *Base) TTL() int { return b.ttl }

// SetTTL sets the object's remaining re-emission budget.
func (b *Base) SetTTL(ttl int) { b.ttl = ttl }

// Ancestors returns the diagnostic parent-chain trace.
func (b *Base) Ancestors() string { return b.ancestors }

// SetAncestors sets the diagnostic parent-chain trace.
func (b *Base) SetAncestors(a string) { b.ancestors = a }

// Emit sets the invariants of a freshly produced object: ttl = startTTL,
// ancestors = "". Producers call this on every object they inject.
func Emit(o Object, startTTL int) {
	o.SetTTL(startTTL)
	o.SetAncestors("")
}

// Reemit sets the invariants of a re-emitted child: child.ttl = parent.ttl-1,
// child.ancestors = stringify(parent).
func Reemit(child Object, parent Object) {
	child.SetTTL(parent.TTL() - 1)
	child.SetAncestors(parent.String())
}

// DeathLog is the synthetic terminal record produced when an object's TTL
// is exhausted or no module accepts it. It is fixed at ttl=0 and is never
// re-emitted further, only logged.
type DeathLog struct {
	Base
	Original string // stringified form of the object that died
	Reason   string // "ttl_exhausted" | "no_handler"
}

// NewDeathLog wraps original as a terminal DeathLog for reason.
func NewDeathLog(original Object, reason string) *DeathLog {
	d := &DeathLog{Original: original.String(), Reason: reason}
	d.SetTTL(0)
	d.SetAncestors(original.String())
	return d
}

func (d *DeathLog) Kind() Kind { return KindDeathLog }

func (d *DeathLog) String() string {
	return fmt.Sprintf("DeathLog(reason=%s, original=%s)", d.Reason, d.Original)
}

func (d *DeathLog) Clone() Object {
	c := *d
	return &c
}
