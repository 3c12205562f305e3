package scheduler

import "context"

// ExecutorType distinguishes executors that can start processing
// packets immediately from ones whose first call must be fed one
// "init" packet common to the whole shard (e.g. a bucket's shared
// header/metadata).
type ExecutorType int

const (
	SimplePacketsProcessing ExecutorType = iota
	NeedsInitPacket
)

// Send is how an Executor hands a finished OutputPacket to whichever
// downstream Address it targets; the Send function supplied by the
// caller decides what that means, the Scheduler does no routing.
type Send[O any] func(addr Address, pkt *Packet[O])

// Executor is the scheduler's unit of work. Go generics stand in for
// the associated input/output types an executor implementation needs:
// I and O are InputPacket/OutputPacket, and any global/memory/build
// parameters a phase needs are left as plain struct fields on the
// concrete executor rather than further type parameters, since a phase
// only ever has one fixed set of each.
type Executor[I, O any] interface {
	// Type reports whether this executor needs a priming packet before
	// Execute is ever called.
	Type() ExecutorType
	// BasePriority and PriorityMultiplier feed the scheduler's
	// effective-priority formula: BasePriority + Multiplier*queued.
	BasePriority() int
	PriorityMultiplier() int
	// StrictPoolAlloc reports whether this executor's output pool
	// should block allocation rather than over-commit.
	StrictPoolAlloc() bool

	// PreExecute runs once per group, before any Execute call, and is
	// only invoked at all when Type() == NeedsInitPacket.
	PreExecute(ctx context.Context, init *Packet[I], send Send[O]) error
	// Execute processes one input packet.
	Execute(ctx context.Context, in *Packet[I], send Send[O]) error
	// Finalize runs once a group's input address has fully drained.
	Finalize(ctx context.Context, send Send[O]) error

	// TotalMemory reports this executor's current memory footprint, in
	// bytes, so the scheduler can cap concurrently in-flight groups.
	TotalMemory() int64
}

// Group bundles one executor instance with its queue depth; the
// scheduler reads QueuedInputs to compute effective priority.
type Group[I, O any] struct {
	Addr         Address
	Exec         Executor[I, O]
	QueuedInputs func() int
}

// EffectivePriority implements BASE_PRIORITY + PACKET_PRIORITY_MULTIPLIER * queued.
func EffectivePriority[I, O any](g *Group[I, O]) int {
	return g.Exec.BasePriority() + g.Exec.PriorityMultiplier()*g.QueuedInputs()
}
