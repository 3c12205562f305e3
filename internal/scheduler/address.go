package scheduler

import "sync/atomic"

// globalID is the process-wide monotonic counter every Address draws
// its id from: a plain atomic counter is enough since its lifecycle is
// the process itself.
var globalID uint64

func nextGlobalID() uint64 {
	return atomic.AddUint64(&globalID, 1)
}

// Address identifies one addressable executor instance: a type tag (so
// routing can dispatch on what kind of executor this is), a
// process-unique monotonic id, and a refcounted keeper. Release reports
// when the last holder has let go of an Address. Neither the Scheduler
// nor the resplitter uses Address.
type Address struct {
	TypeID    string
	ID        uint64
	keeper    *int32
}

// NewAddress allocates a fresh address of the given type with refcount 1.
func NewAddress(typeID string) Address {
	k := int32(1)
	return Address{TypeID: typeID, ID: nextGlobalID(), keeper: &k}
}

// Retain increments the address's refcount and returns the same address,
// for a caller that is about to hand out another reference to it.
func (a Address) Retain() Address {
	atomic.AddInt32(a.keeper, 1)
	return a
}

// Release decrements the refcount. It returns true exactly once, to the
// caller whose Release call observed the count drop to zero — that
// caller is responsible for telling the scheduler to drain the address.
func (a Address) Release() bool {
	return atomic.AddInt32(a.keeper, -1) == 0
}
