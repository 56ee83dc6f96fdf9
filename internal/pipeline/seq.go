package pipeline

import "sync/atomic"

// SeqAllocator hands out strictly monotonically increasing sequence numbers
// shared by every record type flowing through a single pipeline run
// (AudioFrame, Utterance, Transcript, Translation, SynthChunk all draw from
// the same counter, per the invariant that sequence numbers increase across
// every record type, not just within one).
type SeqAllocator struct {
	counter uint64
}

// Next returns the next sequence number, starting at 1.
func (a *SeqAllocator) Next() uint64 {
	return atomic.AddUint64(&a.counter, 1)
}
