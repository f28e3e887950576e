package kafka

import "slices"

// watermark tracks in-flight offsets per partition and yields the highest
// offset that may be committed: one past the longest completed prefix.
// Offsets of one partition must be tracked in ascending order.
type watermark struct {
	parts map[int32]*partitionMarks
}

type partitionMarks struct {
	inflight []int64
	done     map[int64]struct{}
	// next is the offset to commit, or -1 when nothing completed yet.
	next int64
	// committed is the last offset handed to a commit.
	committed int64
}

func newWatermark() *watermark {
	return &watermark{parts: make(map[int32]*partitionMarks)}
}

func (w *watermark) partition(p int32) *partitionMarks {
	pm, ok := w.parts[p]
	if !ok {
		pm = &partitionMarks{done: make(map[int64]struct{}), next: -1, committed: -1}
		w.parts[p] = pm
	}
	return pm
}

// track records a fetched offset.
func (w *watermark) track(p int32, offset int64) {
	pm := w.partition(p)
	pm.inflight = append(pm.inflight, offset)
}

// complete marks offset done and advances the commit point over the
// completed prefix. Unknown partitions or offsets are ignored.
func (w *watermark) complete(p int32, offset int64) {
	pm, ok := w.parts[p]
	if !ok {
		return
	}
	if _, found := slices.BinarySearch(pm.inflight, offset); !found {
		return
	}
	pm.done[offset] = struct{}{}
	for len(pm.inflight) > 0 {
		head := pm.inflight[0]
		if _, ok := pm.done[head]; !ok {
			break
		}
		delete(pm.done, head)
		pm.inflight = pm.inflight[1:]
		pm.next = head + 1
	}
}

// pending returns the number of tracked offsets not yet committable.
func (w *watermark) pending() int {
	n := 0
	for _, pm := range w.parts {
		n += len(pm.inflight)
	}
	return n
}

// committable returns the commit offset of every partition that advanced
// since the last call to markCommitted.
func (w *watermark) committable() map[int32]int64 {
	out := make(map[int32]int64)
	for p, pm := range w.parts {
		if pm.next > pm.committed {
			out[p] = pm.next
		}
	}
	return out
}

// markCommitted records that offsets were committed.
func (w *watermark) markCommitted(offsets map[int32]int64) {
	for p, o := range offsets {
		if pm, ok := w.parts[p]; ok && o > pm.committed {
			pm.committed = o
		}
	}
}

// forget drops the state of partitions no longer assigned to this member.
func (w *watermark) forget(partitions ...int32) {
	for _, p := range partitions {
		delete(w.parts, p)
	}
}
