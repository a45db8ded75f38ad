package hlsthumb

import "time"

// removalTimeline is a compact sliding window over removal instants:
// times[i] is the wall clock at which sequence number offset+i left the
// playlist window. Once recorded, an entry is never re-added.
type removalTimeline struct {
	initialized bool
	offset      uint64
	times       []time.Time
}

// initialize anchors the timeline at the first present sequence number of
// the first observed playlist, so future removals densely extend times.
func (t *removalTimeline) initialize(first uint64) {
	if t.initialized {
		return
	}
	t.initialized = true
	t.offset = first
}

// markThrough records every not yet recorded sequence number below first
// as removed now. Returns how many entries were added.
func (t *removalTimeline) markThrough(first uint64, now time.Time) int {
	if !t.initialized {
		return 0
	}

	added := 0
	for sn := t.offset + uint64(len(t.times)); sn < first; sn++ {
		t.times = append(t.times, now)
		added++
	}
	return added
}

// reap drops expired entries from the front and reports the highest
// sequence number reaped, if any.
func (t *removalTimeline) reap(now time.Time, expire time.Duration) (uint64, bool) {
	reaped := 0
	for reaped < len(t.times) && !t.times[reaped].Add(expire).After(now) {
		reaped++
	}

	if reaped == 0 {
		return 0, false
	}

	highest := t.offset + uint64(reaped) - 1
	t.offset += uint64(reaped)
	t.times = t.times[reaped:]
	return highest, true
}

// SegmentRecord accumulates the known thumbnails of one segment, ordered
// by time ascending. RemovalTime is set once the segment left the window.
type SegmentRecord struct {
	SN          uint64
	RemovalTime *time.Time
	Thumbnails  []Thumbnail
}

// recordSet keeps segment records in insertion order with sn lookup.
type recordSet struct {
	list []*SegmentRecord
	bySn map[uint64]*SegmentRecord
}

func newRecordSet() *recordSet {
	return &recordSet{
		bySn: map[uint64]*SegmentRecord{},
	}
}

func (r *recordSet) add(thumbnail Thumbnail) *SegmentRecord {
	record, ok := r.bySn[thumbnail.SN]
	if !ok {
		record = &SegmentRecord{SN: thumbnail.SN}
		r.bySn[thumbnail.SN] = record
		r.list = append(r.list, record)
	}

	record.Thumbnails = append(record.Thumbnails, thumbnail)
	return record
}

func (r *recordSet) nextIndex(sn uint64) int {
	record, ok := r.bySn[sn]
	if !ok {
		return 0
	}
	return len(record.Thumbnails)
}

// markRemoved stamps records below first that are not stamped yet.
func (r *recordSet) markRemoved(first uint64, now time.Time) {
	for _, record := range r.list {
		if record.SN < first && record.RemovalTime == nil {
			removedAt := now
			record.RemovalTime = &removedAt
		}
	}
}

// dropThrough removes and returns every record with sn up to and
// including highest.
func (r *recordSet) dropThrough(highest uint64) []*SegmentRecord {
	var dropped []*SegmentRecord
	kept := r.list[:0]

	for _, record := range r.list {
		if record.SN <= highest {
			dropped = append(dropped, record)
			delete(r.bySn, record.SN)
		} else {
			kept = append(kept, record)
		}
	}

	r.list = kept
	return dropped
}

func (r *recordSet) empty() bool {
	return len(r.list) == 0
}
