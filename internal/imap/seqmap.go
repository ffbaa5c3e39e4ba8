package imap

// SeqMap is a session's private view of a selected mailbox's sequence
// number space (spec §4.7: "sequence numbers are dynamic per session view
// of the current mailbox"). It is snapshotted on SELECT/EXAMINE and
// mutated only by EXPUNGE within that session — the concrete type named
// in SPEC_FULL.md's "sequence number equals UID shortcut" decision.
type SeqMap struct {
	uids []uint32 // index 0 == sequence number 1
}

// NewSeqMap builds a SeqMap from folder placements ordered by sequence.
func NewSeqMap(uids []uint32) *SeqMap {
	cp := make([]uint32, len(uids))
	copy(cp, uids)
	return &SeqMap{uids: cp}
}

// Len returns the current EXISTS count.
func (m *SeqMap) Len() int { return len(m.uids) }

// UIDAt returns the UID at 1-based sequence number seq.
func (m *SeqMap) UIDAt(seq uint32) (uint32, bool) {
	if seq < 1 || int(seq) > len(m.uids) {
		return 0, false
	}
	return m.uids[seq-1], true
}

// SeqOf returns the 1-based sequence number currently holding uid.
func (m *SeqMap) SeqOf(uid uint32) (uint32, bool) {
	for i, u := range m.uids {
		if u == uid {
			return uint32(i + 1), true
		}
	}
	return 0, false
}

// All returns every UID currently in view, in sequence order.
func (m *SeqMap) All() []uint32 {
	return m.uids
}

// Remove deletes the placement holding uid, shifting later sequence
// numbers down by one, and reports the sequence number it held (per
// spec §4.7: EXPUNGE must report the sequence number valid at the moment
// of removal, not the final compacted position).
func (m *SeqMap) Remove(uid uint32) (uint32, bool) {
	for i, u := range m.uids {
		if u == uid {
			seq := uint32(i + 1)
			m.uids = append(m.uids[:i], m.uids[i+1:]...)
			return seq, true
		}
	}
	return 0, false
}
