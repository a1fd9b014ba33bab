package versioned

import "encoding/binary"

// Composite-key helpers. branch_versions keys are branchID(8B)++versionID(8B).
// Version IDs are monotonically allocated, so lexicographic order on that
// composite key equals chronological order within one branch (invariant V1).
// See below for the changes table's own key layout.

func encodeU64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeU64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func bvKey(branchID, versionID uint64) []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:8], branchID)
	binary.BigEndian.PutUint64(out[8:16], versionID)
	return out
}

func splitBVK(composite []byte) (branchID, versionID uint64, userKey []byte) {
	return decodeU64(composite[0:8]), decodeU64(composite[8:16]), composite[16:]
}

// changes keys are laid out branchID(8B)++escape(userKey)++versionID(8B)
// instead, so that every version a single key was written at, within one
// branch, sits in one contiguous run: a GetLE-style range scan bounded by
// a version cap finds the right value in O(log n) without touching any
// other key. userKey is order-preserving-escaped (0x00 -> 0x00 0xFF,
// terminated by 0x00 0x00) so that no other key's encoding can share the
// terminated prefix of this one, regardless of byte content or length;
// without it a short key can be a byte-prefix of a longer, unrelated one
// and the two would interleave under a range scan.

func changesPrefix(branchID uint64) []byte { return encodeU64(branchID) }

func escapeKey(userKey []byte) []byte {
	out := make([]byte, 0, len(userKey)+2)
	for _, b := range userKey {
		if b == 0x00 {
			out = append(out, 0x00, 0xFF)
		} else {
			out = append(out, b)
		}
	}
	return append(out, 0x00, 0x00)
}

func unescapeKey(escaped []byte) []byte {
	out := make([]byte, 0, len(escaped))
	for i := 0; i < len(escaped); i++ {
		if escaped[i] == 0x00 {
			if i+1 < len(escaped) && escaped[i+1] == 0xFF {
				out = append(out, 0x00)
				i++
				continue
			}
			break // 0x00 0x00 terminator
		}
		out = append(out, escaped[i])
	}
	return out
}

func changesKeyPrefix(branchID uint64, userKey []byte) []byte {
	esc := escapeKey(userKey)
	out := make([]byte, 8+len(esc))
	copy(out, encodeU64(branchID))
	copy(out[8:], esc)
	return out
}

func changesKey(branchID uint64, userKey []byte, versionID uint64) []byte {
	esc := escapeKey(userKey)
	out := make([]byte, 8+len(esc)+8)
	copy(out, encodeU64(branchID))
	copy(out[8:8+len(esc)], esc)
	binary.BigEndian.PutUint64(out[8+len(esc):], versionID)
	return out
}

func splitChangesKey(composite []byte) (branchID uint64, userKey []byte, versionID uint64) {
	branchID = decodeU64(composite[0:8])
	versionID = decodeU64(composite[len(composite)-8:])
	userKey = unescapeKey(composite[8 : len(composite)-8])
	return
}

// Change-set value tagging: the first byte disambiguates a tombstone from
// a present value, since a present value may itself be empty.
const (
	tagPresent byte = 1
	tagTomb    byte = 0
)

func encodeChange(v []byte) []byte {
	out := make([]byte, 1+len(v))
	out[0] = tagPresent
	copy(out[1:], v)
	return out
}

func encodeTombstone() []byte { return []byte{tagTomb} }

func decodeChange(raw []byte) (value []byte, tombstone bool) {
	if len(raw) == 0 || raw[0] == tagTomb {
		return nil, true
	}
	return raw[1:], false
}
