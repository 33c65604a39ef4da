// Package seqnum implements wraparound-correct comparisons on RTP
// sequence numbers and timestamps.  Nothing in this module ever
// compares wire-format sequence numbers or timestamps with a raw "<";
// every such comparison goes through IsNewer/Delta below, following the
// modular arithmetic used throughout github.com/jech/galene's
// packetcache and packetwindow packages.
package seqnum

// Seq is a 16-bit RTP sequence number, compared modulo 2^16.
type Seq uint16

// Timestamp is a 32-bit RTP timestamp, compared modulo 2^32.
type Timestamp uint32

// IsNewer returns true iff a is strictly newer than b, modulo 2^16.
// Two values exactly half the space (0x8000) apart are newer in
// neither direction; ties are not newer.
func (a Seq) IsNewer(b Seq) bool {
	return a != b && (a-b)&0x8000 == 0
}

// IsOlder returns true iff a is strictly older than b, modulo 2^16.
func (a Seq) IsOlder(b Seq) bool {
	return b.IsNewer(a)
}

// Delta returns a-b as a signed difference, modulo 2^16.  It is
// positive iff a is newer than b.
func (a Seq) Delta(b Seq) int32 {
	return int32(int16(a - b))
}

// Latest returns whichever of a, b is newer.
func Latest(a, b Seq) Seq {
	if b.IsNewer(a) {
		return b
	}
	return a
}

// Earliest returns whichever of a, b is older.
func Earliest(a, b Seq) Seq {
	if b.IsOlder(a) {
		return b
	}
	return a
}

// InSequence returns true iff b immediately follows a, i.e. b == a+1.
func InSequence(a, b Seq) bool {
	return a+1 == b
}

// IsNewer returns true iff a is strictly newer than b, modulo 2^32.
func (a Timestamp) IsNewer(b Timestamp) bool {
	return a != b && (a-b)&0x80000000 == 0
}

// IsOlder returns true iff a is strictly older than b, modulo 2^32.
func (a Timestamp) IsOlder(b Timestamp) bool {
	return b.IsNewer(a)
}

// Delta returns a-b as a signed difference, modulo 2^32.
func (a Timestamp) Delta(b Timestamp) int64 {
	return int64(int32(a - b))
}

// LatestTimestamp returns whichever of a, b is newer.
func LatestTimestamp(a, b Timestamp) Timestamp {
	if b.IsNewer(a) {
		return b
	}
	return a
}
