package transport

import "crypto/rand"

// MaxCIDLength is the maximum length of a connection ID (spec §3: "opaque
// 0-20 byte identifier").
const MaxCIDLength = 20

// DefaultCIDLength is the length used for locally generated CIDs.
const DefaultCIDLength = 8

func randomCID(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewRandomCID generates a DefaultCIDLength connection ID for a socket
// layer to hand to Connect/Accept before a Conn exists.
func NewRandomCID() ([]byte, error) {
	return randomCID(DefaultCIDLength)
}

// connectionID is a peer-advertised routing identifier learned via
// NEW_CONNECTION_ID (frame 0x18) and removed via RETIRE_CONNECTION_ID
// (frame 0x19). The core only records these; it never switches the active
// path to one (path migration is a non-goal, spec §1).
type connectionID struct {
	sequence            uint64
	retirePriorTo       uint64
	cid                 []byte
	statelessResetToken []byte
}

// cidSet is an append-mostly registry of peer connection IDs.
type cidSet struct {
	ids []connectionID
}

func (s *cidSet) add(c connectionID) {
	for i := range s.ids {
		if s.ids[i].sequence == c.sequence {
			s.ids[i] = c
			return
		}
	}
	s.ids = append(s.ids, c)
}

func (s *cidSet) retire(sequence uint64) bool {
	for i := range s.ids {
		if s.ids[i].sequence == sequence {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return true
		}
	}
	return false
}
