package dlc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// RankingPermutations enumerates every ordered k-tuple drawn from n entry
// slots, in lexicographic order, followed by the refund-all outcome (all n
// slots in order). The list's order is fixed at event creation; each
// position is an outcome label the DLC ties an adaptor path to.
func RankingPermutations(n, k int) [][]int {
	var out [][]int
	used := make([]bool, n)
	current := make([]int, 0, k)

	var walk func()
	walk = func() {
		if len(current) == k {
			tuple := make([]int, k)
			copy(tuple, current)
			out = append(out, tuple)
			return
		}
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			used[i] = true
			current = append(current, i)
			walk()
			current = current[:len(current)-1]
			used[i] = false
		}
	}
	walk()

	refund := make([]int, n)
	for i := range refund {
		refund[i] = i
	}
	return append(out, refund)
}

// OutcomeMessage encodes a ranking as the byte message the oracle attests
// to: each entry index as a big-endian 8-byte integer, concatenated.
func OutcomeMessage(ranking []int) []byte {
	msg := make([]byte, 0, len(ranking)*8)
	for _, idx := range ranking {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(idx))
		msg = append(msg, buf[:]...)
	}
	return msg
}

// OutcomeIndex finds the position of a ranking's message within the
// committed outcome set, or -1.
func OutcomeIndex(outcomes [][]int, ranking []int) int {
	want := OutcomeMessage(ranking)
	for i, outcome := range outcomes {
		if bytes.Equal(OutcomeMessage(outcome), want) {
			return i
		}
	}
	return -1
}

// Announcement is the pre-publication commitment binding the oracle key, the
// per-event nonce point, and the full outcome label set. It is computed once
// at event creation and never mutates.
type Announcement struct {
	OraclePubkey        []byte    `json:"oracle_pubkey"`
	NoncePoint          []byte    `json:"nonce_point"`
	LockingPoints       [][]byte  `json:"locking_points"`
	Expiry              int64     `json:"expiry"`
	SigningDate         time.Time `json:"signing_date"`
	Locations           []string  `json:"locations"`
	ScoringFields       []string  `json:"scoring_fields"`
	NumberOfPlacesWin   int       `json:"number_of_places_win"`
	TotalAllowedEntries int       `json:"total_allowed_entries"`
}

// NewAnnouncement derives the commitment for an event: one locking point per
// outcome in the fixed label order, plus an expiry one day past the signing
// date so participants can reclaim funds if the oracle never attests.
func NewAnnouncement(oraclePub *secp256k1.PublicKey, nonce *secp256k1.ModNScalar, signingDate time.Time, locations []string, scoringFields []string, totalAllowedEntries, numberOfPlacesWin int) (*Announcement, error) {
	noncePoint := ScalarPoint(nonce)
	outcomes := RankingPermutations(totalAllowedEntries, numberOfPlacesWin)

	lockingPoints := make([][]byte, 0, len(outcomes))
	for _, outcome := range outcomes {
		point, err := LockingPoint(oraclePub, noncePoint, OutcomeMessage(outcome))
		if err != nil {
			return nil, err
		}
		lockingPoints = append(lockingPoints, point.SerializeCompressed())
	}

	return &Announcement{
		OraclePubkey:        oraclePub.SerializeCompressed(),
		NoncePoint:          noncePoint.SerializeCompressed(),
		LockingPoints:       lockingPoints,
		Expiry:              signingDate.Add(24 * time.Hour).Unix(),
		SigningDate:         signingDate.UTC(),
		Locations:           locations,
		ScoringFields:       scoringFields,
		NumberOfPlacesWin:   numberOfPlacesWin,
		TotalAllowedEntries: totalAllowedEntries,
	}, nil
}

// Serialize returns the canonical JSON encoding stored in the metadata
// store and returned to clients.
func (a *Announcement) Serialize() ([]byte, error) {
	return json.Marshal(a)
}

// ParseAnnouncement decodes a stored announcement.
func ParseAnnouncement(data []byte) (*Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
