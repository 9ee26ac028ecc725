package audit

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// chainKey separates audit digests from any other BLAKE3 use. ASCII of the
// domain name, zero padded to 32 bytes.
var chainKey = [32]byte{
	't', 'a', 'r', 'i', '.', 'm', 'c', 'p', '.', 'a', 'u', 'd', 'i', 't', '.', 'c',
	'h', 'a', 'i', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ErrChainBroken is returned by Verify when the records were altered,
// reordered or have gaps.
var ErrChainBroken = errors.New("audit chain broken")

// digest computes the chain digest of rec. The Digest field itself is not
// part of the input; Prev is.
func digest(rec Record) (string, error) {
	rec.Digest = ""
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	hasher, err := blake3.NewKeyed(chainKey[:])
	if err != nil {
		return "", err
	}
	hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Verify checks that records form an unbroken chain. The slice may start
// anywhere in the log; only a record with Seq 1 must have an empty Prev.
func Verify(records []Record) error {
	for i, rec := range records {
		want, err := digest(rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", rec.Seq, err)
		}
		if rec.Digest != want {
			return fmt.Errorf("%w: record %d digest mismatch", ErrChainBroken, rec.Seq)
		}

		if i == 0 {
			if rec.Seq == 1 && rec.Prev != "" {
				return fmt.Errorf("%w: first record has a predecessor", ErrChainBroken)
			}
			continue
		}

		prev := records[i-1]
		if rec.Seq != prev.Seq+1 {
			return fmt.Errorf("%w: sequence jumps from %d to %d", ErrChainBroken, prev.Seq, rec.Seq)
		}
		if rec.Prev != prev.Digest {
			return fmt.Errorf("%w: record %d does not follow record %d", ErrChainBroken, rec.Seq, prev.Seq)
		}
		if rec.Timestamp.Before(prev.Timestamp) {
			return fmt.Errorf("%w: record %d is older than record %d", ErrChainBroken, rec.Seq, prev.Seq)
		}
	}
	return nil
}
