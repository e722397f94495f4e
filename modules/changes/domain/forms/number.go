package forms

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/fleetyard/shipcm/modules/changes/domain/ledger"
)

// MaxNumberAttempts bounds request-number generation retries on collision.
const MaxNumberAttempts = 5

const suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewRequestNumber produces a number of the form <PREFIX>-<yyyyMM>-<ddHHmm>.
// attempt 0 uses the bare minute stamp; retries append two random base-36
// characters so collisions within the same minute resolve.
func NewRequestNumber(kind ledger.Kind, now time.Time, attempt int) string {
	suffix := now.Format("021504")
	if attempt > 0 {
		suffix += randomSuffix(2)
	}
	return fmt.Sprintf("%s-%s-%s", kind.Prefix(), now.Format("200601"), suffix)
}

func randomSuffix(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(suffixAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken;
			// fall back to a stable character rather than panicking.
			out[i] = suffixAlphabet[0]
			continue
		}
		out[i] = suffixAlphabet[idx.Int64()]
	}
	return string(out)
}
