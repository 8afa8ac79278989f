package checkout

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const donationSuffixAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// OrderNumber builds a human-quotable order reference, e.g.
// ZW-250101120000-123. The timestamp keeps references sortable; the random
// suffix separates orders created in the same second.
func OrderNumber(now time.Time) string {
	return fmt.Sprintf("ZW-%s-%03d", now.UTC().Format("060102150405"), randomInt(1000))
}

// DonationNumber builds a short donation reference, e.g. DON-ABC123.
func DonationNumber() string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = donationSuffixAlphabet[randomInt(len(donationSuffixAlphabet))]
	}
	return "DON-" + string(suffix)
}

func randomInt(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		// crypto/rand only fails when the platform entropy source is broken;
		// fall back to the clock rather than panic mid-checkout.
		return int(time.Now().UnixNano()) % max
	}
	return int(n.Int64())
}
