package payment

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/riverbend-resort/wallet-api/internal/purchase"
)

// codeAlphabet avoids ambiguous characters so codes survive being read
// aloud at a gate or counter.
const codeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

const codeRandomLen = 6

func codePrefix(purpose purchase.Purpose) string {
	switch purpose {
	case purchase.PurposeTicket:
		return "TKT"
	case purchase.PurposeEntry:
		return "ENT"
	case purchase.PurposeVoucher:
		return "CHP"
	case purchase.PurposeDining:
		return "DIN"
	}
	return "PUR"
}

// NewRedemptionCode generates a redemption code like TKT-20260828-7F3K9Q.
// Uniqueness is enforced by the database; callers retry on collision.
func NewRedemptionCode(purpose purchase.Purpose, at time.Time) (string, error) {
	buf := make([]byte, codeRandomLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", codePrefix(purpose), at.UTC().Format("20060102"), buf), nil
}
