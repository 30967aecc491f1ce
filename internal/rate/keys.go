package rate

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func loginKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "tl:" + hex.EncodeToString(sum[:])
}

func budgetKey(tier, accountID string) string {
	return "tb:" + tier + ":" + accountID
}
