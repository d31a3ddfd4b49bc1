// Package infra connects to the internal infra API that manages assistant
// containers.
//
// It derives the infra-side user key from the account user ID and opens the
// WhatsApp login event stream on behalf of an already-authorized caller.
package infra

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// userKeyModulus bounds the derived key to 8 decimal digits, keeping it
// short enough for k8s labels while staying collision-resistant in practice.
const userKeyModulus = 100_000_000

// UserKey converts an account user ID (a Supabase UUID) to the stable short
// numeric key the infra API addresses containers by.
//
// The derivation is a shared addressing scheme with the account backend: both
// sides compute sha256 of the ID, take the first 10 hex digits, reduce them
// modulo 10^8, and format the result as "user-<n>". Any change here breaks
// addressing for every already-provisioned assistant.
func UserKey(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	hexDigest := hex.EncodeToString(sum[:])
	// 10 hex digits always parse into 40 bits; the error path is unreachable.
	n, err := strconv.ParseUint(hexDigest[:10], 16, 64)
	if err != nil {
		panic(fmt.Sprintf("infra.UserKey: malformed hex digest %q: %v", hexDigest[:10], err))
	}
	return fmt.Sprintf("user-%d", n%userKeyModulus)
}
