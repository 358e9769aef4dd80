package payments

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewConsiderationRef returns a 64-character hex correlation identifier tying
// an off-chain payment to its on-chain settlement call. The value is a
// 32-byte random nonce and is persisted with the payment so it is never
// recomputed.
func NewConsiderationRef() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate consideration reference: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
