package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeriveKey computes the idempotency key spec.md §8 defines as
// hex(sha256(message_id + ":" + file_sha256 + ":" + customer_id)). Callers
// recompute this key as more of the triple becomes known
// (check_idempotency with only message_id, then call_gateway and upload_pdf
// with file_sha256 and customer_id). The recomputed keys are promoted via
// model.RunState.SetIdempotencyKey, never Delta.Merge's keep-first path.
func DeriveKey(messageID, fileSHA256, customerID string) string {
	sum := sha256.Sum256([]byte(messageID + ":" + fileSHA256 + ":" + customerID))
	return hex.EncodeToString(sum[:])
}
