package domain

import "github.com/google/uuid"

// BuildIdempotencyKey scopes a caller-supplied key to the wallet owner.
func BuildIdempotencyKey(userID uuid.UUID, key string) string {
	return userID.String() + ":" + key
}

// BuildPaymentIdempotencyKey is the key a confirmed payment posts under.
func BuildPaymentIdempotencyKey(referenceID string) string {
	return "payment:" + referenceID
}
