package model

import (
	"time"
)

type CodeKind string

const (
	CodeKindRegister CodeKind = "register"
	CodeKindRenew    CodeKind = "renew"
)

// RedemptionCode is a single-use token that grants a fixed number of
// entitlement days when redeemed. A code is spent on the redemption attempt,
// never recycled, even if the downstream account mutation fails.
type RedemptionCode struct {
	ID         string
	Code       string
	Kind       CodeKind
	GrantDays  int
	Redeemed   bool
	RedeemedBy *int64     // Pointer to allow for NULL
	RedeemedAt *time.Time // Pointer to allow for NULL
	CreatedAt  time.Time
}
