package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrCodeNotFound         = errors.New("redemption code not found")
	ErrCodeAlreadyUsed      = errors.New("redemption code already used")
	ErrCodeCollision        = errors.New("redemption code collision")
	ErrCodeKindMismatch     = errors.New("redemption code kind mismatch")
	ErrBindingNotFound      = errors.New("account binding not found")
	ErrBindingAlreadyExists = errors.New("account binding already exists")
	ErrBindingDeleted       = errors.New("account binding is deleted")
	ErrNotAuthorized        = errors.New("caller is not authorized")
	ErrProvisioningFailed   = errors.New("provisioning gateway call failed")
	ErrPersistenceFailed    = errors.New("persistence failed")
)
