package config

import (
	"os"
	"strings"
)

// StrictReceiving only allows SUBMITTED purchase orders to be received.
// When off, receiving a DRAFT or APPROVED order is logged as a warning.
//
// Set via env:
// - STRICT_RECEIVING=true
func StrictReceiving() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_RECEIVING")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// ReceivingDefaultExpiryDays is added to the order date when a receiving line
// carries no expiration date.
//
// Set via env:
// - RECEIVING_DEFAULT_EXPIRY_DAYS=90
func ReceivingDefaultExpiryDays() int {
	days := intFromEnv("RECEIVING_DEFAULT_EXPIRY_DAYS", 90)
	if days < 0 {
		return 90
	}
	return days
}

// SequenceLockRetries bounds how many times a creator retries the distributed
// sequence lock before giving up with a concurrency error.
//
// Set via env:
// - SEQUENCE_LOCK_RETRIES=100
func SequenceLockRetries() int {
	n := intFromEnv("SEQUENCE_LOCK_RETRIES", 100)
	if n < 0 {
		return 0
	}
	return n
}

// DefaultPhoneRegion is the region used to parse phone numbers without a
// country prefix.
//
// Set via env:
// - DEFAULT_PHONE_REGION=US
func DefaultPhoneRegion() string {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv("DEFAULT_PHONE_REGION")))
	if v == "" {
		return "US"
	}
	return v
}
