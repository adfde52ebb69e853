// Package etag derives stable entity version tags for conditional reads.
package etag

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"bountyboard/internal/domain"
)

// Compute returns a strong ETag over the given representation parts. The
// tag changes whenever any part changes; parts are length-delimited so
// adjacent fields cannot collide by concatenation.
func Compute(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	return `"` + hex.EncodeToString(h.Sum(nil))[:32] + `"`
}

// ForBounty fingerprints a bounty's mutable representation. Every committed
// transition bumps updated_at, so the tag is guaranteed to move on mutation.
func ForBounty(b domain.Bounty) string {
	return Compute(
		strconv.FormatInt(b.ID, 10),
		b.Status,
		deref(b.ClaimedBy),
		formatID(b.MatchedServiceID),
		deref(b.MatchedACPAgent),
		deref(b.MatchedACPJob),
		deref(b.ACPJobID),
		deref(b.UpdatedAt),
	)
}

// ForService fingerprints a service listing.
func ForService(s domain.Service) string {
	return Compute(
		strconv.FormatInt(s.ID, 10),
		s.Name,
		s.Description,
		strconv.FormatFloat(s.Price, 'g', -1, 64),
		s.Category,
		deref(s.Location),
		strconv.FormatBool(s.ShippingAvailable),
		deref(s.Tags),
		strconv.FormatBool(s.IsActive),
		deref(s.UpdatedAt),
	)
}

// Match reports whether a client-supplied If-None-Match value matches the
// current tag. Weak validators compare by opaque value.
func Match(supplied, current string) bool {
	supplied = strings.TrimSpace(supplied)
	if supplied == "" {
		return false
	}
	if supplied == "*" {
		return true
	}
	for _, candidate := range strings.Split(supplied, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == current {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatID(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
