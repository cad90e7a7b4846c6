// Package anchor holds AuditSink implementations that record audit entry
// hashes outside the primary store, so a rewritten history can be detected
// by comparing against an independent, write-once copy.
package anchor

import (
	"errors"
	"fmt"
	"regexp"
)

var ErrInvalidHash = errors.New("anchor: hash must be 64 lowercase hex characters")

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func validateHash(hash string) error {
	if !hashPattern.MatchString(hash) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return nil
}
