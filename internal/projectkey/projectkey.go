// internal/projectkey/projectkey.go

// Package projectkey derives scanner-safe project identifiers from repository
// owner/name pairs, validates them, and repairs the corruption shapes we have
// seen in tabular datasets.
package projectkey

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	apperrors "repo-cadence-collector/internal/errors"
	"repo-cadence-collector/internal/model"
)

const (
	// The scanning service rejects keys longer than 400 characters.
	maxKeyLen   = 400
	maxOwnerLen = 150
	maxNameLen  = 240

	defaultOwner = "unknown"
	defaultName  = "unnamed"
)

var (
	pathSeparators = regexp.MustCompile(`[/\\]`)
	invalidChars   = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)
	collapseRuns   = regexp.MustCompile(`[-_]{2,}`)
	validKeyChars  = regexp.MustCompile(`[^a-zA-Z0-9\-_.:]`)
)

// ErrUnfixable is returned by Repair when a record's corruption does not
// match a known recoverable shape. Callers keep the record as-is.
var ErrUnfixable = errors.New("projectkey: corruption not repairable")

// sanitizePart normalizes one half of a key.
func sanitizePart(part, fallback string) string {
	if part == "" {
		return fallback
	}
	part = strings.TrimSpace(part)
	part = pathSeparators.ReplaceAllString(part, "-")
	part = invalidChars.ReplaceAllString(part, "_")
	part = collapseRuns.ReplaceAllString(part, "_")
	part = strings.Trim(part, "-_")
	if part == "" {
		return fallback
	}
	return part
}

// Sanitize builds a scanner-safe project key from an owner/name pair.
// Missing parts fall back to "unknown"/"unnamed"; path separators become
// hyphens, other disallowed characters become underscores, runs collapse,
// and oversized keys are truncated part-wise.
func Sanitize(owner, name string) string {
	owner = sanitizePart(owner, defaultOwner)
	name = sanitizePart(name, defaultName)

	key := fmt.Sprintf("%s_%s", owner, name)
	if len(key) > maxKeyLen {
		if len(owner) > maxOwnerLen {
			owner = owner[:maxOwnerLen]
		}
		if len(name) > maxNameLen {
			name = name[:maxNameLen]
		}
		key = fmt.Sprintf("%s_%s", owner, name)
	}
	return key
}

// Validate checks a key against the scanning service's rules and returns
// every violation found.
func Validate(key string) (bool, []string) {
	var problems []string

	if key == "" {
		return false, []string{"key is empty"}
	}
	if len(key) > maxKeyLen {
		problems = append(problems, fmt.Sprintf("key length %d exceeds %d", len(key), maxKeyLen))
	}
	if bad := validKeyChars.FindAllString(key, -1); len(bad) > 0 {
		problems = append(problems, fmt.Sprintf("invalid characters: %q", strings.Join(bad, "")))
	}
	if strings.ContainsAny(key, `/\`) {
		problems = append(problems, "key contains a path separator")
	}
	if !strings.Contains(key, "_") {
		problems = append(problems, "key is missing the owner_name separator")
	}

	return len(problems) == 0, problems
}

// ValidationError wraps Validate's findings as a typed error for the
// repair-or-skip path.
func ValidationError(key string) error {
	ok, problems := Validate(key)
	if ok {
		return nil
	}
	return &apperrors.ValidationError{Key: key, Problems: problems}
}

// Repair fixes a record whose identity fields were scrambled by a partial
// write. Only two corruption shapes are recoverable: an empty owner with an
// "owner/name" style full_name, or an empty owner with a separator inside
// name. Anything else returns ErrUnfixable; Repair never guesses.
func Repair(rec *model.RepositoryRecord) error {
	if rec.Owner == "" && strings.Contains(rec.FullName, "/") {
		parts := strings.SplitN(rec.FullName, "/", 2)
		rec.Owner = parts[0]
		rec.Name = parts[1]
		return nil
	}

	if rec.Owner == "" && strings.Contains(rec.Name, "/") {
		parts := strings.SplitN(rec.Name, "/", 2)
		rec.Owner = parts[0]
		rec.Name = parts[1]
		rec.FullName = rec.Owner + "/" + rec.Name
		return nil
	}

	return ErrUnfixable
}

// NeedsRepair reports whether a record's identity fields look corrupted.
func NeedsRepair(rec *model.RepositoryRecord) bool {
	return rec.Owner == "" || rec.Name == "" ||
		strings.Contains(rec.Owner, "/") || strings.Contains(rec.Name, "/")
}
