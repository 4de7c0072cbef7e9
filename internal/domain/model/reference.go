package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"coursepay/internal/domain"
)

// ReferenceKind is the purchase kind carried inside a reference token.
type ReferenceKind string

const (
	ReferenceKindSubscription ReferenceKind = "SUBSCRIPTION"
	ReferenceKindCourse       ReferenceKind = "COURSE"
)

const (
	refSep = "_"

	// compact tokens: kind markers carry the format version
	compactCourse       = "C1"
	compactSubscription = "S1"

	// CompactSuffixLen is how many trailing characters of an id a compact token keeps.
	CompactSuffixLen = 10
)

// Reference is the business context round-tripped through a gateway inside the
// order/reference id. In a compact reference UserID and CourseID are id suffixes
// that must be resolved against the user directory and course catalog.
type Reference struct {
	Kind     ReferenceKind
	UserID   string
	CourseID string // empty for subscriptions
	IssuedAt int64  // unix seconds
	Compact  bool
}

// DecodeError explains why a reference token could not be decoded.
type DecodeError struct {
	Token  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode reference %q: %s", e.Token, e.Reason)
}

func decodeErr(token, format string, args ...any) *DecodeError {
	return &DecodeError{Token: token, Reason: fmt.Sprintf(format, args...)}
}

// EncodeReference builds the full-form token, e.g. COURSE_u42_driver-bis_1700000000.
// now must be after the Unix epoch; decoding accepts positive timestamps only.
func EncodeReference(kind ReferenceKind, userID, courseID string, now time.Time) (string, error) {
	if err := validateRefParts(kind, userID, courseID); err != nil {
		return "", err
	}
	if now.Unix() <= 0 {
		return "", fmt.Errorf("timestamp %d: %w", now.Unix(), domain.ErrInvalidArgument)
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	if kind == ReferenceKindSubscription {
		return strings.Join([]string{string(kind), userID, ts}, refSep), nil
	}
	return strings.Join([]string{string(kind), userID, courseID, ts}, refSep), nil
}

// EncodeReferenceWithin encodes the full form when it fits in maxLen, otherwise the
// compact form. maxLen <= 0 means unlimited.
func EncodeReferenceWithin(kind ReferenceKind, userID, courseID string, now time.Time, maxLen int) (string, error) {
	full, err := EncodeReference(kind, userID, courseID, now)
	if err != nil {
		return "", err
	}
	if maxLen <= 0 || len(full) <= maxLen {
		return full, nil
	}
	ts := strconv.FormatInt(now.Unix(), 36)
	var compact string
	if kind == ReferenceKindSubscription {
		compact = strings.Join([]string{compactSubscription, suffix(userID), ts}, refSep)
	} else {
		compact = strings.Join([]string{compactCourse, suffix(userID), suffix(courseID), ts}, refSep)
	}
	if len(compact) > maxLen {
		return "", fmt.Errorf("reference does not fit in %d chars: %w", maxLen, domain.ErrInvalidArgument)
	}
	return compact, nil
}

// DecodeReference parses a token produced by EncodeReference or EncodeReferenceWithin.
func DecodeReference(token string) (Reference, error) {
	parts := strings.Split(token, refSep)
	for i, p := range parts {
		if p == "" {
			return Reference{}, decodeErr(token, "field %d is empty", i)
		}
	}
	var (
		ref    Reference
		tsPart string
		base   = 10
	)
	switch parts[0] {
	case string(ReferenceKindCourse):
		if len(parts) != 4 {
			return Reference{}, decodeErr(token, "want 4 fields, got %d", len(parts))
		}
		ref = Reference{Kind: ReferenceKindCourse, UserID: parts[1], CourseID: parts[2]}
		tsPart = parts[3]
	case string(ReferenceKindSubscription):
		if len(parts) != 3 {
			return Reference{}, decodeErr(token, "want 3 fields, got %d", len(parts))
		}
		ref = Reference{Kind: ReferenceKindSubscription, UserID: parts[1]}
		tsPart = parts[2]
	case compactCourse:
		if len(parts) != 4 {
			return Reference{}, decodeErr(token, "want 4 fields, got %d", len(parts))
		}
		ref = Reference{Kind: ReferenceKindCourse, UserID: parts[1], CourseID: parts[2], Compact: true}
		tsPart, base = parts[3], 36
	case compactSubscription:
		if len(parts) != 3 {
			return Reference{}, decodeErr(token, "want 3 fields, got %d", len(parts))
		}
		ref = Reference{Kind: ReferenceKindSubscription, UserID: parts[1], Compact: true}
		tsPart, base = parts[2], 36
	default:
		return Reference{}, decodeErr(token, "unknown kind %q", parts[0])
	}
	ts, err := strconv.ParseInt(tsPart, base, 64)
	if err != nil || ts <= 0 {
		return Reference{}, decodeErr(token, "bad timestamp %q", tsPart)
	}
	ref.IssuedAt = ts
	return ref, nil
}

func validateRefParts(kind ReferenceKind, userID, courseID string) error {
	switch kind {
	case ReferenceKindCourse:
		if courseID == "" || strings.Contains(courseID, refSep) {
			return fmt.Errorf("course id %q: %w", courseID, domain.ErrInvalidArgument)
		}
	case ReferenceKindSubscription:
		if courseID != "" {
			return fmt.Errorf("subscription reference takes no course id: %w", domain.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("kind %q: %w", kind, domain.ErrInvalidArgument)
	}
	if userID == "" || strings.Contains(userID, refSep) {
		return fmt.Errorf("user id %q: %w", userID, domain.ErrInvalidArgument)
	}
	return nil
}

func suffix(id string) string {
	if len(id) <= CompactSuffixLen {
		return id
	}
	return id[len(id)-CompactSuffixLen:]
}
