// Package images defines the Image Record domain model: confidence tiers,
// lifecycle statuses, canonical filenames and the object-store key layout
// derived from them.
package images

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the fixed textual encoding of an image's capture time.
const TimestampLayout = "20060102150405"

// ConfidenceTier classifies an uploaded image's model certainty. It is
// chosen by the uploader at creation time and immutable thereafter.
type ConfidenceTier string

const (
	// TierHigh means the on-device model was confident in its prediction.
	TierHigh ConfidenceTier = "high"

	// TierLow means the prediction needs human review.
	TierLow ConfidenceTier = "low"

	// TierNone is used for uploads with no usable confidence value.
	TierNone ConfidenceTier = "none"
)

// ParseTier maps a raw confidence value to a tier. Anything other than
// "high" or "low" collapses to TierNone.
func ParseTier(raw string) ConfidenceTier {
	switch raw {
	case string(TierHigh):
		return TierHigh
	case string(TierLow):
		return TierLow
	default:
		return TierNone
	}
}

// Status is the lifecycle state of an Image Record. Exactly one status
// holds at any instant. The status record is authoritative; the
// object-store key is a derived, reconcilable view.
type Status string

const (
	// StatusHighConf is the initial status of a high-confidence upload.
	StatusHighConf Status = "highconf"

	// StatusLowConf is the initial status of a low-confidence upload.
	StatusLowConf Status = "lowconf"

	// StatusNoConf is the initial status of an upload with no confidence.
	StatusNoConf Status = "no_conf"

	// StatusUnderReview means the image is owned by an annotation task.
	StatusUnderReview Status = "under_review"

	// StatusVerified means the annotation has been imported and committed.
	StatusVerified Status = "verified"
)

// InitialStatus returns the status an image record starts in for a tier.
func InitialStatus(tier ConfidenceTier) Status {
	switch tier {
	case TierHigh:
		return StatusHighConf
	case TierLow:
		return StatusLowConf
	default:
		return StatusNoConf
	}
}

// Filename is the parsed form of a canonical image filename
// "{seq}_{user_id}_{timestamp}.jpg". The canonical filename is the
// cross-reference key relating an image to its annotation task and
// label file.
type Filename struct {
	Sequence  int
	UserID    string
	Timestamp time.Time
}

// NewFilename builds a Filename for an upload.
func NewFilename(seq int, userID string, capturedAt time.Time) Filename {
	return Filename{
		Sequence:  seq,
		UserID:    userID,
		Timestamp: capturedAt,
	}
}

// String renders the canonical image filename.
func (f Filename) String() string {
	return fmt.Sprintf("%d_%s_%s%s", f.Sequence, f.UserID, f.Timestamp.Format(TimestampLayout), ImageExt)
}

// LabelName returns the companion label filename (text extension).
func (f Filename) LabelName() string {
	return strings.TrimSuffix(f.String(), ImageExt) + LabelExt
}

// AnnotationName returns the companion annotation record filename.
func (f Filename) AnnotationName() string {
	return strings.TrimSuffix(f.String(), ImageExt) + AnnotationExt
}

// ParseFilename parses a canonical filename back to its three fields.
// User IDs may legally contain underscores, so the sequence is taken
// before the first underscore and the timestamp after the last one;
// everything in between is the user id.
func ParseFilename(name string) (Filename, error) {
	base := name
	switch {
	case strings.HasSuffix(base, ImageExt):
		base = strings.TrimSuffix(base, ImageExt)
	case strings.HasSuffix(base, LabelExt):
		base = strings.TrimSuffix(base, LabelExt)
	}

	seqPart, rest, ok := strings.Cut(base, "_")
	if !ok {
		return Filename{}, fmt.Errorf("malformed image filename %q", name)
	}
	lastSep := strings.LastIndex(rest, "_")
	if lastSep <= 0 {
		return Filename{}, fmt.Errorf("malformed image filename %q", name)
	}
	userID, tsPart := rest[:lastSep], rest[lastSep+1:]

	seq, err := strconv.Atoi(seqPart)
	if err != nil || seq <= 0 {
		return Filename{}, fmt.Errorf("invalid sequence number in filename %q", name)
	}
	ts, err := time.Parse(TimestampLayout, tsPart)
	if err != nil {
		return Filename{}, fmt.Errorf("invalid timestamp in filename %q: %w", name, err)
	}

	return Filename{Sequence: seq, UserID: userID, Timestamp: ts}, nil
}
