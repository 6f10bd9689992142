// Package count defines the value domain for cached token counts: the
// count itself, how it was obtained, and its human-readable rendering.
//
// A Value carries both the raw number and the status that produced it, so
// callers that need to sum values never have to parse formatted text.
// Format/Parse exist for display and for external callers that only see
// strings; the pair round-trips within formatting precision.
package count

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status describes how a count was obtained.
type Status int

const (
	// StatusProcessing means no count is available yet.
	StatusProcessing Status = iota
	// StatusReady means the count came from the real compute function.
	StatusReady
	// StatusEstimated means the count is a local heuristic fallback.
	StatusEstimated
	// StatusOversized means the file exceeded the size ceiling and the
	// count is a floor value extrapolated from a head sample.
	StatusOversized
)

// String returns the status name for logs.
func (s Status) String() string {
	switch s {
	case StatusProcessing:
		return "processing"
	case StatusReady:
		return "ready"
	case StatusEstimated:
		return "estimated"
	case StatusOversized:
		return "oversized"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Kind distinguishes file entries from directory entries.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

// String returns the kind name for logs.
func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Unknown is the sentinel returned by Parse for strings that carry no
// numeric value (placeholders, empty input).
const Unknown int64 = -1

// Marker suffixes appended after the magnitude suffix.
const (
	estimateMarker  = "~"
	oversizedMarker = "+"
)

// bytesPerToken is the fallback ratio used when the compute function is
// unavailable. Roughly matches prose and source code alike.
const bytesPerToken = 4

// Value is a count plus the status that produced it.
type Value struct {
	N      int64
	Status Status
}

// Ready wraps a real computed count.
func Ready(n int64) Value { return Value{N: n, Status: StatusReady} }

// Estimated wraps a heuristic count.
func Estimated(n int64) Value { return Value{N: n, Status: StatusEstimated} }

// Oversized wraps a floor count for a file that was too large to read fully.
func Oversized(n int64) Value { return Value{N: n, Status: StatusOversized} }

// String renders the value with magnitude suffixes and status markers.
// Estimated values get a trailing "~", oversized values a trailing "+".
func (v Value) String() string {
	s := formatMagnitude(v.N)
	switch v.Status {
	case StatusEstimated:
		return s + estimateMarker
	case StatusOversized:
		return s + oversizedMarker
	default:
		return s
	}
}

// formatMagnitude abbreviates n at fixed thresholds: plain below 1k, one
// decimal "k" below 1M, one decimal "M" above. The decimal is dropped when
// it would be ".0", so 2000 renders as "2k" and 1234 as "1.2k".
func formatMagnitude(n int64) string {
	switch {
	case n < 0:
		return "?"
	case n < 1_000:
		return strconv.FormatInt(n, 10)
	case n < 1_000_000:
		return trimZero(float64(n)/1_000) + "k"
	default:
		return trimZero(float64(n)/1_000_000) + "M"
	}
}

func trimZero(f float64) string {
	s := strconv.FormatFloat(f, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0")
}

// ErrBadFormat is returned by Parse for strings that are neither a
// formatted count nor a recognized placeholder.
var ErrBadFormat = errors.New("count: unparseable value")

// Parse reverses String within rounding precision. Status markers are
// recognized and returned; strings with no digits (placeholders such as
// "…" or "-") yield (Unknown, StatusProcessing, nil) rather than an error.
func Parse(s string) (int64, Status, error) {
	s = strings.TrimSpace(s)
	status := StatusReady

	switch {
	case strings.HasSuffix(s, estimateMarker):
		status = StatusEstimated
		s = strings.TrimSuffix(s, estimateMarker)
	case strings.HasSuffix(s, oversizedMarker):
		status = StatusOversized
		s = strings.TrimSuffix(s, oversizedMarker)
	}

	if !strings.ContainsAny(s, "0123456789") {
		return Unknown, StatusProcessing, nil
	}

	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "k"):
		mult = 1_000
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "M"):
		mult = 1_000_000
		s = strings.TrimSuffix(s, "M")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Unknown, status, fmt.Errorf("%w: %q", ErrBadFormat, s)
	}
	return int64(f * float64(mult)), status, nil
}

// EstimateFromBytes approximates a token count from raw content length.
// Used when the compute function fails or is unavailable.
func EstimateFromBytes(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return n / bytesPerToken
}

// ScaleSample extrapolates a whole-file count from a head sample. The
// result is a floor estimate with no accuracy guarantee; content density
// can vary across a file.
func ScaleSample(sampleCount, sampleLen, totalLen int64) int64 {
	if sampleLen <= 0 || totalLen <= 0 {
		return 0
	}
	if totalLen <= sampleLen {
		return sampleCount
	}
	return sampleCount * totalLen / sampleLen
}
