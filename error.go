package mp4

import (
	"errors"
	"strconv"
)

// Kind classifies a MuxError (spec §7).
type Kind int

const (
	KindIOError Kind = iota
	KindEndOfStream
	KindSyncError
	KindEsError
	KindNoConfigError
	KindConfigError
	KindParamError
	KindEmptyEs
	KindNoSupport
	KindNoMem
	KindBuggy
)

func (k Kind) String() string {
	switch k {
	case KindIOError:
		return "IOError"
	case KindEndOfStream:
		return "EndOfStream"
	case KindSyncError:
		return "SyncError"
	case KindEsError:
		return "EsError"
	case KindNoConfigError:
		return "NoConfigError"
	case KindConfigError:
		return "ConfigError"
	case KindParamError:
		return "ParamError"
	case KindEmptyEs:
		return "EmptyEs"
	case KindNoSupport:
		return "NoSupport"
	case KindNoMem:
		return "NoMem"
	case KindBuggy:
		return "Buggy"
	default:
		return "Unknown"
	}
}

// Sentinel errors, one per Kind except IOError and NoMem, so callers can
// errors.Is a MuxError against its kind without inspecting MuxError.Kind
// directly (spec §7).
var (
	ErrEndOfStream  = errors.New("mp4: end of stream")
	ErrSyncLost     = errors.New("mp4: sync lost")
	ErrEsMalformed  = errors.New("mp4: malformed elementary stream")
	ErrNoConfig     = errors.New("mp4: referenced SPS/PPS id undefined and id 0 undefined")
	ErrConfig       = errors.New("mp4: disallowed configuration change")
	ErrParam        = errors.New("mp4: rejected configuration")
	ErrEmptyStream  = errors.New("mp4: track has zero samples at finalize")
	ErrUnsupported  = errors.New("mp4: unsupported stream feature")
	ErrInvariant    = errors.New("mp4: internal invariant violated")
)

// MuxError wraps a Kind with a causing error and optional track context
// (spec §7). Track is -1 when the error is not track-scoped.
type MuxError struct {
	Kind  Kind
	Track int
	Err   error
}

func (e *MuxError) Error() string {
	if e.Track >= 0 {
		return "mp4: " + e.Kind.String() + " (track " + strconv.Itoa(e.Track) + "): " + e.Err.Error()
	}
	return "mp4: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *MuxError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel error of e.Kind.
func (e *MuxError) Is(target error) bool {
	sentinels := [...]error{KindEndOfStream: ErrEndOfStream, KindSyncError: ErrSyncLost,
		KindEsError: ErrEsMalformed, KindNoConfigError: ErrNoConfig, KindConfigError: ErrConfig,
		KindParamError: ErrParam, KindEmptyEs: ErrEmptyStream, KindNoSupport: ErrUnsupported,
		KindBuggy: ErrInvariant}
	return e.Kind >= 0 && int(e.Kind) < len(sentinels) && sentinels[e.Kind] != nil && sentinels[e.Kind] == target
}

// NewMuxError builds a track-scoped MuxError.
func NewMuxError(kind Kind, track int, err error) *MuxError {
	return &MuxError{Kind: kind, Track: track, Err: err}
}
