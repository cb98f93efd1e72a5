package merkle

import "errors"

// ErrCorrupt wraps any failure to parse a persisted snapshot: truncated
// file, bad length prefix, or an unrecognized version byte. Callers
// should treat it as "snapshot absent" and rebuild rather than abort.
var ErrCorrupt = errors.New("merkle: corrupt snapshot")
