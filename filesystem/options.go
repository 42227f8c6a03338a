package filesystem

// OpenFlag controls Open behaviour and stream capabilities.
type OpenFlag uint32

const (
	OpenRead OpenFlag = 1 << iota
	OpenWrite
	// OpenAppend implies OpenWrite; writes are positioned at the current
	// content size. Incompatible with OpenRead and OpenTruncateExisting.
	OpenAppend
	// OpenCreate creates the file if absent and tolerates already-exists.
	OpenCreate
	// OpenCreateNew requires creation and fails if the file exists.
	OpenCreateNew
	// OpenTruncateExisting truncates to zero length when opening for write.
	OpenTruncateExisting

	// Refused options. Their semantics are not provided by the engine.
	OpenSync
	OpenDsync
	OpenSparse
	OpenDeleteOnClose
)

func (f OpenFlag) has(flag OpenFlag) bool { return f&flag != 0 }

// checkOpenFlags validates a flag combination and returns the effective
// flags (APPEND implies WRITE; no capability at all defaults to READ).
func checkOpenFlags(flags OpenFlag) (OpenFlag, error) {
	if flags.has(OpenSync) || flags.has(OpenDsync) || flags.has(OpenSparse) || flags.has(OpenDeleteOnClose) {
		return 0, ErrUnsupportedOption
	}
	if flags.has(OpenAppend) {
		if flags.has(OpenRead) || flags.has(OpenTruncateExisting) {
			return 0, ErrUnsupportedOption
		}
		flags |= OpenWrite
	}
	if !flags.has(OpenRead) && !flags.has(OpenWrite) {
		flags |= OpenRead
	}
	return flags, nil
}

// CopyFlag controls Copy behaviour.
type CopyFlag uint32

const (
	// CopyReplaceExisting permits overwriting an existing destination.
	CopyReplaceExisting CopyFlag = 1 << iota
	// CopyAttributes propagates last-modified to the destination.
	CopyAttributes
)

func (f CopyFlag) has(flag CopyFlag) bool { return f&flag != 0 }

// MoveFlag controls Move behaviour.
type MoveFlag uint32

const (
	// MoveReplaceExisting permits overwriting an existing destination.
	MoveReplaceExisting MoveFlag = 1 << iota
	// MoveAtomic requests an atomic move, which the datastore cannot
	// provide; passing it always fails.
	MoveAtomic
)

func (f MoveFlag) has(flag MoveFlag) bool { return f&flag != 0 }

// AccessMode is a requested access check mode.
type AccessMode uint32

const (
	AccessRead AccessMode = 1 << iota
	AccessWrite
	// AccessExecute is never permitted.
	AccessExecute
)
