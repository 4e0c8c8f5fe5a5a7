package ota

// State is the state of an update session.
type State int

// The available session states.
const (
	Idle State = iota
	Requesting
	Receiving
	Verifying
	Committing
	Rebooting
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Receiving:
		return "receiving"
	case Verifying:
		return "verifying"
	case Committing:
		return "committing"
	case Rebooting:
		return "rebooting"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Session is the transient state of a single update attempt.
type Session struct {
	ExpectedSize   uint32
	TargetChecksum uint32
	BytesWritten   uint32
	State          State
}

// Remaining returns the number of bytes still expected.
func (s *Session) Remaining() uint32 {
	return s.ExpectedSize - s.BytesWritten
}

// Storage is the flash write collaborator. The sequence Begin, WriteChunk and
// Flush must never be interleaved with another session. An incomplete write
// must never become bootable and only a successful Flush with apply set may
// change the boot target.
type Storage interface {
	// Begin prepares a write of size bytes tagged with the target checksum.
	Begin(size, checksum uint32) error

	// WriteChunk writes the next chunk and reports whether the destination
	// region is now fully populated.
	WriteChunk(data []byte) (bool, error)

	// Flush finishes the write, validates the checksum if requested and makes
	// the image the boot target if apply is set.
	Flush(validate, apply bool) error
}

// Watchdog is fed while an update is in progress.
type Watchdog interface {
	Feed()
}

// WatchdogFunc adapts a function to a Watchdog.
type WatchdogFunc func()

// Feed calls the function.
func (f WatchdogFunc) Feed() {
	f()
}

// Resetter restarts the device into the new boot target.
type Resetter interface {
	Reset()
}

// ResetFunc adapts a function to a Resetter.
type ResetFunc func()

// Reset calls the function.
func (f ResetFunc) Reset() {
	f()
}
