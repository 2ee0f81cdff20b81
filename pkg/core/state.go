package core

import "fmt"

// State is the position of a Serializer or Deserializer in its operation.
type State int

const (
	StateIdle State = iota

	// Serializer states.
	StateHeaderWritten
	StateMetadataWritten
	StateDataWritten
	StateFinalized

	// Deserializer states.
	StateHeaderRead
	StateMetadataRead
	StateDataDecoded
	StateFilesWritten
	StateVerified

	// StateFailed is terminal for the current operation. The next call
	// starts again from StateIdle.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHeaderWritten:
		return "header-written"
	case StateMetadataWritten:
		return "metadata-written"
	case StateDataWritten:
		return "data-written"
	case StateFinalized:
		return "finalized"
	case StateHeaderRead:
		return "header-read"
	case StateMetadataRead:
		return "metadata-read"
	case StateDataDecoded:
		return "data-decoded"
	case StateFilesWritten:
		return "files-written"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
