package replication

import "fmt"

// State drives how the next inbound frame is interpreted. Exactly one
// state holds at any instant.
type State int

const (
	StateWaitRemoteHaves State = iota
	StateWaitRemoteWants
	StateWaitRemoteFilesLength
	StateWaitRemoteFileName
	StateWaitRemoteFileData
	StateWaitRemoteDone
	StateClosed

	numStates
)

var stateNames = [numStates]string{
	StateWaitRemoteHaves:       "wait-remote-haves",
	StateWaitRemoteWants:       "wait-remote-wants",
	StateWaitRemoteFilesLength: "wait-remote-files-length",
	StateWaitRemoteFileName:    "wait-remote-file-name",
	StateWaitRemoteFileData:    "wait-remote-file-data",
	StateWaitRemoteDone:        "wait-remote-done",
	StateClosed:                "closed",
}

func (s State) String() string {
	if s < 0 || s >= numStates {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}
