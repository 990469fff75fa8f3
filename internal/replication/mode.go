package replication

import (
	"fmt"
	"strings"
)

// Mode selects what a peer offers and requests during one session.
type Mode int

const (
	// ModeSync offers every local entry and requests everything missing.
	ModeSync Mode = iota
	// ModePush offers every local entry and never requests anything.
	ModePush
	// ModePull offers only the entries both sides already have and
	// requests everything missing.
	ModePull
	// ModeNull runs the handshake without transferring anything.
	ModeNull
)

var modeNames = [...]string{
	ModeSync: "sync",
	ModePush: "push",
	ModePull: "pull",
	ModeNull: "null",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode converts a mode name. The empty string selects ModeSync.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeSync, nil
	}
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return ModeSync, fmt.Errorf("unknown replication mode %q (want sync, push, pull or null)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// withholdsHaves reports whether the local have set is announced only
// after the peer's is known, reduced to the entries both sides have.
func (m Mode) withholdsHaves() bool {
	return m == ModePull
}

// offers reports whether the mode announces its local entries at all.
func (m Mode) offers() bool {
	return m != ModeNull
}

// requests reports whether the mode ever asks the peer for content.
func (m Mode) requests() bool {
	return m == ModeSync || m == ModePull
}
