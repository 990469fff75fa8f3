package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Done is the termination sentinel, the JSON string "done". It is the only
// message whose meaning does not depend on its position in the stream.
var Done = []byte(`"done"`)

var ErrMalformed = errors.New("protocol: malformed message")

// HaveSet is the list of entry names a peer reports possessing.
type HaveSet []string

// WantSet is the list of entry names a peer requests from its counterpart.
type WantSet []string

// IsDone reports whether payload is verbatim the termination sentinel.
func IsDone(payload []byte) bool {
	return bytes.Equal(payload, Done)
}

// EncodeHaves encodes a have set as a JSON array of strings.
func EncodeHaves(names HaveSet) []byte {
	return encodeNames(names)
}

// EncodeWants encodes a want set as a JSON array of strings.
func EncodeWants(names WantSet) []byte {
	return encodeNames(names)
}

// EncodeCount encodes the number of files about to be pushed.
func EncodeCount(n int) []byte {
	return []byte(strconv.Itoa(n))
}

// EncodeName encodes an entry name as raw UTF-8 bytes (not JSON-wrapped).
func EncodeName(name string) []byte {
	return []byte(name)
}

func encodeNames(names []string) []byte {
	if names == nil {
		names = []string{}
	}
	// Marshalling a []string cannot fail.
	data, _ := json.Marshal(names)
	return data
}

// DecodeHaves parses the payload received in the wait-remote-haves state.
func DecodeHaves(payload []byte) (HaveSet, error) {
	names, err := decodeNames(payload)
	if err != nil {
		return nil, fmt.Errorf("decode haves: %w", err)
	}
	return HaveSet(names), nil
}

// DecodeWants parses the payload received in the wait-remote-wants state.
func DecodeWants(payload []byte) (WantSet, error) {
	names, err := decodeNames(payload)
	if err != nil {
		return nil, fmt.Errorf("decode wants: %w", err)
	}
	return WantSet(names), nil
}

// DecodeCount parses the payload received in the wait-remote-files-length
// state: a non-negative JSON integer.
func DecodeCount(payload []byte) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var num json.Number
	if err := dec.Decode(&num); err != nil {
		return 0, fmt.Errorf("decode count: %w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return 0, fmt.Errorf("decode count: %w: trailing data after %s", ErrMalformed, num)
	}
	n, err := strconv.ParseInt(num.String(), 10, 0)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("decode count: %w: %q is not a non-negative integer", ErrMalformed, num)
	}
	return int(n), nil
}

// DecodeName parses the payload received in the wait-remote-file-name state.
func DecodeName(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("decode name: %w: empty name", ErrMalformed)
	}
	return string(payload), nil
}

func decodeNames(payload []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return names, nil
}
