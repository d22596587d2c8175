package osc

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// AvatarChangeAddress asks the tracking source to (re)send its parameters.
const AvatarChangeAddress = "/avatar/change"

// appendString appends s, a NUL terminator and padding to a 4-byte boundary.
func appendString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	dst = append(dst, 0)
	for len(dst)%4 != 0 {
		dst = append(dst, 0)
	}
	return dst
}

func checkString(field, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("osc: %s contains NUL", field)
	}
	return nil
}

// Encode builds a single-argument message.
func Encode(address string, v Value) ([]byte, error) {
	return EncodeMessage(&Message{Address: address, Args: []Value{v}})
}

// EncodeMessage builds the wire form of m with all of its arguments.
func EncodeMessage(m *Message) ([]byte, error) {
	if !strings.HasPrefix(m.Address, "/") {
		return nil, ErrMissingAddress
	}
	if err := checkString("address", m.Address); err != nil {
		return nil, err
	}

	tags := make([]byte, 0, len(m.Args)+1)
	tags = append(tags, ',')
	for _, a := range m.Args {
		switch a.Type {
		case TypeFloat32, TypeInt32, TypeString, TypeTrue, TypeFalse:
			tags = append(tags, byte(a.Type))
		default:
			return nil, fmt.Errorf("%w %q", ErrUnsupportedType, byte(a.Type))
		}
	}

	buf := make([]byte, 0, pad4(len(m.Address)+1)+pad4(len(tags)+1)+4*len(m.Args))
	buf = appendString(buf, m.Address)
	buf = appendString(buf, string(tags))
	for _, a := range m.Args {
		switch a.Type {
		case TypeFloat32:
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(a.Float))
		case TypeInt32:
			buf = binary.BigEndian.AppendUint32(buf, uint32(a.Int))
		case TypeString:
			if err := checkString("string argument", a.String); err != nil {
				return nil, err
			}
			buf = appendString(buf, a.String)
		}
	}
	return buf, nil
}

// EncodeBundle wraps already encoded elements in a bundle.
func EncodeBundle(timetag uint64, elems ...[]byte) []byte {
	size := 16
	for _, e := range elems {
		size += 4 + len(e)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, bundlePrefix...)
	buf = binary.BigEndian.AppendUint64(buf, timetag)
	for _, e := range elems {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e)))
		buf = append(buf, e...)
	}
	return buf
}

// AvatarChange is the request that makes the source start sending.
func AvatarChange(value string) *Message {
	return &Message{Address: AvatarChangeAddress, Args: []Value{String(value)}}
}

// ForceRelevantAddress is the settings address for namespace, e.g.
// "/sl/settings/forceRelevant".
func ForceRelevantAddress(namespace string) string {
	return "/" + strings.Trim(namespace, "/") + "/settings/forceRelevant"
}

// ForceRelevant asks the source to keep sending even when it believes nobody
// is listening.
func ForceRelevant(namespace string, on bool) *Message {
	return &Message{Address: ForceRelevantAddress(namespace), Args: []Value{Bool(on)}}
}
