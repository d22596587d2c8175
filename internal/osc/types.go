// Package osc implements the subset of the OSC 1.0 binary encoding used by
// face tracking sources: messages with a single leading argument and bundles
// of such messages.
//
// All numeric fields are big-endian and every field is padded with NULs to a
// 32-bit boundary.
package osc

import (
	"errors"
	"fmt"
	"math"
)

// Type is an OSC type tag character.
type Type byte

const (
	TypeFloat32 Type = 'f'
	TypeInt32   Type = 'i'
	TypeString  Type = 's'
	TypeTrue    Type = 'T'
	TypeFalse   Type = 'F'
)

// BundleTag prefixes every bundle payload.
const BundleTag = "#bundle"

// Decode errors. Callers match them with errors.Is.
var (
	ErrMissingAddress  = errors.New("osc: address must begin with '/'")
	ErrUnterminated    = errors.New("osc: string not NUL terminated")
	ErrMissingTypeTag  = errors.New("osc: type tag must begin with ','")
	ErrTruncated       = errors.New("osc: truncated value")
	ErrUnsupportedType = errors.New("osc: unsupported type tag")
	ErrBadBundle       = errors.New("osc: malformed bundle")
)

// Value is a single OSC argument. Only the field matching Type is meaningful.
type Value struct {
	Type   Type
	Float  float32
	Int    int32
	String string
}

// Float32 returns a float argument.
func Float32(v float32) Value { return Value{Type: TypeFloat32, Float: v} }

// Int32 returns an int argument.
func Int32(v int32) Value { return Value{Type: TypeInt32, Int: v} }

// String returns a string argument.
func String(s string) Value { return Value{Type: TypeString, String: s} }

// Bool returns a T or F argument.
func Bool(b bool) Value {
	if b {
		return Value{Type: TypeTrue}
	}
	return Value{Type: TypeFalse}
}

// Bool reports the truth value of a T/F argument. Other types return false.
func (v Value) Bool() bool { return v.Type == TypeTrue }

// Equal compares two values, treating NaN floats with identical bits as equal.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeFloat32:
		return math.Float32bits(v.Float) == math.Float32bits(o.Float)
	case TypeInt32:
		return v.Int == o.Int
	case TypeString:
		return v.String == o.String
	}
	return true
}

func (v Value) GoString() string {
	switch v.Type {
	case TypeFloat32:
		return fmt.Sprintf("f:%g", v.Float)
	case TypeInt32:
		return fmt.Sprintf("i:%d", v.Int)
	case TypeString:
		return fmt.Sprintf("s:%q", v.String)
	case TypeTrue:
		return "T"
	case TypeFalse:
		return "F"
	}
	return fmt.Sprintf("?%c", v.Type)
}

// Packet is either a *Message or a *Bundle.
type Packet interface {
	isPacket()
}

// Message is an address plus its arguments. Decoding keeps only the first
// argument; the rest of the type tag string is skipped.
type Message struct {
	Address string
	Args    []Value
}

func (*Message) isPacket() {}

// First returns the leading argument, if any.
func (m *Message) First() (Value, bool) {
	if m == nil || len(m.Args) == 0 {
		return Value{}, false
	}
	return m.Args[0], true
}

// Float returns the leading argument when it is a float32.
func (m *Message) Float() (float32, bool) {
	v, ok := m.First()
	if !ok || v.Type != TypeFloat32 {
		return 0, false
	}
	return v.Float, true
}

// Equal compares address and arguments.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Address != o.Address || len(m.Args) != len(o.Args) {
		return false
	}
	for i := range m.Args {
		if !m.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

// Bundle is an ordered sequence of packets. The time tag is carried through
// but has no meaning to this system.
type Bundle struct {
	Timetag uint64
	Packets []Packet
}

func (*Bundle) isPacket() {}

// Flatten returns every message contained in p in wire order.
func Flatten(p Packet) []*Message {
	var out []*Message
	var walk func(Packet)
	walk = func(p Packet) {
		switch v := p.(type) {
		case *Message:
			if v != nil {
				out = append(out, v)
			}
		case *Bundle:
			if v == nil {
				return
			}
			for _, child := range v.Packets {
				walk(child)
			}
		}
	}
	walk(p)
	return out
}

// pad4 rounds n up to the next multiple of 4.
func pad4(n int) int {
	return (n + 3) &^ 3
}
