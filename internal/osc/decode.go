package osc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var bundlePrefix = []byte(BundleTag + "\x00")

// ReadString reads a NUL terminated, 4-byte padded string starting at offset.
// It returns the string and the offset of the next field, which is always a
// multiple of 4 relative to the start of buf.
func ReadString(buf []byte, offset int) (string, int, error) {
	if offset < 0 || offset >= len(buf) {
		return "", offset, ErrTruncated
	}
	end := bytes.IndexByte(buf[offset:], 0)
	if end < 0 {
		return "", offset, ErrUnterminated
	}
	s := string(buf[offset : offset+end])
	next := offset + pad4(end+1)
	if next > len(buf) {
		return "", offset, fmt.Errorf("%w: string padding runs past end of buffer", ErrTruncated)
	}
	return s, next, nil
}

// DecodeMessage decodes a single OSC message. Only the first argument named
// by the type tag string is decoded.
func DecodeMessage(buf []byte) (*Message, error) {
	if len(buf) == 0 || buf[0] != '/' {
		return nil, ErrMissingAddress
	}
	address, off, err := ReadString(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}

	if off >= len(buf) || buf[off] != ',' {
		return nil, fmt.Errorf("%s: %w", address, ErrMissingTypeTag)
	}
	tags, off, err := ReadString(buf, off)
	if err != nil {
		return nil, fmt.Errorf("%s: type tag: %w", address, err)
	}

	msg := &Message{Address: address}
	if len(tags) < 2 {
		return msg, nil
	}

	v, err := decodeValue(Type(tags[1]), buf, off)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", address, err)
	}
	msg.Args = []Value{v}
	return msg, nil
}

func decodeValue(t Type, buf []byte, off int) (Value, error) {
	switch t {
	case TypeFloat32:
		if off+4 > len(buf) {
			return Value{}, ErrTruncated
		}
		bits := binary.BigEndian.Uint32(buf[off : off+4])
		return Float32(math.Float32frombits(bits)), nil
	case TypeInt32:
		if off+4 > len(buf) {
			return Value{}, ErrTruncated
		}
		return Int32(int32(binary.BigEndian.Uint32(buf[off : off+4]))), nil
	case TypeString:
		s, _, err := ReadString(buf, off)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case TypeTrue:
		return Bool(true), nil
	case TypeFalse:
		return Bool(false), nil
	}
	return Value{}, fmt.Errorf("%w %q", ErrUnsupportedType, byte(t))
}

// IsBundle reports whether buf starts with the bundle tag.
func IsBundle(buf []byte) bool {
	return bytes.HasPrefix(buf, bundlePrefix)
}

// Decode decodes a message or bundle. Bundle elements that fail to decode are
// skipped and their errors joined into the returned error; the bundle itself
// is still returned, so a non-nil Packet with a non-nil error is a partial
// decode.
func Decode(buf []byte) (Packet, error) {
	var errs []error
	p := decode(buf, &errs)
	return p, errors.Join(errs...)
}

// DecodeAll flattens buf into its messages and returns each decode failure
// separately.
func DecodeAll(buf []byte) ([]*Message, []error) {
	var errs []error
	p := decode(buf, &errs)
	if p == nil {
		return nil, errs
	}
	return Flatten(p), errs
}

func decode(buf []byte, errs *[]error) Packet {
	if IsBundle(buf) {
		b, err := decodeBundle(buf, errs)
		if err != nil {
			*errs = append(*errs, err)
			return nil
		}
		return b
	}
	msg, err := DecodeMessage(buf)
	if err != nil {
		*errs = append(*errs, err)
		return nil
	}
	return msg
}

// decodeBundle walks size-prefixed elements. A bad element is recorded and
// skipped; an element whose size runs past the buffer ends the walk because
// the following boundaries can no longer be trusted.
func decodeBundle(buf []byte, errs *[]error) (*Bundle, error) {
	const header = 16 // "#bundle\0" + 8-byte time tag
	if len(buf) < header {
		return nil, fmt.Errorf("%w: %d byte header", ErrBadBundle, len(buf))
	}
	b := &Bundle{Timetag: binary.BigEndian.Uint64(buf[8:16])}

	off := header
	for i := 0; off < len(buf); i++ {
		if off+4 > len(buf) {
			*errs = append(*errs, fmt.Errorf("bundle element %d: %w: size field", i, ErrBadBundle))
			break
		}
		size := int(int32(binary.BigEndian.Uint32(buf[off : off+4])))
		off += 4
		if size < 0 || off+size > len(buf) {
			*errs = append(*errs, fmt.Errorf("bundle element %d: %w: size %d exceeds remaining %d bytes", i, ErrBadBundle, size, len(buf)-off))
			break
		}
		elem := buf[off : off+size]
		off += size

		var elemErrs []error
		p := decode(elem, &elemErrs)
		for _, err := range elemErrs {
			*errs = append(*errs, fmt.Errorf("bundle element %d: %w", i, err))
		}
		if p != nil {
			b.Packets = append(b.Packets, p)
		}
	}
	return b, nil
}
