package attr

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// PropertyKind tags the variant carried by a TypedProperty.
type PropertyKind int

const (
	// KindString marks a UTF-8 string value.
	KindString PropertyKind = iota
	// KindInteger marks a 64-bit little-endian integer value.
	KindInteger
	// KindBytes marks an opaque byte value.
	KindBytes
)

// TypedProperty is a tagged variant over {String, Integer, Bytes}, mirroring
// how host properties arrive as raw bytes but carry a declared logical type.
type TypedProperty struct {
	Kind    PropertyKind
	Str     string
	Int     int64
	RawByte []byte
}

// StringProperty builds a String-kind property.
func StringProperty(s string) TypedProperty {
	return TypedProperty{Kind: KindString, Str: s}
}

// IntegerProperty builds an Integer-kind property.
func IntegerProperty(v int64) TypedProperty {
	return TypedProperty{Kind: KindInteger, Int: v}
}

// BytesProperty builds a Bytes-kind property.
func BytesProperty(b []byte) TypedProperty {
	out := make([]byte, len(b))
	copy(out, b)
	return TypedProperty{Kind: KindBytes, RawByte: out}
}

// AsString renders the property as a string: the value itself for String,
// decimal for Integer, and `\xHH`-escaped for Bytes.
func (p TypedProperty) AsString() string {
	switch p.Kind {
	case KindString:
		return p.Str
	case KindInteger:
		return strconv.FormatInt(p.Int, 10)
	case KindBytes:
		var b strings.Builder
		for _, by := range p.RawByte {
			fmt.Fprintf(&b, "\\x%02X", by)
		}
		return b.String()
	default:
		return ""
	}
}

// TypeRegistry maps a Path's canonical string form to the decoder used for
// raw host bytes arriving at that path. Paths absent from the registry are
// left as raw Bytes properties.
type TypeRegistry struct {
	decoders map[string]func([]byte) TypedProperty
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{decoders: make(map[string]func([]byte) TypedProperty)}
}

// NewDefaultTypeRegistry returns a registry pre-populated with the
// well-known attributes the ext_proc server itself synthesizes from the
// stream (request.host/method/path, source.address/remote_address,
// response.code). Every one of these is written as a string property, so
// without a registered decoder a later GetAttribute would decode it back as
// opaque Bytes and AsString would hex-escape it instead of returning the
// original value.
func NewDefaultTypeRegistry() *TypeRegistry {
	r := NewTypeRegistry()
	for _, field := range []string{"host", "method", "path"} {
		r.RegisterString(NewPath("request", field))
	}
	for _, field := range []string{"address", "remote_address"} {
		r.RegisterString(NewPath("source", field))
	}
	r.RegisterString(NewPath("response", "code"))
	return r
}

// RegisterString declares that raw bytes at path should be decoded as a UTF-8 string.
func (r *TypeRegistry) RegisterString(path Path) {
	r.decoders[path.String()] = func(b []byte) TypedProperty { return StringProperty(string(b)) }
}

// RegisterInteger declares that raw bytes at path should be decoded as a
// 64-bit little-endian integer.
func (r *TypeRegistry) RegisterInteger(path Path) {
	r.decoders[path.String()] = func(b []byte) TypedProperty {
		if len(b) < 8 {
			padded := make([]byte, 8)
			copy(padded, b)
			b = padded
		}
		return IntegerProperty(int64(binary.LittleEndian.Uint64(b[:8])))
	}
}

// Decode converts raw host bytes into a TypedProperty, consulting the
// registry for path; unknown paths remain raw Bytes.
func (r *TypeRegistry) Decode(path Path, raw []byte) TypedProperty {
	if r != nil {
		if dec, ok := r.decoders[path.String()]; ok {
			return dec(raw)
		}
	}
	return BytesProperty(raw)
}
