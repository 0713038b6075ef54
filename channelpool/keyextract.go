package channelpool

import "strings"

// FieldKind distinguishes the two shapes KeyExtractor cares about: a leaf
// the path can terminate on, and a nested message it can recurse into.
// Anything else (ints, bools, repeated fields, ...) is simply absent as far
// as affinity-key extraction is concerned.
type FieldKind int

const (
	// KindAbsent means the named field does not exist, is unset, or is of a
	// type KeyExtractor does not understand.
	KindAbsent FieldKind = iota
	KindString
	KindMessage
)

// FieldValue is what Message.Field returns for a present field.
type FieldValue struct {
	Kind FieldKind
	Str  string
	Msg  Message
}

// Message is the representation-agnostic structured message KeyExtractor
// walks. The core package depends on nothing more specific than this —
// per the Design Notes, "the core's contract does not depend on any
// particular in-memory representation". Real RPC request/response types
// (protobuf messages in practice) are adapted to it by the sibling
// protoadapter package; tests can implement it directly with plain structs
// or maps.
type Message interface {
	// Field looks up the top-level field named name. ok is false if the
	// field is absent from the message's set of present fields.
	Field(name string) (value FieldValue, ok bool)
}

// KeyExtractor walks msg by the dotted path (e.g. "transaction.session")
// and returns the string-valued leaf, if present. Any of: a missing path
// segment, an unset field, or a field of the wrong type (not a string at
// the leaf, not a message at an intermediate segment) yields ("", false) —
// never an error. Iteration order over a message's field set never matters
// because at most one top-level field matches a given name.
func KeyExtractor(msg Message, path string) (string, bool) {
	if msg == nil || path == "" {
		return "", false
	}
	segments := strings.Split(path, ".")
	cur := msg
	for i, seg := range segments {
		val, ok := cur.Field(seg)
		if !ok {
			return "", false
		}
		last := i == len(segments)-1
		if last {
			if val.Kind != KindString {
				return "", false
			}
			return val.Str, true
		}
		if val.Kind != KindMessage || val.Msg == nil {
			return "", false
		}
		cur = val.Msg
	}
	return "", false
}
