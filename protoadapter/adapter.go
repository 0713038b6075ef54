// Package protoadapter adapts real protobuf messages into the
// representation-agnostic channelpool.Message contract, so KeyExtractor can
// walk actual RPC request/response types without the core channelpool
// package taking a dependency on protobuf — its contract does not depend on
// any particular in-memory representation.
package protoadapter

import (
	"github.com/webitel/grpc-channelpool/channelpool"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Adapter is a channelpool.MessageAdapter backed by protoreflect. Install it
// with channelpool.WithMessageAdapter(protoadapter.Adapter) when the pool's
// calls carry real protobuf request/response types.
func Adapter(v any) (channelpool.Message, bool) {
	m, ok := v.(proto.Message)
	if !ok || m == nil {
		return nil, false
	}
	return message{m.ProtoReflect()}, true
}

// message wraps a protoreflect.Message to satisfy channelpool.Message.
type message struct {
	refl protoreflect.Message
}

func (m message) Field(name string) (channelpool.FieldValue, bool) {
	fd := m.refl.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		return channelpool.FieldValue{}, false
	}

	switch fd.Kind() {
	case protoreflect.StringKind:
		// Proto3 scalar fields without explicit `optional` carry no
		// presence tracking; KeyExtractor treats "unset" and "empty" the
		// same way (both "not found"), so a non-empty value is enough
		// evidence of presence either way.
		if fd.HasPresence() && !m.refl.Has(fd) {
			return channelpool.FieldValue{}, false
		}
		str := m.refl.Get(fd).String()
		if str == "" {
			return channelpool.FieldValue{}, false
		}
		return channelpool.FieldValue{Kind: channelpool.KindString, Str: str}, true

	case protoreflect.MessageKind, protoreflect.GroupKind:
		if !m.refl.Has(fd) {
			return channelpool.FieldValue{}, false
		}
		nested := m.refl.Get(fd).Message()
		return channelpool.FieldValue{Kind: channelpool.KindMessage, Msg: message{nested}}, true

	default:
		return channelpool.FieldValue{}, false
	}
}
