package codec

import "google.golang.org/protobuf/proto"

// Protobuf encodes generated message types, e.g. Protobuf[*pb.Episode]{}.
// The zero value is ready to use: Decode allocates a fresh T through protoreflect.
type Protobuf[T proto.Message] struct{}

func (Protobuf[T]) Encode(v T) ([]byte, error) { return proto.Marshal(v) }

func (Protobuf[T]) Decode(b []byte) (T, error) {
	var zero T
	m := zero.ProtoReflect().New().Interface().(T)
	if err := proto.Unmarshal(b, m); err != nil {
		return zero, err
	}
	return m, nil
}
