package gdata

import (
	"encoding/hex"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// MarshalYAML renders Null and Map as bare names and every other value as a
// single-entry map from kind name to payload, for example {String: alice}.
// Floats are written as their IEEE-754 bits so NaN payloads survive.
func (v Value) MarshalYAML() (any, error) {
	switch v.kind {
	case KindNull, KindMap:
		return v.kind.String(), nil
	case KindBool:
		return map[string]bool{v.kind.String(): v.num != 0}, nil
	case KindUint:
		return map[string]uint64{v.kind.String(): v.num}, nil
	case KindInt:
		return map[string]int64{v.kind.String(): int64(v.num)}, nil
	case KindFloat:
		return map[string]string{v.kind.String(): fmt.Sprintf("%016x", v.num)}, nil
	case KindString:
		return map[string]string{v.kind.String(): v.str}, nil
	case KindBytes:
		return map[string]string{v.kind.String(): hex.EncodeToString([]byte(v.str))}, nil
	case KindLink:
		return map[string]Link{v.kind.String(): *v.link}, nil
	default:
		return nil, fmt.Errorf("%w: unknown value kind %d", types.ErrInvalidFormat, v.kind)
	}
}

// UnmarshalYAML reads the form written by MarshalYAML. Unknown kinds are
// types.ErrInvalidFormat.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		switch node.Value {
		case "Null":
			*v = Null()
		case "Map":
			*v = Map()
		default:
			return fmt.Errorf("%w: unknown value %q", types.ErrInvalidFormat, node.Value)
		}
		return nil
	}
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("%w: value must be a name or a single-entry map", types.ErrInvalidFormat)
	}
	kind, payload := node.Content[0].Value, node.Content[1]
	switch kind {
	case "Bool":
		var b bool
		if err := payload.Decode(&b); err != nil {
			return err
		}
		*v = Bool(b)
	case "Uint":
		var u uint64
		if err := payload.Decode(&u); err != nil {
			return err
		}
		*v = Uint(u)
	case "Int":
		var i int64
		if err := payload.Decode(&i); err != nil {
			return err
		}
		*v = Int(i)
	case "Float":
		var bits uint64
		if _, err := fmt.Sscanf(payload.Value, "%x", &bits); err != nil {
			return fmt.Errorf("%w: float bits: %v", types.ErrInvalidFormat, err)
		}
		*v = Float(math.Float64frombits(bits))
	case "String":
		var s string
		if err := payload.Decode(&s); err != nil {
			return err
		}
		*v = String(s)
	case "Bytes":
		b, err := hex.DecodeString(payload.Value)
		if err != nil {
			return fmt.Errorf("%w: bytes: %v", types.ErrInvalidFormat, err)
		}
		*v = Bytes(b)
	case "Link":
		var l Link
		if err := payload.Decode(&l); err != nil {
			return err
		}
		*v = LinkTo(l)
	default:
		return fmt.Errorf("%w: unknown value kind %q", types.ErrInvalidFormat, kind)
	}
	return nil
}
