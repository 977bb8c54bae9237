package safetydata

import (
	"encoding/binary"
	"math"
)

// decodeNumeric interprets value as the given Type for limit checking.
// ok is false for types this store doesn't range-check (TypeBytes, TypeBool).
func decodeNumeric(t Type, value []byte) (float64, bool) {
	switch t {
	case TypeUint8:
		if len(value) < 1 {
			return 0, false
		}
		return float64(value[0]), true
	case TypeUint16:
		if len(value) < 2 {
			return 0, false
		}
		return float64(binary.BigEndian.Uint16(value)), true
	case TypeUint32:
		if len(value) < 4 {
			return 0, false
		}
		return float64(binary.BigEndian.Uint32(value)), true
	case TypeInt8:
		if len(value) < 1 {
			return 0, false
		}
		return float64(int8(value[0])), true
	case TypeInt16:
		if len(value) < 2 {
			return 0, false
		}
		return float64(int16(binary.BigEndian.Uint16(value))), true
	case TypeInt32:
		if len(value) < 4 {
			return 0, false
		}
		return float64(int32(binary.BigEndian.Uint32(value))), true
	case TypeFloat32:
		if len(value) < 4 {
			return 0, false
		}
		bits := binary.BigEndian.Uint32(value)
		return float64(math.Float32frombits(bits)), true
	default:
		return 0, false
	}
}

// encodeNumeric is the inverse of decodeNumeric, used by Reset to materialize
// Limits.Default into the datum's byte representation. Returns nil for types
// it doesn't know how to encode, letting the caller fall back to a
// zero-filled buffer.
func encodeNumeric(t Type, v float64, size int) []byte {
	switch t {
	case TypeUint8:
		return []byte{byte(uint8(v))}
	case TypeUint16:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(v))
		return buf
	case TypeUint32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(v))
		return buf
	case TypeInt8:
		return []byte{byte(int8(v))}
	case TypeInt16:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(int16(v)))
		return buf
	case TypeInt32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(int32(v)))
		return buf
	case TypeFloat32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v)))
		return buf
	default:
		return nil
	}
}
