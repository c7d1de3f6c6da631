package arch

import "encoding/binary"

// RegisterValue is one register observation. Values[0] is the register
// content; later entries are the words reached by dereferencing it.
type RegisterValue struct {
	Register Register `json:"register"`
	Values   []uint64 `json:"values"`
}

// Value returns the raw register content, or 0 if nothing was observed.
func (v RegisterValue) Value() uint64 {
	if len(v.Values) == 0 {
		return 0
	}
	return v.Values[0]
}

func (v RegisterValue) AppendKey(b []byte) []byte {
	b = append(b, string(v.Register.Arch)...)
	b = append(b, ':')
	b = append(b, v.Register.Name...)
	b = append(b, 0)
	for _, w := range v.Values {
		b = binary.LittleEndian.AppendUint64(b, w)
	}
	return b
}

// RegisterState is an ordered snapshot of register observations.
type RegisterState []RegisterValue

// Lookup returns the observation for r.
func (s RegisterState) Lookup(r Register) (RegisterValue, bool) {
	for _, v := range s {
		if v.Register == r {
			return v, true
		}
	}
	return RegisterValue{}, false
}

// Values returns the raw content of every register, in snapshot order.
func (s RegisterState) Values() []uint64 {
	out := make([]uint64, len(s))
	for i, v := range s {
		out[i] = v.Value()
	}
	return out
}

func (s RegisterState) AppendKey(b []byte) []byte {
	for _, v := range s {
		b = v.AppendKey(b)
		b = append(b, 0xff)
	}
	return b
}
