// Package crcutil implements table-driven CRC-8/16/32/64 with configurable
// polynomial, initial value, and final XOR. Tables are plain values owned by
// whoever builds them (an E2E config, the safety data store) rather than a
// process-wide singleton, so reconfiguration never races a concurrent
// Compute call on an unrelated owner.
//
// Profile 5 (CRC-64/ISO) and profile 6 (custom) are fully implemented, not
// stubs: a kernel that cannot authenticate its own diagnostic trailer is not
// shippable.
package crcutil

import "github.com/redlinetelematics/ecucore/ecoerr"

// Profile identifies one of the standard E2E CRC profiles, or a custom one.
type Profile int

const (
	Profile1_CRC8_SAEJ1850 Profile = iota
	Profile2_CRC16_CCITT
	Profile4_CRC32_AUTOSAR
	Profile5_CRC64_ISO
	Profile6_Custom
)

// Width returns the CRC width in bytes for the profile.
func (p Profile) Width() int {
	switch p {
	case Profile1_CRC8_SAEJ1850:
		return 1
	case Profile2_CRC16_CCITT:
		return 2
	case Profile4_CRC32_AUTOSAR:
		return 4
	case Profile5_CRC64_ISO, Profile6_Custom:
		return 8
	default:
		return 0
	}
}

// Params are the polynomial parameters backing a Profile. Profiles 1, 2, and
// 4 have well-known defaults; profile 5 uses the standard ISO CRC-64
// polynomial; profile 6 requires the caller to supply one.
type Params struct {
	Poly    uint64
	Init    uint64
	XorOut  uint64
	BitsLSB bool // true = reflected/LSB-first table walk
}

// DefaultParams returns the canonical parameters for the built-in profiles.
// Profile6_Custom has no default and must be supplied by the caller.
func DefaultParams(p Profile) (Params, error) {
	switch p {
	case Profile1_CRC8_SAEJ1850:
		return Params{Poly: 0x07, Init: 0x00, XorOut: 0x00}, nil
	case Profile2_CRC16_CCITT:
		return Params{Poly: 0x1021, Init: 0xFFFF, XorOut: 0x0000}, nil
	case Profile4_CRC32_AUTOSAR:
		return Params{Poly: 0x04C11DB7, Init: 0xFFFFFFFF, XorOut: 0xFFFFFFFF}, nil
	case Profile5_CRC64_ISO:
		return Params{Poly: 0x000000000000001B, Init: 0xFFFFFFFFFFFFFFFF, XorOut: 0xFFFFFFFFFFFFFFFF, BitsLSB: true}, nil
	default:
		return Params{}, ecoerr.New(ecoerr.KindConfiguration, "crc_no_default_params", nil)
	}
}

// Table is an immutable 256-entry lookup table bound to one width and set of
// parameters. Rebuilding with the same polynomial yields a byte-identical
// table (BuildTable is a pure function of its inputs).
type Table struct {
	profile Profile
	params  Params
	width   int
	entries [256]uint64
}

// Profile returns the profile this table was built for.
func (t Table) Profile() Profile { return t.profile }

// Params returns the parameters this table was built from.
func (t Table) Params() Params { return t.params }

// BuildTable constructs a CRC table for the given profile from its
// DefaultParams. Profile6_Custom has no default parameters and is rejected
// here; build it (or override a standard profile's parameters) with
// BuildCustomTable.
func BuildTable(profile Profile) (Table, error) {
	params, err := DefaultParams(profile)
	if err != nil {
		return Table{}, err
	}
	return buildTable(profile, params)
}

// BuildCustomTable constructs profile 6 with caller-supplied parameters, or
// overrides the default parameters of a standard profile (used by
// crc_set_polynomial-style reconfiguration).
func BuildCustomTable(profile Profile, params Params) (Table, error) {
	if profile == Profile6_Custom && params.Poly == 0 {
		return Table{}, ecoerr.New(ecoerr.KindConfiguration, "crc_custom_requires_poly", nil)
	}
	return buildTable(profile, params)
}

func buildTable(profile Profile, params Params) (Table, error) {
	width := profile.Width()
	if width == 0 {
		return Table{}, ecoerr.New(ecoerr.KindConfiguration, "crc_unknown_profile", nil)
	}
	t := Table{profile: profile, params: params, width: width}
	topBit := uint64(1) << uint(width*8-1)
	mask := topBit<<1 - 1
	for i := 0; i < 256; i++ {
		var crc uint64
		if params.BitsLSB {
			crc = uint64(i)
			for j := 0; j < 8; j++ {
				if crc&1 != 0 {
					crc = (crc >> 1) ^ reflect64(params.Poly, width)
				} else {
					crc >>= 1
				}
			}
		} else {
			crc = uint64(i) << uint(width*8-8)
			for j := 0; j < 8; j++ {
				if crc&topBit != 0 {
					crc = ((crc << 1) ^ params.Poly) & mask
				} else {
					crc = (crc << 1) & mask
				}
			}
		}
		t.entries[i] = crc & mask
	}
	return t, nil
}

// reflect64 bit-reverses the low width*8 bits of v.
func reflect64(v uint64, width int) uint64 {
	bits := width * 8
	var r uint64
	for i := 0; i < bits; i++ {
		if v&(1<<uint(i)) != 0 {
			r |= 1 << uint(bits-1-i)
		}
	}
	return r
}

// Compute runs the table walk over data, seeded with the table's configured
// Init and finished with its configured XorOut.
func (t Table) Compute(data []byte) uint64 {
	mask := uint64(1)<<uint(t.width*8) - 1
	crc := t.params.Init & mask
	if t.params.BitsLSB {
		for _, b := range data {
			idx := byte(crc) ^ b
			crc = (crc >> 8) ^ t.entries[idx]
		}
	} else {
		shift := uint(t.width*8 - 8)
		for _, b := range data {
			idx := byte(crc>>shift) ^ b
			crc = ((crc << 8) ^ t.entries[idx]) & mask
		}
	}
	return (crc ^ t.params.XorOut) & mask
}

// CRC8 computes a one-shot CRC-8/SAE-J1850 over data, for callers that don't
// need a reusable Table.
func CRC8(data []byte) uint8 {
	t, _ := BuildTable(Profile1_CRC8_SAEJ1850)
	return uint8(t.Compute(data))
}

// CRC32 computes a one-shot CRC-32/AUTOSAR over data.
func CRC32(data []byte) uint32 {
	t, _ := BuildTable(Profile4_CRC32_AUTOSAR)
	return uint32(t.Compute(data))
}
