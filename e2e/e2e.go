// Package e2e implements end-to-end data protection: a sequence counter
// plus a CRC computed over header-and-payload, detecting dropped, reordered,
// stale, or swapped frames between a protector and checker.
package e2e

import (
	"encoding/binary"

	"github.com/redlinetelematics/ecucore/crcutil"
	"github.com/redlinetelematics/ecucore/ecoerr"
)

// FSMState is the outcome of the most recent Protect/Check call.
type FSMState int

const (
	FSMInit FSMState = iota
	FSMValid
	FSMInvalid
	FSMTimeout
)

// Config parameterizes a Protector.
type Config struct {
	Profile         crcutil.Profile
	CustomParams    crcutil.Params // only consulted when Profile == Profile6_Custom
	DataID          uint16
	MinLength       uint16
	MaxLength       uint16
	MaxDeltaCounter uint32
	TimeoutMS       uint32
	IncludeLength   bool
}

// State is the per-link protection state carried between calls.
type State struct {
	SequenceCounter uint32
	LastTimestampMS uint64
	FSM             FSMState
	ErrorCount      uint32
}

// Frame is the wire-level protected frame.
type Frame struct {
	DataID   uint16
	Sequence uint32
	Length   uint16
	CRC      uint64
	Payload  []byte
}

// Protector computes and verifies E2E frames for one configuration.
type Protector struct {
	cfg   Config
	table crcutil.Table
}

// New builds a Protector, constructing the profile's CRC table up front so
// a misconfigured Profile 5/6 is rejected at construction rather than on
// first use.
func New(cfg Config) (*Protector, error) {
	if cfg.MaxDeltaCounter == 0 {
		return nil, ecoerr.New(ecoerr.KindConfiguration, "e2e_max_delta_counter_zero", nil)
	}
	var table crcutil.Table
	var err error
	if cfg.Profile == crcutil.Profile6_Custom {
		table, err = crcutil.BuildCustomTable(cfg.Profile, cfg.CustomParams)
	} else {
		table, err = crcutil.BuildTable(cfg.Profile)
	}
	if err != nil {
		return nil, ecoerr.New(ecoerr.KindConfiguration, "e2e_crc_table_build_failed", err)
	}
	return &Protector{cfg: cfg, table: table}, nil
}

func (p *Protector) header(sequence uint32, length uint16) []byte {
	n := 2 + 4
	if p.cfg.IncludeLength {
		n += 2
	}
	h := make([]byte, n)
	binary.BigEndian.PutUint16(h[0:2], p.cfg.DataID)
	binary.BigEndian.PutUint32(h[2:6], sequence)
	if p.cfg.IncludeLength {
		binary.BigEndian.PutUint16(h[6:8], length)
	}
	return h
}

func (p *Protector) computeCRC(sequence uint32, length uint16, payload []byte) uint64 {
	buf := make([]byte, 0, 8+len(payload))
	buf = append(buf, p.header(sequence, length)...)
	buf = append(buf, payload...)
	return p.table.Compute(buf)
}

// Protect advances state's sequence counter and stamps frame with the
// computed header, sequence, and CRC for payload. nowMS is the current
// millisecond timestamp (supplied by the caller's clock.Source, per this
// module's rule against package-level mutable clocks).
func (p *Protector) Protect(state *State, payload []byte, nowMS uint64) (Frame, error) {
	if len(payload) < int(p.cfg.MinLength) || (p.cfg.MaxLength > 0 && len(payload) > int(p.cfg.MaxLength)) {
		return Frame{}, ecoerr.New(ecoerr.KindConfiguration, "e2e_payload_length_out_of_range", nil)
	}

	state.SequenceCounter = (state.SequenceCounter + 1) % p.cfg.MaxDeltaCounter

	frame := Frame{
		DataID:   p.cfg.DataID,
		Sequence: state.SequenceCounter,
		Length:   uint16(len(payload)),
		Payload:  payload,
	}
	frame.CRC = p.computeCRC(frame.Sequence, frame.Length, payload)

	state.LastTimestampMS = nowMS
	state.FSM = FSMValid
	return frame, nil
}

// Check validates a received frame against state, updating both on success.
func (p *Protector) Check(state *State, frame Frame, nowMS uint64) error {
	if frame.DataID != p.cfg.DataID {
		state.FSM = FSMInvalid
		state.ErrorCount++
		return ecoerr.New(ecoerr.KindConfiguration, "e2e_data_id_mismatch", nil)
	}

	if state.FSM != FSMInit && nowMS-state.LastTimestampMS > uint64(p.cfg.TimeoutMS) {
		state.FSM = FSMTimeout
		state.ErrorCount++
		return ecoerr.New(ecoerr.KindTransient, "e2e_timeout", nil)
	}

	expected := (state.SequenceCounter + 1) % p.cfg.MaxDeltaCounter
	if frame.Sequence != expected {
		state.FSM = FSMInvalid
		state.ErrorCount++
		return ecoerr.New(ecoerr.KindIntegrity, "e2e_sequence_mismatch", nil)
	}

	want := p.computeCRC(frame.Sequence, frame.Length, frame.Payload)
	if want != frame.CRC {
		state.FSM = FSMInvalid
		state.ErrorCount++
		return ecoerr.New(ecoerr.KindIntegrity, "e2e_crc_mismatch", nil)
	}

	state.SequenceCounter = frame.Sequence
	state.LastTimestampMS = nowMS
	state.FSM = FSMValid
	return nil
}

// crcByteWidth returns the number of big-endian bytes the profile's CRC
// occupies on the wire.
func (p *Protector) crcByteWidth() int {
	return p.table.Profile().Width()
}

// MarshalBinary produces the exact wire layout: data_id, sequence, optional
// length, CRC (width per profile, big-endian), payload.
func (p *Protector) MarshalBinary(f Frame) []byte {
	crcWidth := p.crcByteWidth()
	hdrLen := 6
	if p.cfg.IncludeLength {
		hdrLen += 2
	}
	buf := make([]byte, 0, hdrLen+crcWidth+len(f.Payload))
	buf = append(buf, p.header(f.Sequence, f.Length)...)
	buf = append(buf, marshalCRC(f.CRC, crcWidth)...)
	buf = append(buf, f.Payload...)
	return buf
}

// UnmarshalBinary parses the layout MarshalBinary produces.
func (p *Protector) UnmarshalBinary(b []byte) (Frame, error) {
	crcWidth := p.crcByteWidth()
	hdrLen := 6
	if p.cfg.IncludeLength {
		hdrLen += 2
	}
	if len(b) < hdrLen+crcWidth {
		return Frame{}, ecoerr.New(ecoerr.KindProtocol, "e2e_frame_too_short", nil)
	}
	f := Frame{
		DataID:   binary.BigEndian.Uint16(b[0:2]),
		Sequence: binary.BigEndian.Uint32(b[2:6]),
	}
	off := 6
	if p.cfg.IncludeLength {
		f.Length = binary.BigEndian.Uint16(b[off : off+2])
		off += 2
	}
	f.CRC = unmarshalCRC(b[off:off+crcWidth], crcWidth)
	off += crcWidth
	f.Payload = append([]byte(nil), b[off:]...)
	if !p.cfg.IncludeLength {
		f.Length = uint16(len(f.Payload))
	}
	return f, nil
}

func marshalCRC(crc uint64, width int) []byte {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte(crc)
		crc >>= 8
	}
	return buf
}

func unmarshalCRC(b []byte, width int) uint64 {
	var crc uint64
	for i := 0; i < width; i++ {
		crc = crc<<8 | uint64(b[i])
	}
	return crc
}
