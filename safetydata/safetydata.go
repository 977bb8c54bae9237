// Package safetydata implements the safety data store: range-checked
// variables carrying one of several byte-level protection methods, with
// verify/backup/restore semantics and an optional validation callback fired
// on every write outcome, on a failed verify, and on reset and restore.
package safetydata

import (
	"sync"

	"github.com/redlinetelematics/ecucore/crcutil"
	"github.com/redlinetelematics/ecucore/e2e"
	"github.com/redlinetelematics/ecucore/ecoerr"
	"github.com/redlinetelematics/ecucore/ecolog"
	"github.com/redlinetelematics/ecucore/nvram"
)

// Type tags the numeric interpretation of a datum's bytes, used only for
// limit checking; protection and storage treat every datum as opaque bytes.
type Type int

const (
	TypeBytes Type = iota
	TypeUint8
	TypeUint16
	TypeUint32
	TypeInt8
	TypeInt16
	TypeInt32
	TypeFloat32
	TypeBool
)

// Method is a datum's integrity protection scheme.
type Method int

const (
	MethodNone Method = iota
	MethodCRC
	MethodRedundant
	MethodInverse
	MethodChecksum
	MethodE2E
)

// Limits bounds a numeric datum's value. Zero value (Min==Max==0) means no
// range check is applied.
type Limits struct {
	Min, Max, Default, Tolerance float64
}

// Datum describes one managed variable.
type Datum struct {
	ID         uint32
	Size       int
	Type       Type
	ASIL       string
	Protection Method
	Limits     Limits
	Validate   func(value []byte, valid bool)

	Persistent bool
	NVRAMAddr  uint32

	// HasBackup requests a redundant-copy buffer independent of Protection,
	// so Backup/Restore work for any datum (CRC, Checksum, None, E2E), not
	// only MethodRedundant/MethodInverse, whose own redundant copy already
	// exists for protection purposes. Write never auto-syncs this buffer
	// for those other methods; only an explicit Backup call does.
	HasBackup bool

	// E2EState/E2EProtector are required when Protection == MethodE2E; the
	// store delegates integrity checking to them rather than reimplementing
	// sequence/CRC logic a second time.
	E2EProtector *e2e.Protector
	E2EState     *e2e.State
}

type record struct {
	datum     Datum
	primary   []byte
	redundant []byte
	crc       uint32
	checksum  byte
	valid     bool
	errCount  uint32
	initOK    bool
}

// Store owns the primary and redundant storage for every registered datum,
// under a single mutex (spec: "single associated critical section").
type Store struct {
	log ecolog.Logger
	crc crcutil.Table
	nv  nvram.Store

	mu      sync.Mutex
	records map[uint32]*record
}

// New creates an uninitialized Store. crc is the CRC-32 table used for
// MethodCRC datums; nv is the NVRAM backend used for Persistent datums (pass
// nil if no datum is ever marked Persistent).
func New(log ecolog.Logger, crc crcutil.Table, nv nvram.Store) *Store {
	return &Store{log: log.With("safetydata"), crc: crc, nv: nv}
}

// Init registers datums, all-or-nothing: a duplicate id or zero size in any
// entry rejects the entire batch rather than skipping the bad one.
func (s *Store) Init(datums []Datum) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records != nil {
		return ecoerr.New(ecoerr.KindConfiguration, "safetydata_already_initialized", ecoerr.ErrAlreadyRunning)
	}

	seen := make(map[uint32]bool, len(datums))
	for _, d := range datums {
		if d.Size <= 0 {
			return ecoerr.New(ecoerr.KindConfiguration, "safetydata_zero_size_datum", nil)
		}
		if seen[d.ID] {
			return ecoerr.New(ecoerr.KindConfiguration, "safetydata_duplicate_id", nil)
		}
		if d.Protection == MethodE2E && (d.E2EProtector == nil || d.E2EState == nil) {
			return ecoerr.New(ecoerr.KindConfiguration, "safetydata_e2e_missing_protector", nil)
		}
		seen[d.ID] = true
	}

	records := make(map[uint32]*record, len(datums))
	for _, d := range datums {
		rec := &record{datum: d, primary: make([]byte, d.Size)}
		if d.Protection == MethodRedundant || d.Protection == MethodInverse || d.HasBackup {
			rec.redundant = make([]byte, d.Size)
		}
		records[d.ID] = rec
	}

	// Seed from NVRAM before protection metadata is computed, so a
	// persisted value round-trips through the same write path as a fresh one.
	for _, rec := range records {
		if rec.datum.Persistent && s.nv != nil {
			buf := make([]byte, rec.datum.Size)
			if err := s.nv.Read(rec.datum.NVRAMAddr, buf); err == nil {
				s.writeLocked(rec, buf)
				continue
			}
		}
		rec.initOK = true
	}

	s.records = records
	return nil
}

// Deinit clears the store, discarding all datum state.
func (s *Store) Deinit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

func (s *Store) get(id uint32) (*record, error) {
	if s.records == nil {
		return nil, ecoerr.New(ecoerr.KindConfiguration, "safetydata_not_initialized", ecoerr.ErrNotInitialized)
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, ecoerr.New(ecoerr.KindConfiguration, "safetydata_unknown_id", ecoerr.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) checkLimits(rec *record, value []byte) bool {
	l := rec.datum.Limits
	if l.Min == 0 && l.Max == 0 {
		return true
	}
	v, ok := decodeNumeric(rec.datum.Type, value)
	if !ok {
		return true
	}
	return v >= l.Min && v <= l.Max
}

// Write validates value against the datum's numeric limits, copies it into
// primary storage, and recomputes protection metadata.
func (s *Store) Write(id uint32, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(id)
	if err != nil {
		return err
	}
	if len(value) != rec.datum.Size {
		return ecoerr.New(ecoerr.KindConfiguration, "safetydata_size_mismatch", nil)
	}
	if !s.checkLimits(rec, value) {
		rec.errCount++
		if rec.datum.Validate != nil {
			rec.datum.Validate(value, false)
		}
		return ecoerr.New(ecoerr.KindIntegrity, "safetydata_out_of_range", nil)
	}

	s.writeLocked(rec, value)

	if rec.datum.Persistent && s.nv != nil {
		_ = s.nv.Write(rec.datum.NVRAMAddr, rec.primary)
	}
	if rec.datum.Validate != nil {
		rec.datum.Validate(value, true)
	}
	return nil
}

// writeLocked copies value into primary and recomputes protection metadata,
// without limit checking or NVRAM write-through (used by Write after its own
// checks, and by Init's NVRAM seed path).
func (s *Store) writeLocked(rec *record, value []byte) {
	copy(rec.primary, value)
	switch rec.datum.Protection {
	case MethodRedundant:
		copy(rec.redundant, rec.primary)
	case MethodInverse:
		for i, b := range rec.primary {
			rec.redundant[i] = ^b
		}
	case MethodCRC:
		rec.crc = uint32(s.crc.Compute(rec.primary))
	case MethodChecksum:
		rec.checksum = additiveChecksum(rec.primary)
	case MethodE2E:
		// integrity is delegated to Protect/Check at transport time; nothing
		// to precompute here.
	}
	rec.valid = true
	rec.initOK = true
}

// Read verifies, then copies primary bytes out.
func (s *Store) Read(id uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !s.verifyLocked(rec) {
		return nil, ecoerr.New(ecoerr.KindIntegrity, "safetydata_verify_failed", nil)
	}
	out := make([]byte, len(rec.primary))
	copy(out, rec.primary)
	return out, nil
}

// Verify recomputes and checks protection metadata without reading the
// value out.
func (s *Store) Verify(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(id)
	if err != nil {
		return err
	}
	if !s.verifyLocked(rec) {
		return ecoerr.New(ecoerr.KindIntegrity, "safetydata_verify_failed", nil)
	}
	return nil
}

func (s *Store) verifyLocked(rec *record) bool {
	ok := true
	switch rec.datum.Protection {
	case MethodCRC:
		ok = rec.crc == uint32(s.crc.Compute(rec.primary))
	case MethodRedundant:
		ok = bytesEqual(rec.primary, rec.redundant)
	case MethodInverse:
		ok = true
		for i, b := range rec.primary {
			if rec.redundant[i] != ^b {
				ok = false
				break
			}
		}
	case MethodChecksum:
		ok = rec.checksum == additiveChecksum(rec.primary)
	case MethodE2E:
		ok = rec.datum.E2EState.FSM == 0 || rec.datum.E2EState.FSM == 1 // FSMInit or FSMValid
	}

	if !ok {
		rec.errCount++
		rec.valid = false
		if rec.datum.Validate != nil {
			rec.datum.Validate(rec.primary, false)
		}
	}
	return ok
}

// Reset restores the configured default value, rewrites protection
// metadata, clears the error counter, and marks the datum valid.
func (s *Store) Reset(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(id)
	if err != nil {
		return err
	}
	value := encodeNumeric(rec.datum.Type, rec.datum.Limits.Default, rec.datum.Size)
	if value == nil {
		value = make([]byte, rec.datum.Size)
	}
	s.writeLocked(rec, value)
	rec.errCount = 0
	if rec.datum.Validate != nil {
		rec.datum.Validate(rec.primary, true)
	}
	return nil
}

// Backup rewrites the redundant copy from primary.
func (s *Store) Backup(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(id)
	if err != nil {
		return err
	}
	if rec.redundant == nil {
		return ecoerr.New(ecoerr.KindConfiguration, "safetydata_no_redundant_copy", nil)
	}
	switch rec.datum.Protection {
	case MethodInverse:
		for i, b := range rec.primary {
			rec.redundant[i] = ^b
		}
	default:
		copy(rec.redundant, rec.primary)
	}
	return nil
}

// Restore rewrites primary from redundant (applying the inverse transform
// for MethodInverse), then refreshes protection metadata and marks valid.
func (s *Store) Restore(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(id)
	if err != nil {
		return err
	}
	if rec.redundant == nil {
		return ecoerr.New(ecoerr.KindConfiguration, "safetydata_no_redundant_copy", nil)
	}
	value := make([]byte, len(rec.redundant))
	switch rec.datum.Protection {
	case MethodInverse:
		for i, b := range rec.redundant {
			value[i] = ^b
		}
	default:
		copy(value, rec.redundant)
	}
	s.writeLocked(rec, value)
	if rec.datum.Persistent && s.nv != nil {
		_ = s.nv.Write(rec.datum.NVRAMAddr, rec.primary)
	}
	if rec.datum.Validate != nil {
		rec.datum.Validate(rec.primary, true)
	}
	return nil
}

// IsValid reports the datum's last-known valid flag without re-verifying.
func (s *Store) IsValid(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(id)
	if err != nil {
		return false
	}
	return rec.valid
}

// ErrorCount returns the datum's accumulated error counter.
func (s *Store) ErrorCount(id uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(id)
	if err != nil {
		return 0
	}
	return rec.errCount
}

// Status returns both the valid flag and error counter in one call.
func (s *Store) Status(id uint32) (valid bool, errs uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(id)
	if err != nil {
		return false, 0
	}
	return rec.valid, rec.errCount
}

func additiveChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
