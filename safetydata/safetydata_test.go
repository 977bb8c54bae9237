package safetydata

import (
	"testing"

	"github.com/redlinetelematics/ecucore/crcutil"
	"github.com/redlinetelematics/ecucore/ecolog"
	"github.com/redlinetelematics/ecucore/nvram"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	table, err := crcutil.BuildTable(crcutil.Profile4_CRC32_AUTOSAR)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	return New(ecolog.Nop(), table, nvram.NewMapBackend())
}

func TestInitRejectsDuplicateIDs(t *testing.T) {
	s := newStore(t)
	err := s.Init([]Datum{
		{ID: 1, Size: 4, Protection: MethodCRC},
		{ID: 1, Size: 4, Protection: MethodCRC},
	})
	if err == nil {
		t.Fatal("expected rejection of duplicate datum id")
	}
}

func TestInitRejectsZeroSize(t *testing.T) {
	s := newStore(t)
	err := s.Init([]Datum{{ID: 1, Size: 0}})
	if err == nil {
		t.Fatal("expected rejection of zero-size datum")
	}
}

func TestWriteReadCRCRoundTrip(t *testing.T) {
	s := newStore(t)
	if err := s.Init([]Datum{{ID: 1, Size: 4, Type: TypeUint32, Protection: MethodCRC}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	val := []byte{0, 0, 0, 42}
	if err := s.Write(1, val); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(val) {
		t.Fatalf("got %v, want %v", got, val)
	}
}

func TestWriteRejectsOutOfRange(t *testing.T) {
	s := newStore(t)
	var calls []bool
	datum := Datum{
		ID: 1, Size: 1, Type: TypeUint8, Protection: MethodNone,
		Limits:   Limits{Min: 0, Max: 10},
		Validate: func(value []byte, valid bool) { calls = append(calls, valid) },
	}
	if err := s.Init([]Datum{datum}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Write(1, []byte{200}); err == nil {
		t.Fatal("expected rejection of out-of-range value")
	}
	if len(calls) != 1 || calls[0] != false {
		t.Fatalf("expected one Validate(false) call, got %v", calls)
	}
	if s.ErrorCount(1) != 1 {
		t.Fatalf("expected error count 1, got %d", s.ErrorCount(1))
	}
}

func TestRedundantProtectionDetectsCorruption(t *testing.T) {
	s := newStore(t)
	if err := s.Init([]Datum{{ID: 1, Size: 4, Protection: MethodRedundant}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Write(1, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.records[1].redundant[0] = 0xFF // simulate corruption of the redundant copy
	if err := s.Verify(1); err == nil {
		t.Fatal("expected verify failure after redundant copy corruption")
	}
	if s.IsValid(1) {
		t.Fatal("expected valid flag cleared after failed verify")
	}
}

func TestInverseProtectionRoundTrip(t *testing.T) {
	s := newStore(t)
	if err := s.Init([]Datum{{ID: 1, Size: 2, Protection: MethodInverse}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Write(1, []byte{0x0F, 0xF0}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got, want := s.records[1].redundant, []byte{0xF0, 0x0F}; string(got) != string(want) {
		t.Fatalf("redundant = % X, want % X", got, want)
	}
	if err := s.Verify(1); err != nil {
		t.Fatalf("expected verify to pass: %v", err)
	}
}

func TestChecksumProtectionDetectsCorruption(t *testing.T) {
	s := newStore(t)
	if err := s.Init([]Datum{{ID: 1, Size: 3, Protection: MethodChecksum}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Write(1, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.records[1].primary[0] = 0xFF
	if err := s.Verify(1); err == nil {
		t.Fatal("expected checksum mismatch after primary corruption")
	}
}

func TestResetRestoresDefaultAndClearsErrors(t *testing.T) {
	s := newStore(t)
	if err := s.Init([]Datum{{ID: 1, Size: 1, Type: TypeUint8, Protection: MethodCRC, Limits: Limits{Min: 0, Max: 255, Default: 7}}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_ = s.Write(1, []byte{200})
	if err := s.Reset(1); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, err := s.Read(1)
	if err != nil {
		t.Fatalf("Read after reset: %v", err)
	}
	if got[0] != 7 {
		t.Fatalf("expected default value 7, got %d", got[0])
	}
	if s.ErrorCount(1) != 0 {
		t.Fatalf("expected error count cleared by reset, got %d", s.ErrorCount(1))
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	s := newStore(t)
	if err := s.Init([]Datum{{ID: 1, Size: 4, Protection: MethodRedundant}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Write(1, []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Backup(1); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	s.records[1].primary[0] = 0 // corrupt primary directly
	if err := s.Restore(1); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, _ := s.Read(1)
	if got[0] != 9 {
		t.Fatalf("expected primary restored from backup, got %v", got)
	}
}

// TestBackupRestoreRoundTripSurvivesInterveningWrite exercises the spec's
// round-trip law directly: backup(id); overwrite(id, x); restore(id) must
// return the pre-backup value, even for a protection method (CRC) whose own
// redundant copy isn't a backup slot until HasBackup asks for one.
func TestBackupRestoreRoundTripSurvivesInterveningWrite(t *testing.T) {
	s := newStore(t)
	if err := s.Init([]Datum{{ID: 1, Size: 4, Type: TypeUint32, Protection: MethodCRC, HasBackup: true}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Write(1, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Backup(1); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if err := s.Write(1, []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("Write (overwrite): %v", err)
	}
	if err := s.Restore(1); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := s.Read(1)
	if err != nil {
		t.Fatalf("Read after restore: %v", err)
	}
	want := []byte{1, 2, 3, 4}
	if string(got) != string(want) {
		t.Fatalf("Restore = % X, want pre-backup value % X", got, want)
	}
}

func TestBackupRejectsDatumWithoutRedundantOrBackupBuffer(t *testing.T) {
	s := newStore(t)
	if err := s.Init([]Datum{{ID: 1, Size: 4, Protection: MethodCRC}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Backup(1); err == nil {
		t.Fatal("expected Backup to reject a datum with no backup buffer configured")
	}
}

func TestPersistentDatumSeedsFromNVRAM(t *testing.T) {
	nv := nvram.NewMapBackend()
	_ = nv.Write(0x1000, []byte{5, 5, 5, 5})

	table, _ := crcutil.BuildTable(crcutil.Profile4_CRC32_AUTOSAR)
	s := New(ecolog.Nop(), table, nv)
	if err := s.Init([]Datum{{ID: 1, Size: 4, Protection: MethodCRC, Persistent: true, NVRAMAddr: 0x1000}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	got, err := s.Read(1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string([]byte{5, 5, 5, 5}) {
		t.Fatalf("expected value seeded from NVRAM, got %v", got)
	}
}
