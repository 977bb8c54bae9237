package main

import (
	"testing"

	"github.com/redlinetelematics/ecucore/ecoconfig"
	"github.com/redlinetelematics/ecucore/memtest"
	"github.com/redlinetelematics/ecucore/safetydata"
	"github.com/redlinetelematics/ecucore/uds"
)

func TestParseTypeKnownValues(t *testing.T) {
	cases := map[string]safetydata.Type{
		"":        safetydata.TypeBytes,
		"bytes":   safetydata.TypeBytes,
		"uint8":   safetydata.TypeUint8,
		"uint16":  safetydata.TypeUint16,
		"uint32":  safetydata.TypeUint32,
		"int8":    safetydata.TypeInt8,
		"int16":   safetydata.TypeInt16,
		"int32":   safetydata.TypeInt32,
		"float32": safetydata.TypeFloat32,
		"bool":    safetydata.TypeBool,
	}
	for in, want := range cases {
		got, err := parseType(in)
		if err != nil {
			t.Fatalf("parseType(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseTypeRejectsUnknown(t *testing.T) {
	if _, err := parseType("widget"); err == nil {
		t.Fatal("expected an error for an unrecognized type")
	}
}

func TestParseProtectionKnownValues(t *testing.T) {
	cases := map[string]safetydata.Method{
		"":          safetydata.MethodNone,
		"none":      safetydata.MethodNone,
		"crc":       safetydata.MethodCRC,
		"redundant": safetydata.MethodRedundant,
		"inverse":   safetydata.MethodInverse,
		"checksum":  safetydata.MethodChecksum,
		"e2e":       safetydata.MethodE2E,
	}
	for in, want := range cases {
		got, err := parseProtection(in)
		if err != nil {
			t.Fatalf("parseProtection(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseProtection(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseProtectionRejectsUnknown(t *testing.T) {
	if _, err := parseProtection("rot13"); err == nil {
		t.Fatal("expected an error for an unrecognized protection method")
	}
}

func TestTranslateRegionsDefaultsUnknownTypeToRAM(t *testing.T) {
	regions := translateRegions([]ecoconfig.MemoryRegionEntry{
		{Start: 0, Size: 1024, Type: "ram"},
		{Start: 1024, Size: 512, Type: "rom"},
		{Start: 1536, Size: 256, Type: "flash"},
		{Start: 1792, Size: 128, Type: "eeprom"},
		{Start: 1920, Size: 64, Type: "mystery"},
	})
	want := []memtest.RegionType{
		memtest.RegionRAM,
		memtest.RegionROM,
		memtest.RegionFlash,
		memtest.RegionEEPROM,
		memtest.RegionRAM,
	}
	if len(regions) != len(want) {
		t.Fatalf("got %d regions, want %d", len(regions), len(want))
	}
	for i, r := range regions {
		if r.Type != want[i] {
			t.Fatalf("region %d type = %v, want %v", i, r.Type, want[i])
		}
	}
}

func TestBuildProtectorRejectsUnknownProfile(t *testing.T) {
	if _, err := buildProtector(ecoconfig.E2EProfileEntry{Name: "bad", Profile: "rot13"}); err == nil {
		t.Fatal("expected an error for an unrecognized e2e profile")
	}
}

func TestBuildProtectorBuildsEachKnownProfile(t *testing.T) {
	for _, profile := range []string{"crc8", "crc16", "crc32", "crc64"} {
		p, err := buildProtector(ecoconfig.E2EProfileEntry{
			Name:      "speed",
			Profile:   profile,
			DataID:    0x10,
			MinLength: 1,
			MaxLength: 8,
		})
		if err != nil {
			t.Fatalf("buildProtector(%q): %v", profile, err)
		}
		if p == nil {
			t.Fatalf("buildProtector(%q) returned a nil protector", profile)
		}
	}
}

func TestTranslateSafetyDataRegistersVINAndEngineSpeed(t *testing.T) {
	entries := []ecoconfig.SafetyDatumEntry{
		{ID: 1, Name: "vin", Size: 17, Type: "bytes", Protection: "crc"},
		{ID: 2, Name: "engine_speed", Size: 2, Type: "uint16", Protection: "none"},
	}

	datums, dids, err := translateSafetyData(entries, nil)
	if err != nil {
		t.Fatalf("translateSafetyData: %v", err)
	}
	if len(datums) != 2 {
		t.Fatalf("got %d datums, want 2", len(datums))
	}

	gotVIN, err := dids.Lookup(uds.DIDVIN)
	if err != nil {
		t.Fatalf("Lookup(VIN DID): %v", err)
	}
	if gotVIN != 1 {
		t.Fatalf("VIN datum id = %d, want 1", gotVIN)
	}

	gotSpeed, err := dids.Lookup(uds.DIDEngineSpeed)
	if err != nil {
		t.Fatalf("Lookup(engine speed DID): %v", err)
	}
	if gotSpeed != 2 {
		t.Fatalf("engine speed datum id = %d, want 2", gotSpeed)
	}
}

func TestTranslateSafetyDataRequiresMatchingE2EProfile(t *testing.T) {
	entries := []ecoconfig.SafetyDatumEntry{
		{ID: 1, Name: "vehicle_speed", Size: 4, Type: "uint32", Protection: "e2e"},
	}
	if _, _, err := translateSafetyData(entries, nil); err == nil {
		t.Fatal("expected an error when an e2e-protected datum has no matching e2e_profile entry")
	}
}

func TestTranslateSafetyDataWiresE2EProtector(t *testing.T) {
	entries := []ecoconfig.SafetyDatumEntry{
		{ID: 1, Name: "vehicle_speed", Size: 4, Type: "uint32", Protection: "e2e"},
	}
	profiles := []ecoconfig.E2EProfileEntry{
		{Name: "vehicle_speed", Profile: "crc16", DataID: 0x20, MinLength: 1, MaxLength: 8},
	}
	datums, _, err := translateSafetyData(entries, profiles)
	if err != nil {
		t.Fatalf("translateSafetyData: %v", err)
	}
	if datums[0].E2EProtector == nil {
		t.Fatal("expected an E2E protector to be wired for the e2e-protected datum")
	}
	if datums[0].E2EState == nil {
		t.Fatal("expected an E2E state to be wired for the e2e-protected datum")
	}
}

func TestTargetMemoryRoundTripsWords(t *testing.T) {
	m := newTargetMemory()
	m.WriteWord(0x100, 0xDEADBEEF)
	if got := m.ReadWord(0x100); got != 0xDEADBEEF {
		t.Fatalf("ReadWord = 0x%X, want 0xDEADBEEF", got)
	}
	if got := m.Bytes(0x100, 4); got[0] != 0xDE || got[3] != 0xEF {
		t.Fatalf("Bytes = % X, want big-endian 0xDEADBEEF", got)
	}
}
