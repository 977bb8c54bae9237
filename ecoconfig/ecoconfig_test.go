package ecoconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtime.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDecodesAllSections(t *testing.T) {
	path := writeDoc(t, `
[[task]]
name = "engine_control"
period_us = 10000
deadline_us = 5000
wcet_us = 2000
priority = 1

[[e2e_profile]]
name = "vehicle_speed"
profile = "crc16"
data_id = 4660
min_length = 4
max_length = 16

[[safety_datum]]
id = 1
name = "vin"
size = 17
type = "bytes"
protection = "crc"

[[memory_region]]
start = 0
size = 1024
type = "ram"
run_background = true

[[network_interface]]
type = "wifi"
rx_buffer_size = 256
tx_buffer_size = 256

[session]
s3_timeout_ms = 5000
max_error_count = 3
`)

	doc, err := Load(path)
	require.NoError(t, err)
	require.Len(t, doc.Tasks, 1)
	require.Equal(t, "engine_control", doc.Tasks[0].Name)
	require.Len(t, doc.E2EProfile, 1)
	require.Len(t, doc.SafetyData, 1)
	require.Len(t, doc.Memory, 1)
	require.Len(t, doc.Network, 1)
	require.Equal(t, uint32(5000), doc.Session.S3TimeoutMS)
	require.NoError(t, doc.Validate())
}

func TestValidateRejectsDuplicateTaskName(t *testing.T) {
	doc := &Document{Tasks: []TaskEntry{
		{Name: "a", PeriodUS: 10, DeadlineUS: 5},
		{Name: "a", PeriodUS: 10, DeadlineUS: 5},
	}}
	require.Error(t, doc.Validate())
}

func TestValidateRejectsDeadlineExceedingPeriod(t *testing.T) {
	doc := &Document{Tasks: []TaskEntry{{Name: "a", PeriodUS: 10, DeadlineUS: 20}}}
	require.Error(t, doc.Validate())
}

func TestValidateRejectsDuplicateSafetyDatumID(t *testing.T) {
	doc := &Document{SafetyData: []SafetyDatumEntry{
		{ID: 1, Size: 4},
		{ID: 1, Size: 4},
	}}
	require.Error(t, doc.Validate())
}

func TestValidateRejectsUnrecognizedE2EProfile(t *testing.T) {
	doc := &Document{E2EProfile: []E2EProfileEntry{{Name: "bad", Profile: "rot13"}}}
	require.Error(t, doc.Validate())
}

func TestValidateRejectsZeroLengthNetworkBuffer(t *testing.T) {
	doc := &Document{Network: []NetworkInterfaceEntry{{Type: "wifi", RXBufferSize: 0, TXBufferSize: 64}}}
	require.Error(t, doc.Validate())
}

func TestValidateRejectsZeroSizeMemoryRegion(t *testing.T) {
	doc := &Document{Memory: []MemoryRegionEntry{{Start: 0, Size: 0, Type: "ram"}}}
	require.Error(t, doc.Validate())
}

func TestValidateAcceptsEmptyDocument(t *testing.T) {
	doc := &Document{}
	require.NoError(t, doc.Validate())
}
