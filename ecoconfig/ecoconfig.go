// Package ecoconfig loads the whole-runtime configuration document: task
// table, E2E profiles, safety data descriptors, memory regions, and network
// interfaces, from a single TOML file.
package ecoconfig

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/redlinetelematics/ecucore/ecoerr"
)

// TaskEntry configures one scheduler task row.
type TaskEntry struct {
	Name       string `toml:"name"`
	PeriodUS   uint64 `toml:"period_us"`
	DeadlineUS uint64 `toml:"deadline_us"`
	WCETUS     uint64 `toml:"wcet_us"`
	Priority   int    `toml:"priority"`
}

// E2EProfileEntry configures one end-to-end protection profile.
type E2EProfileEntry struct {
	Name      string `toml:"name"`
	Profile   string `toml:"profile"` // "crc8" | "crc16" | "crc32" | "crc64"
	DataID    uint16 `toml:"data_id"`
	MinLength int    `toml:"min_length"`
	MaxLength int    `toml:"max_length"`
}

// SafetyDatumEntry configures one safety data store datum.
type SafetyDatumEntry struct {
	ID         uint32  `toml:"id"`
	Name       string  `toml:"name"`
	Size       int     `toml:"size"`
	Type       string  `toml:"type"`
	Protection string  `toml:"protection"`
	Min        float64 `toml:"min"`
	Max        float64 `toml:"max"`
	Default    float64 `toml:"default"`
	Persistent bool    `toml:"persistent"`
	NVRAMAddr  uint32  `toml:"nvram_addr"`
	HasBackup  bool    `toml:"has_backup"`
}

// MemoryRegionEntry configures one memory self-test region.
type MemoryRegionEntry struct {
	Start         uint32 `toml:"start"`
	Size          uint32 `toml:"size"`
	Type          string `toml:"type"` // "ram" | "rom" | "flash" | "eeprom"
	RunBackground bool   `toml:"run_background"`
}

// NetworkInterfaceEntry configures one network dispatch interface.
type NetworkInterfaceEntry struct {
	Type         string `toml:"type"` // "loopback" | "ethernet" | "wifi" | "cellular" | "can"
	Address      string `toml:"address"`
	Port         int    `toml:"port"`
	Baudrate     int    `toml:"baudrate"`
	AutoConnect  bool   `toml:"auto_connect"`
	HeartbeatMS  int    `toml:"heartbeat_ms"`
	ReconnectMS  int    `toml:"reconnect_ms"`
	RXBufferSize int    `toml:"rx_buffer_size"`
	TXBufferSize int    `toml:"tx_buffer_size"`
}

// SessionEntry configures the diagnostic session FSM.
type SessionEntry struct {
	S3TimeoutMS           uint32 `toml:"s3_timeout_ms"`
	P2TimeoutMS           uint32 `toml:"p2_timeout_ms"`
	P2StarTimeoutMS       uint32 `toml:"p2_star_timeout_ms"`
	MaxErrorCount         uint32 `toml:"max_error_count"`
	RequireSecurityAccess bool   `toml:"require_security_access"`
	AllowNestedResponse   bool   `toml:"allow_nested_response"`
	AutoSessionCleanup    bool   `toml:"auto_session_cleanup"`
}

// Document is the decoded configuration root.
type Document struct {
	Tasks      []TaskEntry             `toml:"task"`
	E2EProfile []E2EProfileEntry       `toml:"e2e_profile"`
	SafetyData []SafetyDatumEntry      `toml:"safety_datum"`
	Memory     []MemoryRegionEntry     `toml:"memory_region"`
	Network    []NetworkInterfaceEntry `toml:"network_interface"`
	Session    SessionEntry            `toml:"session"`
}

// Load decodes the TOML document at path.
func Load(path string) (*Document, error) {
	var doc Document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, ecoerr.New(ecoerr.KindConfiguration, "ecoconfig_decode_failed", err)
	}
	return &doc, nil
}

// Validate performs the configuration-kind checks that must reject at
// init time rather than let the runtime partially initialize: duplicate
// data ids, deadline greater than period, unrecognized E2E profile names,
// and zero-length buffers.
func (d *Document) Validate() error {
	var problems []string

	seenTask := make(map[string]bool)
	for _, t := range d.Tasks {
		if t.Name == "" {
			problems = append(problems, "task: empty name")
			continue
		}
		if seenTask[t.Name] {
			problems = append(problems, fmt.Sprintf("task %q: duplicate name", t.Name))
		}
		seenTask[t.Name] = true
		if t.DeadlineUS > t.PeriodUS {
			problems = append(problems, fmt.Sprintf("task %q: deadline_us > period_us", t.Name))
		}
	}

	seenDatum := make(map[uint32]bool)
	for _, s := range d.SafetyData {
		if seenDatum[s.ID] {
			problems = append(problems, fmt.Sprintf("safety_datum %d: duplicate id", s.ID))
		}
		seenDatum[s.ID] = true
		if s.Size <= 0 {
			problems = append(problems, fmt.Sprintf("safety_datum %d: size must be > 0", s.ID))
		}
	}

	for _, p := range d.E2EProfile {
		switch strings.ToLower(p.Profile) {
		case "crc8", "crc16", "crc32", "crc64":
		default:
			problems = append(problems, fmt.Sprintf("e2e_profile %q: unrecognized profile %q", p.Name, p.Profile))
		}
	}

	for _, n := range d.Network {
		if n.RXBufferSize <= 0 || n.TXBufferSize <= 0 {
			problems = append(problems, fmt.Sprintf("network_interface %q: rx/tx buffer size must be > 0", n.Type))
		}
	}

	for _, m := range d.Memory {
		if m.Size == 0 {
			problems = append(problems, fmt.Sprintf("memory_region at 0x%X: size must be > 0", m.Start))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return ecoerr.New(ecoerr.KindConfiguration, "ecoconfig_validation_failed", fmt.Errorf("%s", strings.Join(problems, "; ")))
}
