package uds

import "github.com/redlinetelematics/ecucore/ecoerr"

// DIDRange classifies a data identifier's reserved band.
type DIDRange int

const (
	DIDRangeVehicleInfo DIDRange = iota
	DIDRangeECUInfo
	DIDRangeLiveStatus
	DIDRangeDiagnosticCounters
	DIDRangeConfiguration
	DIDRangeUnassigned
)

// RangeOf classifies a DID by its high byte per the reserved bands:
// 0xF1xx vehicle info, 0xF2xx ECU info, 0xF3xx live status, 0xF4xx
// diagnostic counters, 0xF5xx configuration.
func RangeOf(did uint16) DIDRange {
	switch did >> 8 {
	case 0xF1:
		return DIDRangeVehicleInfo
	case 0xF2:
		return DIDRangeECUInfo
	case 0xF3:
		return DIDRangeLiveStatus
	case 0xF4:
		return DIDRangeDiagnosticCounters
	case 0xF5:
		return DIDRangeConfiguration
	default:
		return DIDRangeUnassigned
	}
}

// DIDVIN and DIDEngineSpeed are the two worked-example data identifiers.
const (
	DIDVIN         uint16 = 0xF190
	DIDEngineSpeed uint16 = 0xF302
)

// DIDRegistry maps data identifiers to the safety data store datum id that
// backs them.
type DIDRegistry struct {
	byDID map[uint16]uint32
}

// NewDIDRegistry creates a registry with VIN (0xF190) and engine speed
// (0xF302) pre-registered against datumIDVIN/datumIDEngineSpeed.
func NewDIDRegistry(datumIDVIN, datumIDEngineSpeed uint32) *DIDRegistry {
	r := &DIDRegistry{byDID: make(map[uint16]uint32)}
	r.Register(DIDVIN, datumIDVIN)
	r.Register(DIDEngineSpeed, datumIDEngineSpeed)
	return r
}

// Register binds did to a safety data store datum id.
func (r *DIDRegistry) Register(did uint16, datumID uint32) {
	r.byDID[did] = datumID
}

// Lookup resolves did to its backing datum id.
func (r *DIDRegistry) Lookup(did uint16) (uint32, error) {
	id, ok := r.byDID[did]
	if !ok {
		return 0, ecoerr.NewNRC("uds_did_not_registered", NRCRequestOutOfRange, ecoerr.ErrNotFound)
	}
	return id, nil
}
