// Package uds decodes ISO 14229 diagnostic requests off the wire and routes
// them to the session finite-state machine and safety data store, encoding
// the positive/negative responses the core sends back to a tester.
package uds

import (
	"github.com/redlinetelematics/ecucore/ecoerr"
)

// Service is a UDS service identifier.
type Service byte

const (
	ServiceDiagnosticSessionControl Service = 0x10
	ServiceSecurityAccess           Service = 0x27
	ServiceReadDataByIdentifier     Service = 0x22
	ServiceWriteDataByIdentifier    Service = 0x2E
	ServiceRoutineControl           Service = 0x31
	ServiceTesterPresent            Service = 0x3E
)

// Negative response codes.
const (
	NRCIncorrectLength      byte = 0x13
	NRCConditionsNotCorrect byte = 0x22
	NRCRequestSequenceError byte = 0x24
	NRCRequestOutOfRange    byte = 0x31
	NRCSecurityAccessDenied byte = 0x33
	NRCInvalidKey           byte = 0x35
	NRCExceedNumberAttempts byte = 0x36
	NRCResponsePending      byte = 0x78
)

// Request is a decoded UDS request.
type Request struct {
	Service     Service
	SubFunction byte
	HasSub      bool
	DID         uint16
	HasDID      bool
	Data        []byte
}

// Decode parses a raw UDS request. raw[0] is always the service id.
func Decode(raw []byte) (Request, error) {
	if len(raw) == 0 {
		return Request{}, ecoerr.NewNRC("uds_empty_request", NRCIncorrectLength, nil)
	}
	req := Request{Service: Service(raw[0])}
	body := raw[1:]

	switch req.Service {
	case ServiceDiagnosticSessionControl, ServiceSecurityAccess, ServiceTesterPresent:
		if len(body) < 1 {
			return Request{}, ecoerr.NewNRC("uds_missing_subfunction", NRCIncorrectLength, nil)
		}
		req.SubFunction = body[0]
		req.HasSub = true
		req.Data = body[1:]
	case ServiceReadDataByIdentifier:
		if len(body) < 2 {
			return Request{}, ecoerr.NewNRC("uds_missing_did", NRCIncorrectLength, nil)
		}
		req.DID = uint16(body[0])<<8 | uint16(body[1])
		req.HasDID = true
		req.Data = body[2:]
	case ServiceWriteDataByIdentifier:
		if len(body) < 2 {
			return Request{}, ecoerr.NewNRC("uds_missing_did", NRCIncorrectLength, nil)
		}
		req.DID = uint16(body[0])<<8 | uint16(body[1])
		req.HasDID = true
		req.Data = body[2:]
	case ServiceRoutineControl:
		if len(body) < 3 {
			return Request{}, ecoerr.NewNRC("uds_missing_routine_id", NRCIncorrectLength, nil)
		}
		req.SubFunction = body[0]
		req.HasSub = true
		req.DID = uint16(body[1])<<8 | uint16(body[2])
		req.HasDID = true
		req.Data = body[3:]
	default:
		return Request{}, ecoerr.NewNRC("uds_unsupported_service", NRCRequestOutOfRange, nil)
	}
	return req, nil
}

// EncodePositive builds a positive response: service+0x40 followed by data.
func EncodePositive(svc Service, data []byte) []byte {
	out := make([]byte, 0, 1+len(data))
	out = append(out, byte(svc)+0x40)
	out = append(out, data...)
	return out
}

// EncodeNegative builds a 0x7F negative response carrying the NRC.
func EncodeNegative(svc Service, nrc byte) []byte {
	return []byte{0x7F, byte(svc), nrc}
}

// NRCFromError extracts the NRC carried by an *ecoerr.Error, defaulting to
// conditions-not-correct when err carries none.
func NRCFromError(err error) byte {
	var e *ecoerr.Error
	if ok := asEcoerr(err, &e); ok && e.NRC != 0 {
		return e.NRC
	}
	return NRCConditionsNotCorrect
}

func asEcoerr(err error, target **ecoerr.Error) bool {
	e, ok := err.(*ecoerr.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
