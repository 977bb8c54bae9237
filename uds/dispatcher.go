package uds

import (
	"github.com/redlinetelematics/ecucore/ecoerr"
	"github.com/redlinetelematics/ecucore/ecolog"
	"github.com/redlinetelematics/ecucore/safetydata"
	"github.com/redlinetelematics/ecucore/session"
)

// Dispatcher routes decoded requests to the session manager and safety data
// store, producing the wire-ready response bytes.
type Dispatcher struct {
	sessions *session.Manager
	data     *safetydata.Store
	dids     *DIDRegistry
	log      ecolog.Logger
}

// NewDispatcher wires a Dispatcher over the given session manager, safety
// data store, and DID registry.
func NewDispatcher(sessions *session.Manager, data *safetydata.Store, dids *DIDRegistry, log ecolog.Logger) *Dispatcher {
	return &Dispatcher{sessions: sessions, data: data, dids: dids, log: log.With("uds")}
}

// Handle decodes raw and dispatches it against sessionID, returning the
// wire-ready response (positive or negative).
func (d *Dispatcher) Handle(sessionID uint32, raw []byte) []byte {
	req, err := Decode(raw)
	if err != nil {
		svc := Service(0)
		if len(raw) > 0 {
			svc = Service(raw[0])
		}
		return EncodeNegative(svc, NRCFromError(err))
	}

	switch req.Service {
	case ServiceDiagnosticSessionControl:
		return d.handleSessionControl(sessionID, req)
	case ServiceSecurityAccess:
		return d.handleSecurityAccess(sessionID, req)
	case ServiceReadDataByIdentifier:
		return d.handleRead(sessionID, req)
	case ServiceWriteDataByIdentifier:
		return d.handleWrite(sessionID, req)
	case ServiceTesterPresent:
		return d.handleTesterPresent(sessionID, req)
	default:
		return EncodeNegative(req.Service, NRCRequestOutOfRange)
	}
}

func (d *Dispatcher) handleSessionControl(sessionID uint32, req Request) []byte {
	frame := append([]byte{byte(ServiceDiagnosticSessionControl), req.SubFunction}, req.Data...)
	if err := d.sessions.HandleEvent(sessionID, session.EventRequest, frame); err != nil {
		return EncodeNegative(req.Service, NRCFromError(err))
	}
	return EncodePositive(req.Service, []byte{req.SubFunction})
}

func (d *Dispatcher) handleSecurityAccess(sessionID uint32, req Request) []byte {
	frame := append([]byte{byte(ServiceSecurityAccess), req.SubFunction}, req.Data...)
	if err := d.sessions.HandleEvent(sessionID, session.EventSecurityAccess, frame); err != nil {
		return EncodeNegative(req.Service, NRCFromError(err))
	}
	return EncodePositive(req.Service, []byte{req.SubFunction})
}

func (d *Dispatcher) handleRead(sessionID uint32, req Request) []byte {
	if err := d.sessions.HandleEvent(sessionID, session.EventRequest, []byte{byte(ServiceReadDataByIdentifier)}); err != nil {
		return EncodeNegative(req.Service, NRCFromError(err))
	}
	datumID, err := d.dids.Lookup(req.DID)
	if err != nil {
		return EncodeNegative(req.Service, NRCFromError(err))
	}
	value, err := d.data.Read(datumID)
	if err != nil {
		return EncodeNegative(req.Service, NRCRequestOutOfRange)
	}
	out := make([]byte, 0, 2+len(value))
	out = append(out, byte(req.DID>>8), byte(req.DID))
	out = append(out, value...)
	return EncodePositive(req.Service, out)
}

func (d *Dispatcher) handleWrite(sessionID uint32, req Request) []byte {
	if err := d.sessions.HandleEvent(sessionID, session.EventRequest, []byte{byte(ServiceWriteDataByIdentifier)}); err != nil {
		return EncodeNegative(req.Service, NRCFromError(err))
	}
	datumID, err := d.dids.Lookup(req.DID)
	if err != nil {
		return EncodeNegative(req.Service, NRCFromError(err))
	}
	if err := d.data.Write(datumID, req.Data); err != nil {
		var kind ecoerr.Kind
		if e, ok := err.(*ecoerr.Error); ok {
			kind = e.Kind
		}
		if kind == ecoerr.KindConfiguration {
			return EncodeNegative(req.Service, NRCRequestOutOfRange)
		}
		return EncodeNegative(req.Service, NRCConditionsNotCorrect)
	}
	return EncodePositive(req.Service, []byte{byte(req.DID >> 8), byte(req.DID)})
}

func (d *Dispatcher) handleTesterPresent(sessionID uint32, req Request) []byte {
	if err := d.sessions.HandleEvent(sessionID, session.EventRequest, []byte{byte(ServiceTesterPresent)}); err != nil {
		return EncodeNegative(req.Service, NRCFromError(err))
	}
	return EncodePositive(req.Service, []byte{req.SubFunction})
}
