// Package netdispatch implements the network interface table and message
// dispatch matrix: a fixed-capacity set of interfaces (one slot per type),
// each with its own TX/RX ring buffer, a protocol/interface compatibility
// matrix, and periodic heartbeat/reconnect/RX-drain processing.
package netdispatch

import (
	"context"
	"time"

	"golang.org/x/exp/slices"

	"github.com/redlinetelematics/ecucore/clock"
	"github.com/redlinetelematics/ecucore/ecoerr"
	"github.com/redlinetelematics/ecucore/ecolog"
	"github.com/redlinetelematics/ecucore/mempool"
	"github.com/redlinetelematics/ecucore/ringbuf"
)

// rxScratchBlockSize bounds one PollRX call; it is independent of any
// interface's configured RX ring buffer size.
const rxScratchBlockSize = 256

// IfaceType is a network interface class.
type IfaceType int

const (
	IfaceLoopback IfaceType = iota
	IfaceEthernet
	IfaceWifi
	IfaceCellular
	IfaceCAN
)

// ConnState is an interface's connection lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

// Protocol identifies the transport a Message travels over.
type Protocol int

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
	ProtocolCAN
	ProtocolMQTT
)

// compatibleTypes is the protocol/interface compatibility matrix.
func compatibleTypes(p Protocol) []IfaceType {
	switch p {
	case ProtocolTCP, ProtocolUDP:
		return []IfaceType{IfaceEthernet, IfaceWifi}
	case ProtocolCAN:
		return []IfaceType{IfaceCAN}
	case ProtocolMQTT:
		return []IfaceType{IfaceCellular}
	default:
		return nil
	}
}

// IfaceConfig is the driver-level configuration for one interface.
type IfaceConfig struct {
	Address           string
	Port              int
	Baudrate          int
	AutoConnect       bool
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
	RXBufferSize      int
	TXBufferSize      int
}

// Driver is the hardware/transport abstraction one interface type is bound
// to.
type Driver interface {
	Connect(ctx context.Context, cfg IfaceConfig) error
	Disconnect(cfg IfaceConfig) error
	Send(b []byte) (int, error)
	PollRX(buf []byte) (int, error)
	LinkUp() bool
	SignalStrength() int
	BusOff() bool
}

// Message is one outbound payload awaiting dispatch.
type Message struct {
	Protocol Protocol
	Payload  []byte
}

// EventType identifies a dispatch-level event fanned out to OnEvent
// callbacks.
type EventType int

const (
	EventDataSent EventType = iota
	EventConnected
	EventDisconnected
	EventError
)

// Stats accumulates per-interface traffic counters.
type Stats struct {
	BytesSent   uint64
	BytesRecv   uint64
	PacketsSent uint64
	PacketsRecv uint64
	Errors      uint64
}

type iface struct {
	ifaceType     IfaceType
	cfg           IfaceConfig
	drv           Driver
	state         ConnState
	stats         Stats
	lastHeartbeat time.Time
	lastReconnect time.Time
	tx            *ringbuf.Buffer
	rx            *ringbuf.Buffer
}

// ManagerConfig parameterizes a Manager.
type ManagerConfig struct {
	RXBufferSize int
	TXBufferSize int
}

// Manager owns the interface table and message dispatch logic.
type Manager struct {
	cfg ManagerConfig
	clk clock.Source
	log ecolog.Logger

	interfaces []*iface
	callbacks  []func(EventType, any)

	onReceive map[Protocol]func(ifaceType IfaceType, data []byte)
	scratch   *mempool.Pool
}

// New creates an empty Manager. RX polling draws its scratch buffer from a
// small fixed block pool rather than allocating one per drain cycle.
func New(cfg ManagerConfig, clk clock.Source, log ecolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		clk:       clk,
		log:       log.With("netdispatch"),
		onReceive: make(map[Protocol]func(ifaceType IfaceType, data []byte)),
		scratch:   mempool.New(rxScratchBlockSize, 4),
	}
}

func (m *Manager) indexOf(t IfaceType) int {
	return slices.IndexFunc(m.interfaces, func(i *iface) bool { return i.ifaceType == t })
}

// AddInterface registers a driver for ifaceType. At most one interface per
// type may be registered at a time.
func (m *Manager) AddInterface(ifaceType IfaceType, cfg IfaceConfig, drv Driver) error {
	if m.indexOf(ifaceType) >= 0 {
		return ecoerr.New(ecoerr.KindConfiguration, "netdispatch_duplicate_interface", ecoerr.ErrAlreadyExists)
	}
	rxSize := cfg.RXBufferSize
	if rxSize == 0 {
		rxSize = m.cfg.RXBufferSize
	}
	txSize := cfg.TXBufferSize
	if txSize == 0 {
		txSize = m.cfg.TXBufferSize
	}
	if rxSize <= 0 || txSize <= 0 {
		return ecoerr.New(ecoerr.KindConfiguration, "netdispatch_buffer_size_not_configured", nil)
	}
	m.interfaces = append(m.interfaces, &iface{
		ifaceType: ifaceType,
		cfg:       cfg,
		drv:       drv,
		state:     StateDisconnected,
		tx:        ringbuf.New(txSize),
		rx:        ringbuf.New(rxSize),
	})
	return nil
}

// RemoveInterface drops the interface registered for ifaceType, if any.
func (m *Manager) RemoveInterface(ifaceType IfaceType) error {
	idx := m.indexOf(ifaceType)
	if idx < 0 {
		return ecoerr.New(ecoerr.KindConfiguration, "netdispatch_unknown_interface", ecoerr.ErrNotFound)
	}
	m.interfaces = append(m.interfaces[:idx], m.interfaces[idx+1:]...)
	return nil
}

// Connect drives the interface's connection state machine through the
// driver, stamping LastHeartbeat on success.
func (m *Manager) Connect(ifaceType IfaceType) error {
	idx := m.indexOf(ifaceType)
	if idx < 0 {
		return ecoerr.New(ecoerr.KindConfiguration, "netdispatch_unknown_interface", ecoerr.ErrNotFound)
	}
	ifc := m.interfaces[idx]
	ifc.state = StateConnecting
	if err := ifc.drv.Connect(context.Background(), ifc.cfg); err != nil {
		ifc.state = StateError
		ifc.stats.Errors++
		m.fanOut(EventError, ifaceType)
		return ecoerr.New(ecoerr.KindTransient, "netdispatch_connect_failed", err)
	}
	ifc.state = StateConnected
	ifc.lastHeartbeat = timeFromSource(m.clk)
	m.fanOut(EventConnected, ifaceType)
	return nil
}

// SendMessage selects an interface compatible with msg.Protocol, enqueues
// the payload into its TX buffer, and asks the driver to send it.
func (m *Manager) SendMessage(msg Message) error {
	compatible := compatibleTypes(msg.Protocol)
	if compatible == nil {
		return ecoerr.New(ecoerr.KindConfiguration, "netdispatch_unsupported_protocol", nil)
	}

	var target *iface
	for _, t := range compatible {
		if idx := m.indexOf(t); idx >= 0 && m.interfaces[idx].state == StateConnected {
			target = m.interfaces[idx]
			break
		}
	}
	if target == nil {
		return ecoerr.New(ecoerr.KindTransient, "netdispatch_no_compatible_interface", nil)
	}

	if _, err := target.tx.Write(msg.Payload); err != nil {
		target.stats.Errors++
		return ecoerr.New(ecoerr.KindTransient, "netdispatch_tx_buffer_full", err)
	}
	out := make([]byte, len(msg.Payload))
	_, _ = target.tx.Read(out)
	n, err := target.drv.Send(out)
	if err != nil {
		target.stats.Errors++
		return ecoerr.New(ecoerr.KindTransient, "netdispatch_send_failed", err)
	}
	target.stats.BytesSent += uint64(n)
	target.stats.PacketsSent++
	m.fanOut(EventDataSent, msg)
	return nil
}

// OnEvent registers a callback invoked for every fanned-out dispatch event.
func (m *Manager) OnEvent(cb func(EventType, any)) {
	m.callbacks = append(m.callbacks, cb)
}

// OnReceive registers the protocol-specific receive handler invoked from
// Process's RX drain.
func (m *Manager) OnReceive(p Protocol, fn func(ifaceType IfaceType, data []byte)) {
	m.onReceive[p] = fn
}

func (m *Manager) fanOut(evt EventType, data any) {
	for _, cb := range m.callbacks {
		cb(evt, data)
	}
}

// Process walks every registered interface once: emits a heartbeat if a
// connected interface's interval elapsed, attempts reconnect for eligible
// disconnected interfaces, and drains any RX bytes into protocol-specific
// handlers.
func (m *Manager) Process(now time.Time) {
	for _, ifc := range m.interfaces {
		switch ifc.state {
		case StateConnected:
			if ifc.cfg.HeartbeatInterval > 0 && now.Sub(ifc.lastHeartbeat) >= ifc.cfg.HeartbeatInterval {
				_, _ = ifc.drv.Send(nil) // zero-length TCP-style heartbeat
				ifc.lastHeartbeat = now
			}
		case StateDisconnected:
			if ifc.cfg.AutoConnect && ifc.cfg.ReconnectInterval > 0 && now.Sub(ifc.lastReconnect) >= ifc.cfg.ReconnectInterval {
				ifc.lastReconnect = now
				_ = m.Connect(ifc.ifaceType)
			}
		}

		m.drainRX(ifc)
	}
}

func (m *Manager) drainRX(ifc *iface) {
	blk, err := m.scratch.Acquire(context.Background())
	if err != nil {
		return
	}
	defer blk.Release()

	n, err := ifc.drv.PollRX(blk.Bytes())
	if err != nil || n == 0 {
		return
	}
	data := blk.Bytes()[:n]
	if _, err := ifc.rx.Write(data); err != nil {
		ifc.stats.Errors++
		return
	}
	_, _ = ifc.rx.Read(data)
	ifc.stats.BytesRecv += uint64(n)
	ifc.stats.PacketsRecv++

	for proto, handler := range m.onReceive {
		for _, t := range compatibleTypes(proto) {
			if t == ifc.ifaceType {
				handler(ifc.ifaceType, data)
			}
		}
	}
}

// StatsFor returns the interface's current statistics.
func (m *Manager) StatsFor(ifaceType IfaceType) (Stats, bool) {
	idx := m.indexOf(ifaceType)
	if idx < 0 {
		return Stats{}, false
	}
	return m.interfaces[idx].stats, true
}

func timeFromSource(clk clock.Source) time.Time {
	return time.UnixMicro(int64(clk.NowUS()))
}
