package netdispatch

import (
	"context"
	"testing"
	"time"

	"github.com/redlinetelematics/ecucore/clock"
	"github.com/redlinetelematics/ecucore/ecolog"
)

type fakeDriver struct {
	connected  bool
	sent       [][]byte
	rxQueue    [][]byte
	connectErr error
	sendErr    error
}

func (d *fakeDriver) Connect(ctx context.Context, cfg IfaceConfig) error {
	if d.connectErr != nil {
		return d.connectErr
	}
	d.connected = true
	return nil
}

func (d *fakeDriver) Disconnect(cfg IfaceConfig) error { d.connected = false; return nil }

func (d *fakeDriver) Send(b []byte) (int, error) {
	if d.sendErr != nil {
		return 0, d.sendErr
	}
	cp := append([]byte(nil), b...)
	d.sent = append(d.sent, cp)
	return len(b), nil
}

func (d *fakeDriver) PollRX(buf []byte) (int, error) {
	if len(d.rxQueue) == 0 {
		return 0, nil
	}
	next := d.rxQueue[0]
	d.rxQueue = d.rxQueue[1:]
	n := copy(buf, next)
	return n, nil
}

func (d *fakeDriver) LinkUp() bool        { return d.connected }
func (d *fakeDriver) SignalStrength() int { return 100 }
func (d *fakeDriver) BusOff() bool        { return false }

func newManager() *Manager {
	return New(ManagerConfig{RXBufferSize: 256, TXBufferSize: 256}, clock.NewMonotonic(), ecolog.Nop())
}

func TestAddInterfaceRejectsDuplicateType(t *testing.T) {
	m := newManager()
	if err := m.AddInterface(IfaceEthernet, IfaceConfig{}, &fakeDriver{}); err != nil {
		t.Fatalf("AddInterface: %v", err)
	}
	if err := m.AddInterface(IfaceEthernet, IfaceConfig{}, &fakeDriver{}); err == nil {
		t.Fatal("expected rejection of duplicate interface type")
	}
}

func TestConnectTransitionsToConnected(t *testing.T) {
	m := newManager()
	drv := &fakeDriver{}
	_ = m.AddInterface(IfaceWifi, IfaceConfig{}, drv)

	var events []EventType
	m.OnEvent(func(evt EventType, data any) { events = append(events, evt) })

	if err := m.Connect(IfaceWifi); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(events) != 1 || events[0] != EventConnected {
		t.Fatalf("expected one EventConnected, got %v", events)
	}
}

func TestSendMessageSelectsCompatibleInterface(t *testing.T) {
	m := newManager()
	wifiDrv := &fakeDriver{}
	canDrv := &fakeDriver{}
	_ = m.AddInterface(IfaceWifi, IfaceConfig{}, wifiDrv)
	_ = m.AddInterface(IfaceCAN, IfaceConfig{}, canDrv)
	_ = m.Connect(IfaceWifi)
	_ = m.Connect(IfaceCAN)

	if err := m.SendMessage(Message{Protocol: ProtocolTCP, Payload: []byte("hello")}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(wifiDrv.sent) != 1 {
		t.Fatalf("expected TCP to route to the wifi driver, got %d sends", len(wifiDrv.sent))
	}
	if len(canDrv.sent) != 0 {
		t.Fatal("expected the CAN driver to receive nothing for a TCP message")
	}

	if err := m.SendMessage(Message{Protocol: ProtocolCAN, Payload: []byte{0x01}}); err != nil {
		t.Fatalf("SendMessage CAN: %v", err)
	}
	if len(canDrv.sent) != 1 {
		t.Fatal("expected CAN message to route to the CAN driver")
	}
}

func TestSendMessageFailsWithNoConnectedCompatibleInterface(t *testing.T) {
	m := newManager()
	_ = m.AddInterface(IfaceCellular, IfaceConfig{}, &fakeDriver{})
	// MQTT requires an interface of type IfaceCellular, but it was never
	// connected, so no interface is eligible.
	if err := m.SendMessage(Message{Protocol: ProtocolMQTT, Payload: []byte{1}}); err == nil {
		t.Fatal("expected rejection when no compatible interface is connected")
	}
}

func TestProcessEmitsHeartbeatAndDrainsRX(t *testing.T) {
	m := newManager()
	drv := &fakeDriver{rxQueue: [][]byte{[]byte("ping")}}
	_ = m.AddInterface(IfaceEthernet, IfaceConfig{HeartbeatInterval: 10 * time.Millisecond}, drv)
	_ = m.Connect(IfaceEthernet)

	var received []byte
	m.OnReceive(ProtocolTCP, func(ifaceType IfaceType, data []byte) {
		received = append([]byte(nil), data...)
	})

	base := time.Now()
	m.Process(base)
	m.Process(base.Add(20 * time.Millisecond))

	if len(drv.sent) == 0 {
		t.Fatal("expected at least one heartbeat send")
	}
	if string(received) != "ping" {
		t.Fatalf("expected RX drain to deliver %q, got %q", "ping", received)
	}
}

func TestProcessAutoReconnectsDisconnectedInterface(t *testing.T) {
	m := newManager()
	drv := &fakeDriver{}
	_ = m.AddInterface(IfaceWifi, IfaceConfig{AutoConnect: true, ReconnectInterval: 10 * time.Millisecond}, drv)

	base := time.Now()
	m.Process(base)
	m.Process(base.Add(20 * time.Millisecond))

	if !drv.connected {
		t.Fatal("expected auto-connect to have connected the interface")
	}
}
