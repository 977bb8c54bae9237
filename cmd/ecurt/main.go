// Command ecurt runs the ECU runtime safety/diagnostic kernel: the
// scheduler, watchdog, UDS session FSM, E2E protection, safety data store,
// memory self-test, and network dispatch wired together from a single
// configuration document.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redlinetelematics/ecucore/clock"
	"github.com/redlinetelematics/ecucore/crcutil"
	"github.com/redlinetelematics/ecucore/e2e"
	"github.com/redlinetelematics/ecucore/ecoconfig"
	"github.com/redlinetelematics/ecucore/ecolog"
	"github.com/redlinetelematics/ecucore/memtest"
	"github.com/redlinetelematics/ecucore/netdispatch"
	"github.com/redlinetelematics/ecucore/nvram"
	"github.com/redlinetelematics/ecucore/safetydata"
	"github.com/redlinetelematics/ecucore/scheduler"
	"github.com/redlinetelematics/ecucore/session"
	"github.com/redlinetelematics/ecucore/uds"
	"github.com/redlinetelematics/ecucore/watchdog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ecurt: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := "ecurt.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	doc, err := ecoconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	log := ecolog.New(os.Stdout, ecolog.LevelInfo).With("ecurt")
	clk := clock.NewMonotonic()

	rt, err := buildRuntime(doc, clk, log)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.wd.Arm(500 * time.Millisecond)
	if err := rt.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	log.Info().Msg("ecurt: runtime started")
	<-ctx.Done()
	log.Info().Msg("ecurt: shutting down")

	if err := rt.sched.Stop(); err != nil {
		log.Error().Err(err).Msg("ecurt: scheduler stop returned error")
	}
	rt.wd.Stop()
	return nil
}

// runtime bundles every wired component for the lifetime of one process.
type runtime struct {
	wd       *watchdog.Software
	sched    *scheduler.Scheduler
	sessions *session.Manager
	data     *safetydata.Store
	memtest  *memtest.Engine
	net      *netdispatch.Manager
	dispatch *uds.Dispatcher
}

func buildRuntime(doc *ecoconfig.Document, clk clock.Source, log ecolog.Logger) (*runtime, error) {
	wd := watchdog.NewSoftware(log.With("watchdog"), func() {
		log.Critical().Bool("critical", true).Msg("ecurt: watchdog missed pat, resetting platform")
		os.Exit(3)
	})

	sched := scheduler.New(wd, clk, log.With("scheduler"))

	sessions := session.New(session.Config{
		S3TimeoutMS:           doc.Session.S3TimeoutMS,
		P2TimeoutMS:           doc.Session.P2TimeoutMS,
		P2StarTimeoutMS:       doc.Session.P2StarTimeoutMS,
		MaxErrorCount:         doc.Session.MaxErrorCount,
		RequireSecurityAccess: doc.Session.RequireSecurityAccess,
		AllowNestedResponse:   doc.Session.AllowNestedResponse,
		AutoSessionCleanup:    doc.Session.AutoSessionCleanup,
	}, clk, log.With("session"))

	crcTable, err := crcutil.BuildTable(crcutil.Profile4_CRC32_AUTOSAR)
	if err != nil {
		return nil, fmt.Errorf("build safety-data crc table: %w", err)
	}
	store := safetydata.New(log.With("safetydata"), crcTable, nvram.NewMapBackend())
	datums, dids, err := translateSafetyData(doc.SafetyData, doc.E2EProfile)
	if err != nil {
		return nil, err
	}
	if err := store.Init(datums); err != nil {
		return nil, fmt.Errorf("init safety data store: %w", err)
	}

	mem := memtest.New(memtest.Config{
		Regions:        translateRegions(doc.Memory),
		TestIntervalMS: 1000,
	}, newTargetMemory(), log.With("memtest"))

	net := netdispatch.New(netdispatch.ManagerConfig{RXBufferSize: 512, TXBufferSize: 512}, clk, log.With("netdispatch"))

	dispatch := uds.NewDispatcher(sessions, store, dids, log.With("uds"))
	testerSession := sessions.CreateSession()
	net.OnReceive(netdispatch.ProtocolCAN, func(ifaceType netdispatch.IfaceType, data []byte) {
		resp := dispatch.Handle(testerSession, data)
		_ = net.SendMessage(netdispatch.Message{Protocol: netdispatch.ProtocolCAN, Payload: resp})
	})

	if err := registerTasks(sched, doc.Tasks, sessions, mem, net, clk); err != nil {
		return nil, err
	}

	return &runtime{wd: wd, sched: sched, sessions: sessions, data: store, memtest: mem, net: net, dispatch: dispatch}, nil
}

func translateSafetyData(entries []ecoconfig.SafetyDatumEntry, profiles []ecoconfig.E2EProfileEntry) ([]safetydata.Datum, *uds.DIDRegistry, error) {
	profileByName := make(map[string]ecoconfig.E2EProfileEntry, len(profiles))
	for _, p := range profiles {
		profileByName[p.Name] = p
	}

	var datums []safetydata.Datum
	var vinID, speedID uint32
	for _, e := range entries {
		typ, err := parseType(e.Type)
		if err != nil {
			return nil, nil, err
		}
		method, err := parseProtection(e.Protection)
		if err != nil {
			return nil, nil, err
		}

		datum := safetydata.Datum{
			ID:         e.ID,
			Size:       e.Size,
			Type:       typ,
			Protection: method,
			Limits:     safetydata.Limits{Min: e.Min, Max: e.Max, Default: e.Default},
			Persistent: e.Persistent,
			NVRAMAddr:  e.NVRAMAddr,
			HasBackup:  e.HasBackup,
		}
		if method == safetydata.MethodE2E {
			prof, ok := profileByName[e.Name]
			if !ok {
				return nil, nil, fmt.Errorf("safety datum %q: protection e2e but no matching e2e_profile entry", e.Name)
			}
			protector, err := buildProtector(prof)
			if err != nil {
				return nil, nil, fmt.Errorf("safety datum %q: %w", e.Name, err)
			}
			datum.E2EProtector = protector
			datum.E2EState = &e2e.State{}
		}
		datums = append(datums, datum)

		switch e.Name {
		case "vin":
			vinID = e.ID
		case "engine_speed":
			speedID = e.ID
		}
	}
	return datums, uds.NewDIDRegistry(vinID, speedID), nil
}

func buildProtector(p ecoconfig.E2EProfileEntry) (*e2e.Protector, error) {
	var profile crcutil.Profile
	switch p.Profile {
	case "crc8":
		profile = crcutil.Profile1_CRC8_SAEJ1850
	case "crc16":
		profile = crcutil.Profile2_CRC16_CCITT
	case "crc32":
		profile = crcutil.Profile4_CRC32_AUTOSAR
	case "crc64":
		profile = crcutil.Profile5_CRC64_ISO
	default:
		return nil, fmt.Errorf("unknown e2e profile %q", p.Profile)
	}
	return e2e.New(e2e.Config{
		Profile:         profile,
		DataID:          p.DataID,
		MinLength:       uint16(p.MinLength),
		MaxLength:       uint16(p.MaxLength),
		MaxDeltaCounter: 1 << 16,
		TimeoutMS:       1000,
	})
}

func parseType(s string) (safetydata.Type, error) {
	switch s {
	case "", "bytes":
		return safetydata.TypeBytes, nil
	case "uint8":
		return safetydata.TypeUint8, nil
	case "uint16":
		return safetydata.TypeUint16, nil
	case "uint32":
		return safetydata.TypeUint32, nil
	case "int8":
		return safetydata.TypeInt8, nil
	case "int16":
		return safetydata.TypeInt16, nil
	case "int32":
		return safetydata.TypeInt32, nil
	case "float32":
		return safetydata.TypeFloat32, nil
	case "bool":
		return safetydata.TypeBool, nil
	default:
		return 0, fmt.Errorf("unknown safety datum type %q", s)
	}
}

func parseProtection(s string) (safetydata.Method, error) {
	switch s {
	case "", "none":
		return safetydata.MethodNone, nil
	case "crc":
		return safetydata.MethodCRC, nil
	case "redundant":
		return safetydata.MethodRedundant, nil
	case "inverse":
		return safetydata.MethodInverse, nil
	case "checksum":
		return safetydata.MethodChecksum, nil
	case "e2e":
		return safetydata.MethodE2E, nil
	default:
		return 0, fmt.Errorf("unknown safety datum protection %q", s)
	}
}

func translateRegions(entries []ecoconfig.MemoryRegionEntry) []memtest.Region {
	regions := make([]memtest.Region, 0, len(entries))
	for _, e := range entries {
		var t memtest.RegionType
		switch e.Type {
		case "rom":
			t = memtest.RegionROM
		case "flash":
			t = memtest.RegionFlash
		case "eeprom":
			t = memtest.RegionEEPROM
		default:
			t = memtest.RegionRAM
		}
		regions = append(regions, memtest.Region{
			Start:         e.Start,
			Size:          e.Size,
			Type:          t,
			RunBackground: e.RunBackground,
		})
	}
	return regions
}

// targetMemory is a placeholder Memory backing store, standing in for the
// memory-mapped hardware access a real target binds this interface to.
type targetMemory struct {
	buf []byte
}

func newTargetMemory() *targetMemory { return &targetMemory{buf: make([]byte, 1<<20)} }

func (m *targetMemory) ReadWord(addr uint32) uint32 {
	return binary.BigEndian.Uint32(m.buf[addr : addr+4])
}

func (m *targetMemory) WriteWord(addr uint32, v uint32) {
	binary.BigEndian.PutUint32(m.buf[addr:addr+4], v)
}

func (m *targetMemory) Bytes(addr, size uint32) []byte {
	return m.buf[addr : addr+size]
}

// registerTasks creates one scheduler task per configured entry, plus two
// fixed low-priority housekeeping tasks (memory self-test rotation, network
// dispatch processing) that are not operator-configurable.
func registerTasks(sched *scheduler.Scheduler, entries []ecoconfig.TaskEntry, sessions *session.Manager, mem *memtest.Engine, net *netdispatch.Manager, clk clock.Source) error {
	for _, e := range entries {
		if err := sched.CreateTask(scheduler.TaskConfig{
			Name:       e.Name,
			PeriodUS:   e.PeriodUS,
			DeadlineUS: e.DeadlineUS,
			WCETUS:     e.WCETUS,
			Priority:   scheduler.Priority(e.Priority),
			Entry: func(arg any) error {
				sessions.ProcessTimeouts()
				return nil
			},
		}); err != nil {
			return fmt.Errorf("register task %q: %w", e.Name, err)
		}
	}

	if err := sched.CreateTask(scheduler.TaskConfig{
		Name:       "memtest_background",
		PeriodUS:   50000,
		DeadlineUS: 45000,
		Priority:   scheduler.Priority(250),
		Entry: func(arg any) error {
			mem.Process(time.UnixMicro(int64(clk.NowUS())))
			return nil
		},
	}); err != nil {
		return fmt.Errorf("register memtest_background: %w", err)
	}

	if err := sched.CreateTask(scheduler.TaskConfig{
		Name:       "net_dispatch",
		PeriodUS:   20000,
		DeadlineUS: 15000,
		Priority:   scheduler.Priority(200),
		Entry: func(arg any) error {
			net.Process(time.UnixMicro(int64(clk.NowUS())))
			return nil
		},
	}); err != nil {
		return fmt.Errorf("register net_dispatch: %w", err)
	}

	return nil
}
