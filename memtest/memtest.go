// Package memtest implements the memory self-test engine: seven destructive
// and non-destructive tests run either on demand or on a background
// rotation across a region table. The background rotation is guarded so
// destructive tests never touch non-RAM memory; a manual RunTest is not.
package memtest

import (
	"sync"
	"time"

	"github.com/redlinetelematics/ecucore/crcutil"
	"github.com/redlinetelematics/ecucore/ecoerr"
	"github.com/redlinetelematics/ecucore/ecolog"
)

// RegionType is the physical memory class a Region describes.
type RegionType int

const (
	RegionRAM RegionType = iota
	RegionROM
	RegionFlash
	RegionEEPROM
)

// Region describes one address range the engine can test. The engine does
// not own the backing memory, only the region's result bookkeeping.
type Region struct {
	Start         uint32
	Size          uint32
	Type          RegionType
	Executable    bool
	Writable      bool
	RunBackground bool
}

// Memory is the boundary between the engine and the actual backing store
// (an in-memory slice in tests, an MCU memory-mapped adapter on target).
type Memory interface {
	ReadWord(addr uint32) uint32
	WriteWord(addr uint32, v uint32)
	Bytes(addr, size uint32) []byte
}

// TestKind identifies one of the seven self-test algorithms.
type TestKind int

const (
	TestMarchC TestKind = iota
	TestCheckerboard
	TestWalking1
	TestWalking0
	TestAddressFault
	TestFlashCRC
	TestRAMPattern
)

// Result is the outcome of one test run.
type Result int

const (
	ResultOK Result = iota
	ResultFail
)

// DefaultRAMPatterns is the pattern set RAM-pattern uses when Config.Patterns
// is empty.
var DefaultRAMPatterns = []uint32{
	0x00000000, 0xFFFFFFFF, 0x55555555, 0xAAAAAAAA,
	0x33333333, 0xCCCCCCCC, 0x0F0F0F0F, 0xF0F0F0F0,
}

// backgroundPatternOrderRAM and backgroundPatternOrderNonRAM are the
// per-region pattern cursor rotations for background testing: one TestKind
// per step.
var backgroundPatternOrderRAM = []TestKind{TestMarchC, TestCheckerboard, TestWalking1, TestWalking0, TestAddressFault, TestRAMPattern}
var backgroundPatternOrderNonRAM = []TestKind{TestFlashCRC}

// Config parameterizes an Engine.
type Config struct {
	Regions        []Region
	TestIntervalMS uint32
	Patterns       []uint32
}

type regionResult struct {
	last     Result
	lastTest TestKind
	lastAddr uint32
}

// Engine runs self-tests manually or via a background rotation cursor.
type Engine struct {
	log      ecolog.Logger
	mem      Memory
	regions  []Region
	interval uint32
	patterns []uint32

	mu           sync.Mutex
	results      []regionResult
	errorCount   uint32
	onError      func(test TestKind, result Result, address uint32)
	lastTickMS   uint64
	cursorRegion int
	cursorStep   int
}

// New creates an Engine over the given regions.
func New(cfg Config, mem Memory, log ecolog.Logger) *Engine {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultRAMPatterns
	}
	return &Engine{
		log:      log.With("memtest"),
		mem:      mem,
		regions:  cfg.Regions,
		interval: cfg.TestIntervalMS,
		patterns: patterns,
		results:  make([]regionResult, len(cfg.Regions)),
	}
}

// OnError registers the error callback, replacing any previously registered
// one.
func (e *Engine) OnError(fn func(test TestKind, result Result, address uint32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

// RunTest runs test against regionIdx unconditionally, ignoring the
// region's RunBackground flag and the destructive-test guard (a manual
// request is an explicit operator decision).
func (e *Engine) RunTest(test TestKind, regionIdx int) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if regionIdx < 0 || regionIdx >= len(e.regions) {
		return ResultFail, ecoerr.New(ecoerr.KindConfiguration, "memtest_region_index_out_of_range", nil)
	}
	return e.runLocked(test, regionIdx)
}

func (e *Engine) runLocked(test TestKind, regionIdx int) (Result, error) {
	region := e.regions[regionIdx]
	result, addr := e.execute(test, region)
	e.results[regionIdx] = regionResult{last: result, lastTest: test, lastAddr: addr}
	if result != ResultOK {
		e.errorCount++
		if e.onError != nil {
			e.onError(test, result, addr)
		}
	}
	return result, nil
}

func (e *Engine) execute(test TestKind, region Region) (Result, uint32) {
	switch test {
	case TestMarchC:
		return marchC(e.mem, region)
	case TestCheckerboard:
		return checkerboard(e.mem, region)
	case TestWalking1:
		return walking(e.mem, region, true)
	case TestWalking0:
		return walking(e.mem, region, false)
	case TestAddressFault:
		return addressFault(e.mem, region)
	case TestFlashCRC:
		return flashCRC(e.mem, region)
	case TestRAMPattern:
		return ramPattern(e.mem, region, e.patterns)
	default:
		return ResultFail, region.Start
	}
}

// Process advances the background rotation cursor by one step if at least
// TestIntervalMS has elapsed since the last tick, running exactly one test
// on the eligible region it lands on.
func (e *Engine) Process(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	nowMS := uint64(now.UnixMilli())
	if e.lastTickMS != 0 && nowMS-e.lastTickMS < uint64(e.interval) {
		return
	}
	e.lastTickMS = nowMS

	if len(e.regions) == 0 {
		return
	}

	for attempts := 0; attempts < len(e.regions); attempts++ {
		region := e.regions[e.cursorRegion]
		if region.RunBackground {
			order := backgroundPatternOrderNonRAM
			if region.Type == RegionRAM {
				order = backgroundPatternOrderRAM
			}
			if e.cursorStep < len(order) {
				test := order[e.cursorStep]
				e.runLocked(test, e.cursorRegion)
			}
			e.cursorStep++
			if e.cursorStep >= len(order) {
				e.cursorStep = 0
				e.advanceRegion()
			}
			return
		}
		e.advanceRegion()
	}
}

func (e *Engine) advanceRegion() {
	e.cursorStep = 0
	e.cursorRegion++
	if e.cursorRegion >= len(e.regions) {
		e.cursorRegion = 0
	}
}

// ErrorCount returns the total number of failing test runs across all
// regions since construction.
func (e *Engine) ErrorCount() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorCount
}

// LastResult returns the most recent result recorded for regionIdx.
func (e *Engine) LastResult(regionIdx int) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if regionIdx < 0 || regionIdx >= len(e.results) {
		return ResultOK, false
	}
	return e.results[regionIdx].last, true
}

func wordCount(region Region) uint32 { return region.Size / 4 }

func marchC(mem Memory, region Region) (Result, uint32) {
	n := wordCount(region)
	for i := uint32(0); i < n; i++ {
		addr := region.Start + i*4
		mem.WriteWord(addr, 0)
	}
	for i := uint32(0); i < n; i++ {
		addr := region.Start + i*4
		if mem.ReadWord(addr) != 0 {
			return ResultFail, addr
		}
		mem.WriteWord(addr, 0xFFFFFFFF)
	}
	for i := uint32(0); i < n; i++ {
		addr := region.Start + i*4
		if mem.ReadWord(addr) != 0xFFFFFFFF {
			return ResultFail, addr
		}
		mem.WriteWord(addr, 0)
	}
	for i := uint32(0); i < n; i++ {
		addr := region.Start + i*4
		if mem.ReadWord(addr) != 0 {
			return ResultFail, addr
		}
	}
	return ResultOK, region.Start
}

func checkerboard(mem Memory, region Region) (Result, uint32) {
	n := wordCount(region)
	const a, b = uint32(0x55555555), uint32(0xAAAAAAAA)
	for i := uint32(0); i < n; i++ {
		addr := region.Start + i*4
		v := a
		if i%2 == 1 {
			v = b
		}
		mem.WriteWord(addr, v)
	}
	for i := uint32(0); i < n; i++ {
		addr := region.Start + i*4
		want := a
		if i%2 == 1 {
			want = b
		}
		if mem.ReadWord(addr) != want {
			return ResultFail, addr
		}
		mem.WriteWord(addr, ^want)
	}
	for i := uint32(0); i < n; i++ {
		addr := region.Start + i*4
		want := b
		if i%2 == 1 {
			want = a
		}
		if mem.ReadWord(addr) != want {
			return ResultFail, addr
		}
	}
	return ResultOK, region.Start
}

func walking(mem Memory, region Region, ones bool) (Result, uint32) {
	n := wordCount(region)
	for bit := 0; bit < 32; bit++ {
		pattern := uint32(1) << uint(bit)
		if !ones {
			pattern = ^pattern
		}
		for i := uint32(0); i < n; i++ {
			mem.WriteWord(region.Start+i*4, pattern)
		}
		for i := uint32(0); i < n; i++ {
			addr := region.Start + i*4
			if mem.ReadWord(addr) != pattern {
				return ResultFail, addr
			}
		}
	}
	return ResultOK, region.Start
}

func addressFault(mem Memory, region Region) (Result, uint32) {
	n := wordCount(region)
	for i := uint32(0); i < n; i++ {
		addr := region.Start + i*4
		mem.WriteWord(addr, addr)
	}
	for i := uint32(0); i < n; i++ {
		addr := region.Start + i*4
		if mem.ReadWord(addr) != addr {
			return ResultFail, addr
		}
	}
	return ResultOK, region.Start
}

func flashCRC(mem Memory, region Region) (Result, uint32) {
	if region.Size < 4 {
		return ResultFail, region.Start
	}
	dataLen := region.Size - 4
	data := mem.Bytes(region.Start, dataLen)
	stored := mem.ReadWord(region.Start + dataLen)
	table, err := crcutil.BuildTable(crcutil.Profile4_CRC32_AUTOSAR)
	if err != nil {
		return ResultFail, region.Start + dataLen
	}
	computed := uint32(table.Compute(data))
	if computed != stored {
		return ResultFail, region.Start + dataLen
	}
	return ResultOK, region.Start
}

func ramPattern(mem Memory, region Region, patterns []uint32) (Result, uint32) {
	n := wordCount(region)
	for _, p := range patterns {
		for i := uint32(0); i < n; i++ {
			mem.WriteWord(region.Start+i*4, p)
		}
		for i := uint32(0); i < n; i++ {
			addr := region.Start + i*4
			if mem.ReadWord(addr) != p {
				return ResultFail, addr
			}
		}
	}
	return ResultOK, region.Start
}
