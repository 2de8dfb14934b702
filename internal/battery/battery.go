// Package battery reports the kiosk's UPS/battery level for the dashboard
// status corner.
package battery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	appLog "kioskcal/internal/log"
)

// DefaultAddress is the PiSugar 3 I2C address.
const DefaultAddress = 0x57

// PiSugar 3 registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// Status represents current battery status for the API.
type Status struct {
	// Percent is the battery level in 0–100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts, 0 if unknown.
	VoltageMv int `json:"voltage_mv"`
	// Mock is set when the values are simulated.
	Mock bool `json:"mock,omitempty"`
}

// Reader abstracts how battery information is obtained.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

type mockReader struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMockReader returns a Reader producing pseudo-random levels between
// 20% and 100%, for development machines without a battery board.
func NewMockReader(seed int64) Reader {
	return &mockReader{rnd: rand.New(rand.NewSource(seed))}
}

func (m *mockReader) Read(_ context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Percent: 20 + m.rnd.Intn(81), Mock: true}, nil
}

type i2cReader struct {
	busName string
	addr    uint16
}

// NewI2CReader returns a Reader for a PiSugar 3 style controller.
// busName "" selects the default bus (/dev/i2c-1 on a Raspberry Pi). The
// bus is opened on every Read.
func NewI2CReader(busName string, addr uint16) Reader {
	if addr == 0 {
		addr = DefaultAddress
	}
	return &i2cReader{busName: busName, addr: addr}
}

func (r *i2cReader) Read(_ context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, errors.New("battery: i2c reader unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return Status{}, err
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Status{}, err
	}
	defer bus.Close()

	return readStatus(bus, r.addr)
}

// readStatus reads voltage and percentage registers from the device at
// addr on bus.
func readStatus(bus i2c.Bus, addr uint16) (Status, error) {
	dev := &i2c.Dev{Bus: bus, Addr: addr}

	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, fmt.Errorf("battery: read register 0x%02x: %w", reg, err)
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}

	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// Open returns the Reader the server should use. When enabled, the I2C
// reader is probed once; on failure (or when disabled) the mock is used.
func Open(ctx context.Context, enabled bool, busName string, addr uint16) Reader {
	if !enabled {
		return NewMockReader(time.Now().UnixNano())
	}
	r := NewI2CReader(busName, addr)
	if _, err := r.Read(ctx); err != nil {
		appLog.Warn("battery: i2c probe failed; using mock", "bus", busName, "addr", fmt.Sprintf("0x%02x", addr), "reason", err.Error())
		return NewMockReader(time.Now().UnixNano())
	}
	appLog.Info("battery: i2c reader ready", "bus", busName, "addr", fmt.Sprintf("0x%02x", addr))
	return r
}

// CachedReader serves the last successful reading for TTL so that polling
// clients do not hit the bus on every request.
type CachedReader struct {
	r   Reader
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	status    Status
	updatedAt time.Time
	valid     bool
}

func NewCachedReader(r Reader, ttl time.Duration) *CachedReader {
	return &CachedReader{r: r, ttl: ttl, now: time.Now}
}

func (c *CachedReader) Read(ctx context.Context) (Status, error) {
	now := c.now()

	c.mu.RLock()
	if c.valid && now.Sub(c.updatedAt) < c.ttl {
		st := c.status
		c.mu.RUnlock()
		return st, nil
	}
	c.mu.RUnlock()

	st, err := c.r.Read(ctx)
	if err != nil {
		return Status{}, err
	}

	c.mu.Lock()
	c.status = st
	c.updatedAt = now
	c.valid = true
	c.mu.Unlock()
	return st, nil
}
