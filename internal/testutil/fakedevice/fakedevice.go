// Package fakedevice provides an in-memory health.Provider for tests.
package fakedevice

import (
	"sync"

	"github.com/danmuck/healthmon/internal/health"
)

// Device is a health.Provider whose readings tests can flip at any time.
type Device struct {
	mu        sync.Mutex
	id        int64
	ignition  bool
	connected bool
	bootTS    int64
	reads     int
}

func New(id int64) *Device {
	return &Device{id: id, bootTS: 1_700_000_000_000}
}

func (d *Device) SetIgnition(on bool) {
	d.mu.Lock()
	d.ignition = on
	d.mu.Unlock()
}

func (d *Device) SetConnected(up bool) {
	d.mu.Lock()
	d.connected = up
	d.mu.Unlock()
}

func (d *Device) SetBootTimestamp(ts int64) {
	d.mu.Lock()
	d.bootTS = ts
	d.mu.Unlock()
}

// IgnitionReads counts IgnitionOn calls.
func (d *Device) IgnitionReads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

func (d *Device) DeviceID() int64         { return d.id }
func (d *Device) MACAddress() string      { return "02:00:00:00:00:01" }
func (d *Device) FirmwareVersion() string { return "fw-test" }
func (d *Device) AppVersion() string      { return "0.0.0-test" }

func (d *Device) InternalStorage() health.Usage { return health.NewUsage(1000, 250) }
func (d *Device) ExternalStorage() health.Usage { return health.UnknownUsage() }
func (d *Device) ExternalStorageMounted() bool  { return false }
func (d *Device) CPUUsage() float64             { return 12.5 }
func (d *Device) Memory() health.Usage          { return health.NewUsage(4096, 1024) }

func (d *Device) NetworkStatus() health.NetworkStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return health.NewNetworkStatus(false, health.UnknownString)
	}
	return health.NewNetworkStatus(true, "WIFI")
}

func (d *Device) WifiConsumption() health.Consumption   { return health.NewConsumption(10, 20) }
func (d *Device) MobileConsumption() health.Consumption { return health.UnknownConsumption() }
func (d *Device) SIMPresent() bool                      { return true }
func (d *Device) ICCID() string                         { return "8955000000000000000" }

func (d *Device) IgnitionOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	return d.ignition
}

func (d *Device) BootTimestamp() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bootTS
}

func (d *Device) BootNumber() int64     { return 3 }
func (d *Device) PowerVoltage() float64 { return 12.6 }
