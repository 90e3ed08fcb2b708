package health

import "time"

// Provider is the device query surface a snapshot is built from.
// Implementations return the Unknown sentinels on failure and never panic.
type Provider interface {
	DeviceID() int64
	MACAddress() string
	FirmwareVersion() string
	AppVersion() string
	InternalStorage() Usage
	ExternalStorage() Usage
	ExternalStorageMounted() bool
	CPUUsage() float64
	Memory() Usage
	NetworkStatus() NetworkStatus
	WifiConsumption() Consumption
	MobileConsumption() Consumption
	SIMPresent() bool
	ICCID() string
	IgnitionOn() bool
	BootTimestamp() int64
	BootNumber() int64
	PowerVoltage() float64
}

// Capture reads every provider field into a new unsaved Record.
func Capture(p Provider, event EventType, now time.Time) Record {
	return Record{
		Timestamp:              now.UnixMilli(),
		EventType:              event,
		FirmwareVersion:        p.FirmwareVersion(),
		AppVersion:             p.AppVersion(),
		InternalStorage:        p.InternalStorage(),
		ExternalStorage:        p.ExternalStorage(),
		ExternalStorageMounted: p.ExternalStorageMounted(),
		CPUUsage:               p.CPUUsage(),
		Memory:                 p.Memory(),
		Network:                p.NetworkStatus(),
		WifiConsumption:        p.WifiConsumption(),
		MobileConsumption:      p.MobileConsumption(),
		SIMPresent:             p.SIMPresent(),
		ICCID:                  p.ICCID(),
		IgnitionOn:             p.IgnitionOn(),
		BootTimestamp:          p.BootTimestamp(),
		BootNumber:             p.BootNumber(),
		PowerVoltage:           p.PowerVoltage(),
		MACAddress:             p.MACAddress(),
	}
}
