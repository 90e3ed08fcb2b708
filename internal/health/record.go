// Package health models device health snapshots and turns device events
// into queued snapshots.
package health

import (
	"math/big"
	"strings"
)

// Unknown sentinels returned by providers when a value cannot be read.
const (
	UnknownInt    int64   = -1
	UnknownFloat  float64 = -1
	UnknownString         = "UNKNOWN"
)

// EventType is the cause of a snapshot.
type EventType uint32

const (
	EventUnknown EventType = iota
	EventBootTimestampChanged
	EventNetworkStatusChanged
	EventIgnitionOn
	EventIgnitionOff
	EventSIMCardRemoved
	EventSDCardInserted
	EventSDCardRemoved
)

var eventNames = map[EventType]string{
	EventUnknown:              "UNKNOWN",
	EventBootTimestampChanged: "BOOT_TIMESTAMP_CHANGED",
	EventNetworkStatusChanged: "NETWORK_STATUS_CHANGED",
	EventIgnitionOn:           "IGNITION_ON",
	EventIgnitionOff:          "IGNITION_OFF",
	EventSIMCardRemoved:       "SIM_CARD_REMOVED",
	EventSDCardInserted:       "SD_CARD_INSERTED",
	EventSDCardRemoved:        "SD_CARD_REMOVED",
}

func (e EventType) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return eventNames[EventUnknown]
}

// IsIgnition reports whether e is subject to ignition debouncing.
func (e EventType) IsIgnition() bool {
	return e == EventIgnitionOn || e == EventIgnitionOff
}

// NetworkType is the kind of link a device is connected through.
type NetworkType uint32

const (
	NetworkUnknown NetworkType = iota
	NetworkWifi
	NetworkMobile
)

func (t NetworkType) String() string {
	switch t {
	case NetworkWifi:
		return "WIFI"
	case NetworkMobile:
		return "MOBILE"
	default:
		return UnknownString
	}
}

// Usage is a total/available pair with its derived usage percentage.
type Usage struct {
	Total     int64   `cbor:"1,keyasint"`
	Available int64   `cbor:"2,keyasint"`
	Percent   float64 `cbor:"3,keyasint"`
}

// NewUsage derives Percent as (total-available)*100/total rounded half-up
// to two decimals, or UnknownFloat when either input is unknown.
func NewUsage(total, available int64) Usage {
	return Usage{Total: total, Available: available, Percent: usagePercent(total, available)}
}

// UnknownUsage is the value providers return when nothing could be read.
func UnknownUsage() Usage {
	return NewUsage(UnknownInt, UnknownInt)
}

func usagePercent(total, available int64) float64 {
	if total <= 0 || available < 0 {
		return UnknownFloat
	}
	used := new(big.Int).Sub(big.NewInt(total), big.NewInt(available))
	neg := used.Sign() < 0
	used.Abs(used)

	// round(used*10000/total) half-up, in hundredths of a percent
	num := new(big.Int).Mul(used, big.NewInt(20000))
	num.Add(num, big.NewInt(total))
	den := new(big.Int).Mul(big.NewInt(total), big.NewInt(2))
	hundredths := new(big.Int).Quo(num, den)

	pct, _ := new(big.Rat).SetFrac(hundredths, big.NewInt(100)).Float64()
	if neg {
		return -pct
	}
	return pct
}

// Consumption is a rx/tx byte counter pair with its derived total.
type Consumption struct {
	Received    int64 `cbor:"1,keyasint"`
	Transmitted int64 `cbor:"2,keyasint"`
	Total       int64 `cbor:"3,keyasint"`
}

func NewConsumption(rx, tx int64) Consumption {
	total := UnknownInt
	if rx >= 0 && tx >= 0 {
		total = rx + tx
	}
	return Consumption{Received: rx, Transmitted: tx, Total: total}
}

func UnknownConsumption() Consumption {
	return NewConsumption(UnknownInt, UnknownInt)
}

type NetworkStatus struct {
	Connected bool        `cbor:"1,keyasint"`
	Type      NetworkType `cbor:"2,keyasint"`
	Name      string      `cbor:"3,keyasint"`
}

// NewNetworkStatus derives the network type from the link name.
func NewNetworkStatus(connected bool, name string) NetworkStatus {
	t := NetworkUnknown
	switch strings.ToUpper(name) {
	case "WIFI":
		t = NetworkWifi
	case "MOBILE":
		t = NetworkMobile
	}
	return NetworkStatus{Connected: connected, Type: t, Name: name}
}

// Record is one queued health snapshot. ID is assigned by the outbound
// queue and doubles as the wire sequence number.
type Record struct {
	ID        int64     `cbor:"1,keyasint"`
	Retries   int       `cbor:"2,keyasint"`
	Timestamp int64     `cbor:"3,keyasint"`
	EventType EventType `cbor:"4,keyasint"`

	FirmwareVersion string `cbor:"5,keyasint"`
	AppVersion      string `cbor:"6,keyasint"`

	InternalStorage        Usage `cbor:"7,keyasint"`
	ExternalStorage        Usage `cbor:"8,keyasint"`
	ExternalStorageMounted bool  `cbor:"9,keyasint"`

	CPUUsage float64 `cbor:"10,keyasint"`
	Memory   Usage   `cbor:"11,keyasint"`

	Network           NetworkStatus `cbor:"12,keyasint"`
	WifiConsumption   Consumption   `cbor:"13,keyasint"`
	MobileConsumption Consumption   `cbor:"14,keyasint"`

	SIMPresent    bool    `cbor:"15,keyasint"`
	ICCID         string  `cbor:"16,keyasint"`
	IgnitionOn    bool    `cbor:"17,keyasint"`
	BootTimestamp int64   `cbor:"18,keyasint"`
	BootNumber    int64   `cbor:"19,keyasint"`
	PowerVoltage  float64 `cbor:"20,keyasint"`
	MACAddress    string  `cbor:"21,keyasint"`
}
