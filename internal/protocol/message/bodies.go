package message

import (
	"strings"

	"github.com/danmuck/healthmon/internal/health"
)

// HealthData is the wire form of one health snapshot.
type HealthData struct {
	Timestamp               int64   `cbor:"1,keyasint"`
	EventType               uint32  `cbor:"2,keyasint"`
	FirmwareVersion         string  `cbor:"3,keyasint"`
	AppVersion              string  `cbor:"4,keyasint"`
	InternalStorageCapacity int64   `cbor:"5,keyasint"`
	InternalStorageUsage    float64 `cbor:"6,keyasint"`
	SDCardMounted           bool    `cbor:"7,keyasint"`
	SDCardCapacity          int64   `cbor:"8,keyasint"`
	SDCardUsage             float64 `cbor:"9,keyasint"`
	CPUUsage                float64 `cbor:"10,keyasint"`
	MemoryCapacity          int64   `cbor:"11,keyasint"`
	MemoryUsage             float64 `cbor:"12,keyasint"`
	NetworkConnected        bool    `cbor:"13,keyasint"`
	NetworkType             uint32  `cbor:"14,keyasint"`
	NetworkName             string  `cbor:"15,keyasint"`
	WifiRxBytes             int64   `cbor:"16,keyasint"`
	WifiTxBytes             int64   `cbor:"17,keyasint"`
	MobileRxBytes           int64   `cbor:"18,keyasint"`
	MobileTxBytes           int64   `cbor:"19,keyasint"`
	SIMPresent              bool    `cbor:"20,keyasint"`
	ICCID                   string  `cbor:"21,keyasint"`
	IgnitionOn              bool    `cbor:"22,keyasint"`
	BootTimestamp           int64   `cbor:"23,keyasint"`
	BootNumber              int64   `cbor:"24,keyasint"`
	PowerVoltage            float64 `cbor:"25,keyasint"`
	MACAddress              string  `cbor:"26,keyasint"`
}

func NewHealthData(r health.Record) HealthData {
	return HealthData{
		Timestamp:               r.Timestamp,
		EventType:               uint32(r.EventType),
		FirmwareVersion:         r.FirmwareVersion,
		AppVersion:              r.AppVersion,
		InternalStorageCapacity: r.InternalStorage.Total,
		InternalStorageUsage:    r.InternalStorage.Percent,
		SDCardMounted:           r.ExternalStorageMounted,
		SDCardCapacity:          r.ExternalStorage.Total,
		SDCardUsage:             r.ExternalStorage.Percent,
		CPUUsage:                r.CPUUsage,
		MemoryCapacity:          r.Memory.Total,
		MemoryUsage:             r.Memory.Percent,
		NetworkConnected:        r.Network.Connected,
		NetworkType:             uint32(r.Network.Type),
		NetworkName:             r.Network.Name,
		WifiRxBytes:             r.WifiConsumption.Received,
		WifiTxBytes:             r.WifiConsumption.Transmitted,
		MobileRxBytes:           r.MobileConsumption.Received,
		MobileTxBytes:           r.MobileConsumption.Transmitted,
		SIMPresent:              r.SIMPresent,
		ICCID:                   r.ICCID,
		IgnitionOn:              r.IgnitionOn,
		BootTimestamp:           r.BootTimestamp,
		BootNumber:              r.BootNumber,
		PowerVoltage:            r.PowerVoltage,
		MACAddress:              r.MACAddress,
	}
}

type HealthMessage struct {
	Records []HealthData `cbor:"1,keyasint"`
}

// EncodeHealth builds the envelope for one queued record. The record id is
// the sequence number the collector acknowledges.
func EncodeHealth(r health.Record, deviceID uint64) ([]byte, error) {
	body := HealthMessage{Records: []HealthData{NewHealthData(r)}}
	return encode(TypeHealth, uint64(r.ID), deviceID, body)
}

type Ack struct {
	Sequence uint64 `cbor:"1,keyasint"`
}

func EncodeAck(sequence, deviceID uint64) ([]byte, error) {
	return encode(TypeAck, sequence, deviceID, Ack{Sequence: sequence})
}

type SettingsType uint32

const (
	SettingsUnknown SettingsType = iota
	SettingsBoolean
	SettingsString
	SettingsFloat
	SettingsDouble
	SettingsInteger
	SettingsLong
)

func (t SettingsType) String() string {
	switch t {
	case SettingsBoolean:
		return "BOOLEAN"
	case SettingsString:
		return "STRING"
	case SettingsFloat:
		return "FLOAT"
	case SettingsDouble:
		return "DOUBLE"
	case SettingsInteger:
		return "INTEGER"
	case SettingsLong:
		return "LONG"
	default:
		return "UNKNOWN"
	}
}

type Settings struct {
	Key   string       `cbor:"1,keyasint"`
	Value string       `cbor:"2,keyasint"`
	Type  SettingsType `cbor:"3,keyasint"`
}

func EncodeSettings(s Settings, sequence, deviceID uint64) ([]byte, error) {
	return encode(TypeSettings, sequence, deviceID, s)
}

type CommandType uint32

const (
	CommandUnknown CommandType = iota
	CommandReboot
	CommandAppUpdate
)

func (t CommandType) String() string {
	switch t {
	case CommandReboot:
		return "REBOOT"
	case CommandAppUpdate:
		return "APP_UPDATE"
	default:
		return "UNKNOWN"
	}
}

// ParamSeparator splits Command.Parameters into an ordered list.
const ParamSeparator = ";"

type Command struct {
	Type       CommandType `cbor:"1,keyasint"`
	Parameters string      `cbor:"2,keyasint"`
}

// Params returns Parameters split on ParamSeparator.
func (c Command) Params() []string {
	return strings.Split(c.Parameters, ParamSeparator)
}

func EncodeCommand(c Command, sequence, deviceID uint64) ([]byte, error) {
	return encode(TypeCommand, sequence, deviceID, c)
}
