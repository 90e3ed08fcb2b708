// Package device reads health metrics from a Linux host through procfs,
// sysfs and a few configured files.
package device

import (
	"bufio"
	"bytes"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/healthmon/internal/health"
	logs "github.com/danmuck/healthmon/internal/logging"
)

type Config struct {
	DeviceID   int64
	AppVersion string

	ProcRoot string
	SysRoot  string

	InternalPath  string
	ExternalMount string

	FirmwareFile    string
	IgnitionFile    string
	SIMFile         string
	ICCIDFile       string
	BootCounterFile string
	VoltageFile     string
	// VoltageScale converts the raw voltage reading to volts.
	VoltageScale float64

	CPUSample time.Duration
}

func DefaultConfig() Config {
	return Config{
		ProcRoot:     "/proc",
		SysRoot:      "/sys",
		InternalPath: "/",
		FirmwareFile: "/etc/os-release",
		VoltageScale: 1e-6,
		CPUSample:    200 * time.Millisecond,
	}
}

// Reader implements health.Provider. Every query returns the unknown
// sentinel when its source cannot be read.
type Reader struct {
	cfg Config

	mu      sync.Mutex
	lastCPU cpuTimes
	haveCPU bool
}

var _ health.Provider = (*Reader)(nil)

func NewReader(cfg Config) *Reader {
	def := DefaultConfig()
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = def.ProcRoot
	}
	if cfg.SysRoot == "" {
		cfg.SysRoot = def.SysRoot
	}
	if cfg.InternalPath == "" {
		cfg.InternalPath = def.InternalPath
	}
	if cfg.VoltageScale == 0 {
		cfg.VoltageScale = def.VoltageScale
	}
	if cfg.CPUSample <= 0 {
		cfg.CPUSample = def.CPUSample
	}
	return &Reader{cfg: cfg}
}

func (r *Reader) DeviceID() int64 { return r.cfg.DeviceID }

func (r *Reader) AppVersion() string {
	if r.cfg.AppVersion == "" {
		return health.UnknownString
	}
	return r.cfg.AppVersion
}

// FirmwareVersion reads VERSION_ID from an os-release style file, or the
// whole file when it has no such key.
func (r *Reader) FirmwareVersion() string {
	b, ok := readFile(r.cfg.FirmwareFile)
	if !ok {
		return health.UnknownString
	}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if v, found := strings.CutPrefix(sc.Text(), "VERSION_ID="); found {
			return strings.Trim(v, `"' `)
		}
	}
	if s := strings.TrimSpace(string(b)); s != "" && !strings.Contains(s, "\n") {
		return s
	}
	return health.UnknownString
}

func (r *Reader) InternalStorage() health.Usage {
	return statfsUsage(r.cfg.InternalPath)
}

func (r *Reader) ExternalStorage() health.Usage {
	if !r.ExternalStorageMounted() {
		return health.UnknownUsage()
	}
	return statfsUsage(r.cfg.ExternalMount)
}

// ExternalStorageMounted checks the mount table for the external mount
// point.
func (r *Reader) ExternalStorageMounted() bool {
	if r.cfg.ExternalMount == "" {
		return false
	}
	b, ok := readFile(filepath.Join(r.cfg.ProcRoot, "mounts"))
	if !ok {
		return false
	}
	want := filepath.Clean(r.cfg.ExternalMount)
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) >= 2 && filepath.Clean(unescapeMount(f[1])) == want {
			return true
		}
	}
	return false
}

func unescapeMount(s string) string {
	return strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`).Replace(s)
}

type cpuTimes struct {
	idle, total uint64
}

func (r *Reader) readCPU() (cpuTimes, bool) {
	b, ok := readFile(filepath.Join(r.cfg.ProcRoot, "stat"))
	if !ok {
		return cpuTimes{}, false
	}
	line, _, _ := bytes.Cut(b, []byte("\n"))
	f := strings.Fields(string(line))
	if len(f) < 5 || f[0] != "cpu" {
		return cpuTimes{}, false
	}
	var t cpuTimes
	for i, s := range f[1:] {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return cpuTimes{}, false
		}
		t.total += n
		// idle and iowait
		if i == 3 || i == 4 {
			t.idle += n
		}
	}
	return t, true
}

// CPUUsage is busy time over the interval since the previous call, or over
// a short sample on the first call.
func (r *Reader) CPUUsage() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.haveCPU {
		first, ok := r.readCPU()
		if !ok {
			return health.UnknownFloat
		}
		time.Sleep(r.cfg.CPUSample)
		r.lastCPU, r.haveCPU = first, true
	}
	cur, ok := r.readCPU()
	if !ok {
		return health.UnknownFloat
	}
	prev := r.lastCPU
	r.lastCPU = cur
	if cur.total <= prev.total || cur.idle < prev.idle {
		return health.UnknownFloat
	}
	dt := float64(cur.total - prev.total)
	di := float64(cur.idle - prev.idle)
	return math.Round((dt-di)*10000/dt) / 100
}

func (r *Reader) Memory() health.Usage {
	return memoryUsage()
}

type netKind int

const (
	kindOther netKind = iota
	kindWifi
	kindMobile
)

func classify(iface string) netKind {
	switch {
	case strings.HasPrefix(iface, "wl"):
		return kindWifi
	case strings.HasPrefix(iface, "wwan"), strings.HasPrefix(iface, "ppp"),
		strings.HasPrefix(iface, "rmnet"), strings.HasPrefix(iface, "usb"):
		return kindMobile
	default:
		return kindOther
	}
}

func (r *Reader) interfaces() []string {
	entries, err := os.ReadDir(filepath.Join(r.cfg.SysRoot, "class", "net"))
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Name() != "lo" {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

func (r *Reader) netFile(iface string, parts ...string) string {
	return filepath.Join(append([]string{r.cfg.SysRoot, "class", "net", iface}, parts...)...)
}

func (r *Reader) linkUp(iface string) bool {
	state := readString(r.netFile(iface, "operstate"))
	if state == "up" {
		return true
	}
	return state == "unknown" && readString(r.netFile(iface, "carrier")) == "1"
}

// NetworkStatus reports the first link that is up, preferring Wi-Fi over
// mobile over anything else.
func (r *Reader) NetworkStatus() health.NetworkStatus {
	best, found := kindOther, ""
	for _, iface := range r.interfaces() {
		if !r.linkUp(iface) {
			continue
		}
		k := classify(iface)
		if found == "" || rank(k) < rank(best) {
			best, found = k, iface
		}
	}
	if found == "" {
		return health.NewNetworkStatus(false, health.UnknownString)
	}
	switch best {
	case kindWifi:
		return health.NewNetworkStatus(true, "WIFI")
	case kindMobile:
		return health.NewNetworkStatus(true, "MOBILE")
	default:
		return health.NewNetworkStatus(true, strings.ToUpper(found))
	}
}

func rank(k netKind) int {
	switch k {
	case kindWifi:
		return 0
	case kindMobile:
		return 1
	default:
		return 2
	}
}

func (r *Reader) consumption(kind netKind) health.Consumption {
	var rx, tx int64
	seen := false
	for _, iface := range r.interfaces() {
		if classify(iface) != kind {
			continue
		}
		ri := readInt(r.netFile(iface, "statistics", "rx_bytes"))
		ti := readInt(r.netFile(iface, "statistics", "tx_bytes"))
		if ri < 0 || ti < 0 {
			continue
		}
		rx += ri
		tx += ti
		seen = true
	}
	if !seen {
		return health.UnknownConsumption()
	}
	return health.NewConsumption(rx, tx)
}

func (r *Reader) WifiConsumption() health.Consumption   { return r.consumption(kindWifi) }
func (r *Reader) MobileConsumption() health.Consumption { return r.consumption(kindMobile) }

// MACAddress returns the hardware address of the first non-loopback
// interface that has one.
func (r *Reader) MACAddress() string {
	for _, iface := range r.interfaces() {
		addr := readString(r.netFile(iface, "address"))
		if addr != "" && addr != "00:00:00:00:00:00" {
			return addr
		}
	}
	return health.UnknownString
}

func (r *Reader) SIMPresent() bool {
	return readBool(r.cfg.SIMFile)
}

func (r *Reader) ICCID() string {
	if s := readString(r.cfg.ICCIDFile); s != "" {
		return s
	}
	return health.UnknownString
}

func (r *Reader) IgnitionOn() bool {
	return readBool(r.cfg.IgnitionFile)
}

// BootTimestamp is the kernel boot time in Unix milliseconds.
func (r *Reader) BootTimestamp() int64 {
	b, ok := readFile(filepath.Join(r.cfg.ProcRoot, "stat"))
	if !ok {
		return health.UnknownInt
	}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if v, found := strings.CutPrefix(sc.Text(), "btime "); found {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				break
			}
			return n * 1000
		}
	}
	return health.UnknownInt
}

func (r *Reader) BootNumber() int64 {
	return readInt(r.cfg.BootCounterFile)
}

func (r *Reader) PowerVoltage() float64 {
	s := readString(r.cfg.VoltageFile)
	if s == "" {
		return health.UnknownFloat
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return health.UnknownFloat
	}
	return math.Round(v*r.cfg.VoltageScale*100) / 100
}

func readFile(path string) ([]byte, bool) {
	if path == "" {
		return nil, false
	}
	b, err := os.ReadFile(path)
	if err != nil {
		logs.Tracef("device.readFile path=%q err=%v", path, err)
		return nil, false
	}
	return b, true
}

func readString(path string) string {
	b, ok := readFile(path)
	if !ok {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readInt(path string) int64 {
	s := readString(path)
	if s == "" {
		return health.UnknownInt
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return health.UnknownInt
	}
	return n
}

func readBool(path string) bool {
	switch strings.ToLower(readString(path)) {
	case "1", "true", "on", "yes", "present":
		return true
	default:
		return false
	}
}
