package device

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/danmuck/healthmon/internal/health"
	"github.com/danmuck/healthmon/internal/testutil/testlog"
)

type fakeHost struct {
	t    *testing.T
	root string
	cfg  Config
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	root := t.TempDir()
	h := &fakeHost{t: t, root: root}
	h.cfg = Config{
		DeviceID:        7,
		AppVersion:      "2.4.1",
		ProcRoot:        filepath.Join(root, "proc"),
		SysRoot:         filepath.Join(root, "sys"),
		InternalPath:    root,
		ExternalMount:   "/media/sd card",
		FirmwareFile:    filepath.Join(root, "etc", "os-release"),
		IgnitionFile:    filepath.Join(root, "io", "ignition"),
		SIMFile:         filepath.Join(root, "io", "sim"),
		ICCIDFile:       filepath.Join(root, "io", "iccid"),
		BootCounterFile: filepath.Join(root, "io", "boots"),
		VoltageFile:     filepath.Join(root, "io", "voltage_now"),
		CPUSample:       time.Millisecond,
	}
	return h
}

func (h *fakeHost) write(rel, content string) {
	h.t.Helper()
	path := filepath.Join(h.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatalf("write %s: %v", rel, err)
	}
}

func (h *fakeHost) iface(name, state string, rx, tx string) {
	h.write(filepath.Join("sys/class/net", name, "operstate"), state+"\n")
	h.write(filepath.Join("sys/class/net", name, "address"), "02:42:ac:11:00:0"+name[len(name)-1:]+"\n")
	if rx != "" {
		h.write(filepath.Join("sys/class/net", name, "statistics/rx_bytes"), rx)
		h.write(filepath.Join("sys/class/net", name, "statistics/tx_bytes"), tx)
	}
}

func TestReaderConfiguredFiles(t *testing.T) {
	testlog.Start(t)
	h := newFakeHost(t)
	h.write("etc/os-release", "NAME=\"Fleet OS\"\nVERSION_ID=\"5.10.2\"\n")
	h.write("io/ignition", "1\n")
	h.write("io/sim", "present")
	h.write("io/iccid", "8955170110000000001\n")
	h.write("io/boots", "42\n")
	h.write("io/voltage_now", "12634000\n")
	h.write("proc/stat", "cpu  100 0 100 800 0 0 0 0 0 0\nbtime 1697040000\n")

	r := NewReader(h.cfg)
	if r.DeviceID() != 7 || r.AppVersion() != "2.4.1" {
		t.Fatalf("identity: id=%d app=%q", r.DeviceID(), r.AppVersion())
	}
	if got := r.FirmwareVersion(); got != "5.10.2" {
		t.Fatalf("firmware=%q", got)
	}
	if !r.IgnitionOn() || !r.SIMPresent() {
		t.Fatalf("expected ignition on and sim present")
	}
	if r.ICCID() != "8955170110000000001" || r.BootNumber() != 42 {
		t.Fatalf("iccid=%q boots=%d", r.ICCID(), r.BootNumber())
	}
	if v := r.PowerVoltage(); v != 12.63 {
		t.Fatalf("voltage=%v", v)
	}
	if ts := r.BootTimestamp(); ts != 1697040000000 {
		t.Fatalf("boot timestamp=%d", ts)
	}
}

func TestReaderUnknownsWhenSourcesMissing(t *testing.T) {
	testlog.Start(t)
	h := newFakeHost(t)
	r := NewReader(h.cfg)

	if r.FirmwareVersion() != health.UnknownString || r.ICCID() != health.UnknownString || r.MACAddress() != health.UnknownString {
		t.Fatalf("expected unknown strings")
	}
	if r.BootNumber() != health.UnknownInt || r.BootTimestamp() != health.UnknownInt {
		t.Fatalf("expected unknown ints")
	}
	if r.PowerVoltage() != health.UnknownFloat || r.CPUUsage() != health.UnknownFloat {
		t.Fatalf("expected unknown floats")
	}
	if r.IgnitionOn() || r.SIMPresent() || r.ExternalStorageMounted() {
		t.Fatalf("expected false flags")
	}
	if r.ExternalStorage() != health.UnknownUsage() {
		t.Fatalf("expected unknown external storage")
	}
	if r.WifiConsumption() != health.UnknownConsumption() {
		t.Fatalf("expected unknown wifi consumption")
	}
	if st := r.NetworkStatus(); st.Connected || st.Type != health.NetworkUnknown {
		t.Fatalf("unexpected network status: %+v", st)
	}
}

func TestReaderCPUUsageFromDeltas(t *testing.T) {
	testlog.Start(t)
	h := newFakeHost(t)
	h.write("proc/stat", "cpu  100 0 100 800 0 0 0 0 0 0\n")
	r := NewReader(h.cfg)
	r.lastCPU, r.haveCPU = cpuTimes{idle: 800, total: 1000}, true

	h.write("proc/stat", "cpu  130 0 100 870 0 0 0 0 0 0\n")
	if got := r.CPUUsage(); got != 30 {
		t.Fatalf("cpu=%v", got)
	}
	h.write("proc/stat", "cpu  130 0 100 870 0 0 0 0 0 0\n")
	if got := r.CPUUsage(); got != health.UnknownFloat {
		t.Fatalf("no progress must read unknown, got %v", got)
	}
}

func TestReaderNetworkPrefersWifi(t *testing.T) {
	testlog.Start(t)
	h := newFakeHost(t)
	h.iface("eth0", "up", "", "")
	h.iface("wwan0", "unknown", "500", "250")
	h.write("sys/class/net/wwan0/carrier", "1\n")
	h.iface("wlan0", "down", "1000", "24")

	r := NewReader(h.cfg)
	st := r.NetworkStatus()
	if !st.Connected || st.Type != health.NetworkMobile || st.Name != "MOBILE" {
		t.Fatalf("expected mobile link, got %+v", st)
	}
	if c := r.MobileConsumption(); c.Received != 500 || c.Transmitted != 250 || c.Total != 750 {
		t.Fatalf("mobile consumption=%+v", c)
	}
	if c := r.WifiConsumption(); c.Total != 1024 {
		t.Fatalf("wifi consumption=%+v", c)
	}
	if mac := r.MACAddress(); mac != "02:42:ac:11:00:00" {
		t.Fatalf("mac=%q", mac)
	}

	h.iface("wlan0", "up", "1000", "24")
	if st := r.NetworkStatus(); st.Type != health.NetworkWifi {
		t.Fatalf("expected wifi once up, got %+v", st)
	}
}

func TestReaderExternalMount(t *testing.T) {
	testlog.Start(t)
	h := newFakeHost(t)
	h.write("proc/mounts", "/dev/root / ext4 rw 0 0\n/dev/mmcblk1p1 /media/sd\\040card vfat rw 0 0\n")
	r := NewReader(h.cfg)
	if !r.ExternalStorageMounted() {
		t.Fatalf("expected external mount detected")
	}
}

func TestReaderStorageAndMemory(t *testing.T) {
	testlog.Start(t)
	if runtime.GOOS != "linux" {
		t.Skip("statfs and sysinfo readings are linux only")
	}
	r := NewReader(newFakeHost(t).cfg)
	if u := r.InternalStorage(); u.Total <= 0 || u.Available < 0 || u.Percent < 0 || u.Percent > 100 {
		t.Fatalf("internal storage=%+v", u)
	}
	if m := r.Memory(); m.Total <= 0 || m.Percent < 0 {
		t.Fatalf("memory=%+v", m)
	}
}
