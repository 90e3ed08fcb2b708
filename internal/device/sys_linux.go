//go:build linux

package device

import (
	"golang.org/x/sys/unix"

	"github.com/danmuck/healthmon/internal/health"
)

func statfsUsage(path string) health.Usage {
	if path == "" {
		return health.UnknownUsage()
	}
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return health.UnknownUsage()
	}
	bs := int64(st.Bsize)
	return health.NewUsage(int64(st.Blocks)*bs, int64(st.Bavail)*bs)
}

func memoryUsage() health.Usage {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return health.UnknownUsage()
	}
	unit := int64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	total := int64(si.Totalram) * unit
	avail := (int64(si.Freeram) + int64(si.Bufferram)) * unit
	return health.NewUsage(total, avail)
}
