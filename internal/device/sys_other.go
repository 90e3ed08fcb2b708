//go:build !linux

package device

import "github.com/danmuck/healthmon/internal/health"

func statfsUsage(string) health.Usage { return health.UnknownUsage() }

func memoryUsage() health.Usage { return health.UnknownUsage() }
