//go:build !linux

package source

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
)

// Uname has no kernel data off Linux; it reports the runtime platform so
// that the platform detector can still derive a kernel name.
func (l *Local) Uname(ctx context.Context) (Uname, error) {
	if err := ctx.Err(); err != nil {
		return Uname{}, Unavailable(ProbeUname, err)
	}
	name, ok := kernelNames[runtime.GOOS]
	if !ok {
		return Uname{}, Unavailable(ProbeUname, errors.New("unsupported platform "+runtime.GOOS))
	}
	host, _ := os.Hostname()
	return Uname{
		Sysname:  name,
		Nodename: strings.ToLower(host),
		Machine:  runtime.GOARCH,
	}, nil
}

// effectiveIDs is -1, -1 on Windows.
func effectiveIDs() (int, int) {
	return os.Geteuid(), os.Getegid()
}

var kernelNames = map[string]string{
	"darwin":  "Darwin",
	"freebsd": "FreeBSD",
	"openbsd": "OpenBSD",
	"netbsd":  "NetBSD",
	"solaris": "SunOS",
	"windows": "windows",
}
