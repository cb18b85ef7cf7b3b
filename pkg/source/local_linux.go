//go:build linux

package source

import (
	"context"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Uname calls uname(2). The processor type is only available from uname(1).
func (l *Local) Uname(ctx context.Context) (Uname, error) {
	if err := ctx.Err(); err != nil {
		return Uname{}, Unavailable(ProbeUname, err)
	}
	var buf unix.Utsname
	if err := unix.Uname(&buf); err != nil {
		return Uname{}, Unavailable(ProbeUname, err)
	}

	u := Uname{
		Sysname:  unix.ByteSliceToString(buf.Sysname[:]),
		Nodename: unix.ByteSliceToString(buf.Nodename[:]),
		Release:  unix.ByteSliceToString(buf.Release[:]),
		Version:  unix.ByteSliceToString(buf.Version[:]),
		Machine:  unix.ByteSliceToString(buf.Machine[:]),
	}
	if out, err := exec.CommandContext(ctx, "uname", "-p").Output(); err == nil {
		u.Processor = strings.TrimSpace(string(out))
	} else {
		l.logger.Debug().Err(err).Msg("uname -p failed")
	}
	return u, nil
}

// effectiveIDs returns the effective uid and gid of the process.
func effectiveIDs() (int, int) {
	return unix.Geteuid(), unix.Getegid()
}
