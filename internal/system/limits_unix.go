//go:build unix

package system

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// InitResourceLimits raises the open file limit; Chrome and ffmpeg each hold many descriptors.
func InitResourceLimits(log *logrus.Entry) {
	var rLimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		log.WithError(err).Warn("cannot read open file limit")
		return
	}

	want := uint64(4096)
	if want > rLimit.Max {
		want = rLimit.Max
	}
	if rLimit.Cur >= want {
		return
	}
	rLimit.Cur = want

	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		log.WithError(err).Warn("cannot raise open file limit")
		return
	}
	log.WithField("limit", rLimit.Cur).Debug("open file limit raised")
}
