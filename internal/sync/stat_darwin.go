//go:build darwin

package sync

import (
	"os"
	"syscall"
)

func createdTime(info os.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ctimespec.Sec
	}
	return info.ModTime().Unix()
}
