//go:build !linux && !darwin

package sync

import "os"

func createdTime(info os.FileInfo) int64 {
	return info.ModTime().Unix()
}
