package localdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

var ErrInsufficientSpace = errors.New("localdb: not enough free disk space")

// checkFreeSpace fails when the file system holding path has less than
// minimumFreeGB gigabytes free. Zero disables the check.
func checkFreeSpace(path string, minimumFreeGB uint) error {
	if minimumFreeGB == 0 {
		return nil
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("localdb: disk usage of %s: %w", path, err)
	}
	freeGB := usage.Free / 1e9
	if freeGB < uint64(minimumFreeGB) {
		return fmt.Errorf("%w: %s has %d GB free, %d GB required", ErrInsufficientSpace, path, freeGB, minimumFreeGB)
	}
	return nil
}

// directorySize returns the total size of the regular files under path.
func directorySize(path string) (size int64, err error) {
	err = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return
}

// logDiskUsage writes the disk usage of the mirror directory.
func logDiskUsage(log *logrus.Logger, path string) {
	usage, err := disk.Usage(path)
	if err != nil {
		log.WithFields(logrus.Fields{
			"path": path,
		}).Warnf("Error retrieving disk usage stats: %v", err)
		return
	}
	size, err := directorySize(path)
	if err != nil {
		log.WithFields(logrus.Fields{
			"path": path,
		}).Warnf("Error calculating directory size: %v", err)
		return
	}

	log.WithFields(logrus.Fields{
		"Path":            path,
		"Filesystem":      usage.Fstype,
		"Total (GB)":      fmt.Sprintf("%.2f", float64(usage.Total)/1e9),
		"Used (GB)":       fmt.Sprintf("%.2f", float64(usage.Used)/1e9),
		"Free (GB)":       fmt.Sprintf("%.2f", float64(usage.Free)/1e9),
		"Usage by mirror": fmt.Sprintf("%.2f", float64(size)/1e9),
	}).Info("Disk Usage")
}
