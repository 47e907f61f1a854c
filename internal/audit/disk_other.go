//go:build !unix

package audit

import "errors"

// Usage is unavailable on platforms without statfs.
func Usage(string) (DiskUsage, error) {
	return DiskUsage{}, errors.New("disk usage not supported on this platform")
}
