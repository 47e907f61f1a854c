//go:build unix

package audit

import "golang.org/x/sys/unix"

// Usage reports filesystem usage for the volume holding path.
func Usage(path string) (DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskUsage{}, err
	}
	bsize := uint64(st.Bsize)
	total := uint64(st.Blocks) * bsize
	free := uint64(st.Bavail) * bsize
	used := total - uint64(st.Bfree)*bsize
	var pct float64
	// match df: used / (used + available to unprivileged users)
	if denom := used + free; denom > 0 {
		pct = 100 * float64(used) / float64(denom)
	}
	return DiskUsage{Total: total, Free: free, UsedPercent: pct}, nil
}
