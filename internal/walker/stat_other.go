//go:build !linux

package walker

import "os"

// fillStat fills the snapshot from the portable os.FileInfo only. Platforms
// without the Linux stat layout lose inode-level detail but keep size and
// times, which is all the reconciliation needs.
func fillStat(fi os.FileInfo, p *present) {
	p.ctime = p.mtime
	p.stat = fallbackStat(fi)
}
