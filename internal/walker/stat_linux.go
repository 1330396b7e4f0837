//go:build linux

package walker

import (
	"os"
	"syscall"
)

// fillStat copies the platform stat into the persisted snapshot. ctime comes
// from the inode change time, which plain os.FileInfo does not expose.
func fillStat(fi os.FileInfo, p *present) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		p.ctime = p.mtime
		p.stat = fallbackStat(fi)
		return
	}
	p.ctime = st.Ctim.Sec*1e9 + st.Ctim.Nsec
	p.stat = catalogStat(
		uint32(st.Mode), st.Ino, uint64(st.Dev), uint64(st.Nlink),
		st.Uid, st.Gid, st.Size,
		st.Atim.Sec, st.Mtim.Sec, st.Ctim.Sec)
}
