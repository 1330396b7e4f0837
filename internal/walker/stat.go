package walker

import (
	"os"

	"github.com/pym-cms/stoma/internal/catalog"
)

func catalogStat(mode uint32, ino, dev, nlink uint64, uid, gid uint32, size, atime, mtime, ctime int64) catalog.StatInfo {
	return catalog.StatInfo{
		Mode:  mode,
		Ino:   ino,
		Dev:   dev,
		Nlink: nlink,
		UID:   uid,
		GID:   gid,
		Size:  size,
		Atime: atime,
		Mtime: mtime,
		Ctime: ctime,
	}
}

func fallbackStat(fi os.FileInfo) catalog.StatInfo {
	return catalog.StatInfo{
		Mode:  uint32(fi.Mode()),
		Size:  fi.Size(),
		Mtime: fi.ModTime().Unix(),
		Ctime: fi.ModTime().Unix(),
	}
}
