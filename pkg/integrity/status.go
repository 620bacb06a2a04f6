package integrity

import (
	"os"
	"time"
)

// FileStat is a point-in-time view of one on-disk file.
type FileStat struct {
	Path    string    `json:"path"`
	Exists  bool      `json:"exists"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time,omitempty"`
}

// JournalStatus is a read-only snapshot of the store's primary file and
// its journal/shared-memory companions. It is recomputed on every call
// and never cached: the filesystem is the source of truth.
type JournalStatus struct {
	Primary      FileStat `json:"primary"`
	Journal      FileStat `json:"journal"`
	SharedMemory FileStat `json:"shared_memory"`
}

// HasIssue reports whether the store has uncommitted writes pending
// checkpoint. This is exactly "journal file exists and is non-empty":
// SQLite truncates or removes the -wal file once all frames are merged
// into the primary file.
func (s JournalStatus) HasIssue() bool {
	return s.Journal.Exists && s.Journal.Size > 0
}

// JournalPath returns the write-ahead journal path for a database file.
func JournalPath(dbPath string) string {
	return dbPath + "-wal"
}

// SharedMemoryPath returns the shared-memory index path for a database file.
func SharedMemoryPath(dbPath string) string {
	return dbPath + "-shm"
}

// Snapshot stats the database file and its companions.
func Snapshot(dbPath string) JournalStatus {
	return JournalStatus{
		Primary:      statFile(dbPath),
		Journal:      statFile(JournalPath(dbPath)),
		SharedMemory: statFile(SharedMemoryPath(dbPath)),
	}
}

func statFile(path string) FileStat {
	info, err := os.Stat(path)
	if err != nil {
		return FileStat{Path: path}
	}
	return FileStat{
		Path:    path,
		Exists:  true,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}
