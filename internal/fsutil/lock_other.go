//go:build !unix

package fsutil

import "os"

// Advisory locking is a no-op where flock is unavailable.
func flockExclusive(*os.File) error { return nil }

func flockUnlock(*os.File) error { return nil }
