package syncer

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is the per-directory file of gitignore-style patterns
// naming files to leave out of sync. It is never synced itself.
const IgnoreFileName = ".savesyncignore"

// loadIgnore parses the ignore file of dir. A missing or unreadable file
// yields nil, which ignores nothing.
func loadIgnore(dir string, logger *slog.Logger) *ignore.GitIgnore {
	path := filepath.Join(dir, IgnoreFileName)

	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("reading ignore file", slog.String("path", path), slog.String("error", err.Error()))
		}

		return nil
	}

	logger.Debug("loaded ignore file", slog.String("path", path))

	return gi
}

// ignored reports whether name is the ignore file or matches one of its
// patterns.
func ignored(gi *ignore.GitIgnore, name string) bool {
	if name == IgnoreFileName {
		return true
	}

	return gi != nil && gi.MatchesPath(name)
}
