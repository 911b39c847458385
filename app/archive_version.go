package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// currentArchiveVersion is bumped whenever the on-disk block or cascade
// encoding changes.
const currentArchiveVersion = 1

const archiveVersionFilename = "version"

// checkArchiveVersion reports whether archivePath carries a version file and
// fails if that file names a version other than currentArchiveVersion.
func checkArchiveVersion(archivePath string) (exists bool, err error) {
	versionBytes, err := os.ReadFile(archiveVersionFilePath(archivePath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.WithStack(err)
	}

	archiveVersion, err := strconv.Atoi(strings.TrimSpace(string(versionBytes)))
	if err != nil {
		return true, errors.Wrapf(err, "parsing archive version file in %s", archivePath)
	}
	if archiveVersion != currentArchiveVersion {
		return true, errors.Errorf("invalid archive version %d. Expected version: %d",
			archiveVersion, currentArchiveVersion)
	}
	return true, nil
}

func createArchiveVersionFile(archivePath string) error {
	versionString := strconv.Itoa(currentArchiveVersion)
	err := os.WriteFile(archiveVersionFilePath(archivePath), []byte(versionString), 0600)
	return errors.WithStack(err)
}

func archiveVersionFilePath(archivePath string) string {
	return filepath.Join(archivePath, archiveVersionFilename)
}
