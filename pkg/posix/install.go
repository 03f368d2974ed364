package posix

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
)

// DefaultInstallMode is what the install commands use without -m.
const DefaultInstallMode os.FileMode = 0o755

// InstallOptions mirrors the flags of install(1) that recipes use.
type InstallOptions struct {
	// Mode is applied as is to every installed file or created directory, including 0.
	Mode os.FileMode
	// CreateLeading creates missing parent directories of the destination (-D).
	CreateLeading bool
	// Directories treats every argument as a directory to create (-d).
	Directories bool
}

// ParseMode parses an octal mode string like "755" or "0644".
func ParseMode(value string) (os.FileMode, error) {
	mode, err := strconv.ParseUint(value, 8, 32)
	if err != nil {
		return 0, eris.Errorf("invalid mode %q, only octal modes are supported", value)
	}

	if mode > 0o7777 {
		return 0, eris.Errorf("invalid mode %q", value)
	}

	return os.FileMode(mode), nil
}

// Install copies sources to dest. With a single source, dest names the target file unless it is an
// existing directory. With several sources, dest must be a directory.
func Install(sources []string, dest string, opts InstallOptions) error {
	if opts.Directories {
		for _, dir := range append(sources, dest) {
			if dir == "" {
				continue
			}

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return eris.Wrapf(err, "Failed to create %s", dir)
			}

			if err := os.Chmod(dir, opts.Mode); err != nil {
				return eris.Wrapf(err, "Failed to set mode on %s", dir)
			}
		}
		return nil
	}

	if len(sources) == 0 {
		return eris.Errorf("missing destination file operand after %s", dest)
	}

	destIsDir := false
	info, err := os.Stat(dest)
	if err == nil {
		destIsDir = info.IsDir()
	} else if !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "Failed to retrieve info about destination %s", dest)
	}

	if len(sources) > 1 && !destIsDir {
		if !opts.CreateLeading {
			return eris.Errorf("target %s is not a directory", dest)
		}

		if err := os.MkdirAll(dest, 0o755); err != nil {
			return eris.Wrapf(err, "Failed to create directory %s", dest)
		}
		destIsDir = true
	}

	for _, src := range sources {
		target := dest
		if destIsDir {
			target = filepath.Join(dest, filepath.Base(src))
		} else if opts.CreateLeading {
			parent := filepath.Dir(dest)
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", parent)
			}
		}

		if err := installFile(src, target, opts.Mode); err != nil {
			return err
		}
	}

	return nil
}

// installFile writes src to a temporary file next to target and renames it into place so that a
// running binary is never truncated mid-copy.
func installFile(src, target string, mode os.FileMode) error {
	info, err := os.Stat(src)
	if err != nil {
		return eris.Wrapf(err, "Could not stat %s", src)
	}

	if info.IsDir() {
		return eris.Errorf("omitting directory %s", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", src)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), ".install-*")
	if err != nil {
		return eris.Wrapf(err, "Failed to create temporary file for %s", target)
	}
	tmpPath := tmp.Name()

	_, err = io.Copy(tmp, in)
	if cErr := tmp.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "Failed to copy %s to %s", src, target)
	}

	// chmod after writing so the result does not depend on the umask
	if err = os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "Failed to set mode on %s", target)
	}

	if err = os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "Failed to install %s", target)
	}

	return nil
}
