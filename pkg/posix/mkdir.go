package posix

import (
	"os"

	"github.com/rotisserie/eris"
)

// DefaultDirMode is used by Mkdir when no mode is passed.
const DefaultDirMode os.FileMode = 0o755

// Mkdir creates each directory. With parents, missing parents are created and existing
// directories are not an error.
func Mkdir(items []string, parents bool, mode os.FileMode) error {
	if mode == 0 {
		mode = DefaultDirMode
	}

	for _, item := range items {
		var err error
		if parents {
			err = os.MkdirAll(item, mode)
		} else {
			err = os.Mkdir(item, mode)
		}

		if err != nil {
			return eris.Wrapf(err, "Failed to create %s", item)
		}
	}

	return nil
}
