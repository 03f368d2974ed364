package posix

import (
	"os"

	"github.com/rotisserie/eris"
)

// Remove deletes the given paths. With force, missing paths are ignored. Directories require
// recursive. Nothing is deleted unless every path passes these checks.
func Remove(items []string, recursive, force bool) error {
	existing := make([]string, 0, len(items))
	for _, item := range items {
		info, err := os.Lstat(item)
		if err != nil {
			if force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() && !recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}

		existing = append(existing, item)
	}

	for _, item := range existing {
		var err error
		if recursive {
			err = os.RemoveAll(item)
		} else {
			err = os.Remove(item)
		}

		if err != nil && (!force || !eris.Is(err, os.ErrNotExist)) {
			return eris.Wrapf(err, "Could not delete %s", item)
		}
	}

	return nil
}
