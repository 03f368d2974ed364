package buildsys

import (
	"crypto/sha256"
	"encoding/gob"
	"os"

	"github.com/rotisserie/eris"
)

func init() {
	gob.Register(TaskList{})
	gob.Register(Task{})
	gob.Register(TaskCmdScript{})
	gob.Register(TaskCmdTaskRef{})
}

// cacheEntry is what ends up in the cache file next to the task file.
type cacheEntry struct {
	Digest  [sha256.Size]byte
	Values  map[string]string
	Options map[string]ScriptOption
	Tasks   TaskList
}

func writeCache(file string, entry *cacheEntry) error {
	handle, err := os.Create(file)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", file)
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(entry)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", file)
	}

	return nil
}

func readCache(file string) (*cacheEntry, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	var entry cacheEntry
	err = gob.NewDecoder(handle).Decode(&entry)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to decode %s", file)
	}

	return &entry, nil
}

// matches reports whether the entry was produced from the same script and would resolve every
// option to the same value.
func (e *cacheEntry) matches(digest [sha256.Size]byte, values map[string]string, lookupEnv func(string) (string, bool)) bool {
	if e.Digest != digest {
		return false
	}

	for name := range values {
		if _, ok := e.Options[name]; !ok {
			return false
		}
	}

	for name, opt := range e.Options {
		if resolveOption(values, lookupEnv, name, opt.Default) != e.Values[name] {
			return false
		}
	}

	return true
}
