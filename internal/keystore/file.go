package keystore

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// File is the file-backed backend. The on-disk format is a YAML mapping
// from PSK identity to hex-encoded key: keys failing hex
// decode or length validation cause load-time failure.
type File struct {
	path string
	snap atomic.Pointer[Snapshot]
}

// NewFile loads path and constructs a File store. A decode or validation
// failure is returned immediately rather than producing a
// partially-populated store.
func NewFile(path string) (*File, error) {
	f := &File{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Lookup(identity string) ([]byte, bool) {
	return f.snap.Load().lookup(identity)
}

func (f *File) Identities() []string {
	return f.snap.Load().identities()
}

// Reload re-reads the backing file and atomically swaps the snapshot.
// In-flight handshakes keep using the snapshot they started with.
func (f *File) Reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("keystore: reading %s: %w", f.path, err)
	}

	var hexKeys map[string]string
	if err := yaml.Unmarshal(raw, &hexKeys); err != nil {
		return fmt.Errorf("keystore: parsing %s: %w", f.path, err)
	}

	keys := make(map[string][]byte, len(hexKeys))
	for identity, hexKey := range hexKeys {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return &ErrMalformedKey{Identity: identity, Reason: "not valid hex"}
		}
		keys[identity] = key
	}

	snap, err := NewSnapshot(keys)
	if err != nil {
		return err
	}
	f.snap.Store(snap)
	return nil
}
