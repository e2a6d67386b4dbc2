package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// WriteKeypairFile persists the keypair as a solana-keygen JSON file (an
// array of the 64 private-key bytes) readable by solana-cli tooling. The
// parent directory is created with 0700 permissions when absent and the file
// lands with 0600 permissions via a temp-file rename. An existing file is
// never overwritten.
func WriteKeypairFile(path string, kp *Keypair) error {
	if kp == nil {
		return errors.New("crypto: nil keypair")
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return errors.New("crypto: empty key file path")
	}
	if _, err := os.Stat(trimmed); err == nil {
		return fmt.Errorf("crypto: key file %s already exists", trimmed)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	dir := filepath.Dir(trimmed)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	values := make([]int, len(kp.key))
	for i, b := range kp.key {
		values[i] = int(b)
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "keypair-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, trimmed)
}
