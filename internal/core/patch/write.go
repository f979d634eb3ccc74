package patch

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// writeFile replaces path with data through a temporary file in the same
// directory, so a failed write never leaves a half-written file behind.
func writeFile(path string, data []byte, perm fs.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".mender-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// verify reads path back and checks that it holds want and that the
// post-image of every fragment is present.
func verify(path string, want []byte, frags []*gitdiff.TextFragment) error {
	got, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	if !bytes.Equal(got, want) {
		return errors.New("verification failed: file content differs from the patched content")
	}
	return postImagePresent(got, frags)
}
