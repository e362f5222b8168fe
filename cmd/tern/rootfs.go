package main

import (
	"errors"
	"io/fs"
	"os"
	"path"
)

// rootFS adapts an os.Root into the writable fs.FS the workspace tools
// expect: fs.FS for reads plus WriteFile and MkdirAll for edits, all
// confined to the root.
type rootFS struct {
	root *os.Root
}

func (r rootFS) Open(name string) (fs.File, error) {
	return r.root.Open(name)
}

func (r rootFS) Stat(name string) (fs.FileInfo, error) {
	return r.root.Stat(name)
}

func (r rootFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	f, err := r.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func (r rootFS) MkdirAll(name string, perm os.FileMode) error {
	name = path.Clean(name)
	if name == "." || name == "/" {
		return nil
	}
	if parent := path.Dir(name); parent != "." {
		if err := r.MkdirAll(parent, perm); err != nil {
			return err
		}
	}
	if err := r.root.Mkdir(name, perm); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}
