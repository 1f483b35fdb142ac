package initrd

import (
	"bufio"
	"compress/gzip"
	"io"
	"io/fs"
	"os"

	"github.com/cavaliergopher/cpio"
	"github.com/pkg/errors"
)

// Concat copies the listed initramfs files into w, byte for byte, in the
// given order. Bootloaders accept concatenated cpio archives, so microcode
// updates simply go first in the list.
func Concat(w io.Writer, paths []string) error {
	for _, path := range paths {
		if err := copyFile(w, path); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return errors.Wrapf(err, "copying %s", path)
}

// Entry describes one member of an initramfs archive.
type Entry struct {
	Name string
	Size int64
	Mode fs.FileMode
}

// List returns the members of an initramfs cpio archive, transparently
// decompressing gzip. Listing stops at the end of the first archive segment.
func List(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(2)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var cr io.Reader = br
	if head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer gz.Close()
		cr = gz
	}

	var entries []Entry
	archive := cpio.NewReader(cr)
	for {
		hdr, err := archive.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		entries = append(entries, Entry{
			Name: hdr.Name,
			Size: hdr.Size,
			Mode: hdr.FileInfo().Mode(),
		})
	}
}

// ListFile lists the members of an initramfs archive on disk.
func ListFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	entries, err := List(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return entries, nil
}
