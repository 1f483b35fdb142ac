package kernel

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ErrNotKernelImage is returned when the inspected file does not carry the
// x86 boot protocol magic.
var ErrNotKernelImage = errors.New("not a linux kernel image")

// Offsets defined by the x86 linux boot protocol setup header.
const (
	magicOffset   = 514
	versionOffset = 526
	setupBase     = 512
	versionMax    = 256
)

var magic = []byte("HdrS")

// Version extracts the kernel release string from a bzImage. The stream
// position is restored before returning, on both paths.
func Version(r io.ReadSeeker) (string, error) {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer func() {
		_, _ = r.Seek(pos, io.SeekStart)
	}()

	buf := make([]byte, len(magic))
	if _, err := r.Seek(magicOffset, io.SeekStart); err != nil {
		return "", errors.WithStack(err)
	}
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, magic) {
		return "", errors.WithStack(ErrNotKernelImage)
	}

	if _, err := r.Seek(versionOffset, io.SeekStart); err != nil {
		return "", errors.WithStack(err)
	}
	var offset int16
	if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
		return "", errors.WithStack(err)
	}

	if _, err := r.Seek(int64(offset)+setupBase, io.SeekStart); err != nil {
		return "", errors.WithStack(err)
	}
	version := make([]byte, versionMax)
	n, err := io.ReadFull(r, version)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", errors.WithStack(err)
	}
	version = version[:n]

	if i := bytes.IndexByte(version, ' '); i >= 0 {
		version = version[:i]
	}
	return string(version), nil
}

// VersionFromFile extracts the kernel release string from a bzImage on disk.
func VersionFromFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer f.Close()

	version, err := Version(f)
	if err != nil {
		return "", errors.Wrapf(err, "%s", path)
	}
	return version, nil
}
