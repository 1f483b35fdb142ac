package initrd

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/cavaliergopher/cpio"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, contents ...[]byte) []string {
	t.Helper()

	dir := t.TempDir()
	paths := make([]string, 0, len(contents))
	for i, content := range contents {
		path := filepath.Join(dir, "img"+string(rune('a'+i)))
		require.NoError(t, os.WriteFile(path, content, 0o600))
		paths = append(paths, path)
	}
	return paths
}

func TestConcatOrder(t *testing.T) {
	a := []byte("microcode")
	b := []byte("initramfs")
	paths := writeFiles(t, a, b)

	var ab bytes.Buffer
	require.NoError(t, Concat(&ab, paths))
	require.Equal(t, append(append([]byte{}, a...), b...), ab.Bytes())

	var ba bytes.Buffer
	require.NoError(t, Concat(&ba, []string{paths[1], paths[0]}))
	require.Equal(t, append(append([]byte{}, b...), a...), ba.Bytes())

	require.NotEqual(t, ab.Bytes(), ba.Bytes())
}

func TestConcatMissingFile(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, Concat(&buf, []string{filepath.Join(t.TempDir(), "nope")}))
}

func cpioArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := cpio.NewWriter(&buf)
	for name, content := range files {
		require.NoError(t, w.WriteHeader(&cpio.Header{
			Name: name,
			Size: int64(len(content)),
			Mode: 0o644,
		}))
		lo.Must(w.Write(content))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestList(t *testing.T) {
	archive := cpioArchive(t, map[string][]byte{"init": []byte("#!/bin/sh\n")})

	entries, err := List(bytes.NewReader(archive))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "init", entries[0].Name)
	require.EqualValues(t, 10, entries[0].Size)
}

func TestListGzip(t *testing.T) {
	archive := cpioArchive(t, map[string][]byte{"etc/hostname": []byte("box\n")})

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	lo.Must(gz.Write(archive))
	require.NoError(t, gz.Close())

	entries, err := List(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "etc/hostname", entries[0].Name)
}

func TestListGarbage(t *testing.T) {
	_, err := List(bytes.NewReader([]byte("this is not an archive at all")))
	require.Error(t, err)
}
