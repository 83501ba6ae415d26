// Copyright 2026 R5 Labs
// This file is part of the r5peer library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListChecksumAndOrdering(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ARCHIVE.ZIP"), []byte("zzz"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	files := List(dir)
	require.Len(t, files, 2)
	assert.Equal(t, "ARCHIVE.ZIP", files[0].Name)
	assert.Equal(t, "hello.txt", files[1].Name)

	hello := files[1]
	assert.Equal(t, int64(11), hello.Size)
	assert.Equal(t, "b94d27b9934d3e08", hello.Checksum)
	assert.Equal(t, ".txt", hello.Extension)
	assert.Equal(t, "text", hello.Type)

	archive := files[0]
	assert.Equal(t, ".zip", archive.Extension)
	assert.Equal(t, "other", archive.Type)
}

func TestListMissingDirectoryReturnsEmpty(t *testing.T) {
	files := List(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Empty(t, files)
}

func TestListSkipsUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locked.txt")
	require.NoError(t, os.WriteFile(path, []byte("secret"), 0o644))
	require.NoError(t, os.Chmod(path, 0o000))
	defer os.Chmod(path, 0o644)

	if os.Getuid() == 0 {
		t.Skip("running as root: file permissions do not restrict access")
	}

	files := List(dir)
	assert.Empty(t, files)
}

func TestClassifyTable(t *testing.T) {
	cases := map[string]string{
		".md": "text", ".png": "image", ".mp4": "video",
		".mp3": "audio", ".pdf": "document", ".go": "code", ".unknown": "other",
	}
	for ext, want := range cases {
		assert.Equal(t, want, classify(ext), ext)
	}
}
