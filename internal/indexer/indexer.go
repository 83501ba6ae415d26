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

// Package indexer scans a shared directory and reports the metadata
// (size, mtime, checksum, type) of every regular file it contains.
package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileMeta is the immutable per-file record described by the index.
type FileMeta struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MTime     int64  `json:"mtime"`
	Checksum  string `json:"checksum"`
	Extension string `json:"extension"`
	Type      string `json:"type"`
}

var typeTable = map[string]string{
	".txt": "text", ".md": "text", ".log": "text", ".json": "text", ".xml": "text", ".csv": "text",
	".jpg": "image", ".jpeg": "image", ".png": "image", ".gif": "image", ".bmp": "image", ".svg": "image",
	".mp4": "video", ".avi": "video", ".mkv": "video", ".mov": "video", ".wmv": "video", ".flv": "video",
	".mp3": "audio", ".wav": "audio", ".flac": "audio", ".aac": "audio", ".ogg": "audio",
	".pdf": "document", ".doc": "document", ".docx": "document", ".xls": "document", ".xlsx": "document", ".ppt": "document", ".pptx": "document",
	".py": "code", ".js": "code", ".java": "code", ".cpp": "code", ".c": "code", ".h": "code", ".go": "code", ".rs": "code",
}

// classify maps a lowercased extension (including the leading dot) to
// its file-type category, defaulting to "other".
func classify(ext string) string {
	if t, ok := typeTable[ext]; ok {
		return t
	}
	return "other"
}

const checksumChunk = 4096

// checksum streams path through SHA-256 in 4KiB chunks and returns
// the first 16 hex characters of the digest.
func checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, checksumChunk)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// List scans dir non-recursively and returns FileMeta for every
// regular file, ordered lexicographically by name. A missing
// directory yields an empty list, not an error; individual files that
// cannot be stat'd or checksummed are silently skipped rather than
// aborting the whole scan.
func List(dir string) []FileMeta {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	files := make([]FileMeta, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		sum, err := checksum(path)
		if err != nil {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		files = append(files, FileMeta{
			Name:      e.Name(),
			Size:      info.Size(),
			MTime:     info.ModTime().Unix(),
			Checksum:  sum,
			Extension: ext,
			Type:      classify(ext),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files
}
