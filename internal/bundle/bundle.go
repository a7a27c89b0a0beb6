// Package bundle packages one manifest plus its artifact files into a
// single compressed archive unit.
package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigwebarchive/archiver/internal/archive"
)

// ManifestEntry is the bundle-relative path of the serialized manifest.
const ManifestEntry = "manifest.json"

const maxEntrySize = 512 << 20 // cap per-entry extraction at 512 MiB

// Build produces a zip archive containing the manifest as its index entry
// plus every source file that exists on disk. Files map bundle-relative
// paths to source paths; entries whose source is missing are dropped, not
// errored.
func Build(manifest archive.Manifest, files map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	entry, err := w.Create(ManifestEntry)
	if err != nil {
		return nil, fmt.Errorf("create manifest entry: %w", err)
	}
	if _, err := entry.Write(manifestJSON); err != nil {
		return nil, fmt.Errorf("write manifest entry: %w", err)
	}

	for rel, src := range files {
		if err := addFile(w, rel, src); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize bundle: %w", err)
	}
	return buf.Bytes(), nil
}

func addFile(w *zip.Writer, rel, src string) error {
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	entry, err := w.Create(filepath.ToSlash(rel))
	if err != nil {
		return fmt.Errorf("create entry %s: %w", rel, err)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return fmt.Errorf("copy entry %s: %w", rel, err)
	}
	return nil
}

// ReadManifest decodes only the manifest entry of a bundle, without
// extracting anything to disk.
func ReadManifest(data []byte) (archive.Manifest, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return archive.Manifest{}, fmt.Errorf("open bundle: %w", archive.ErrCorruptBundle)
	}
	for _, f := range r.File {
		if f.Name != ManifestEntry {
			continue
		}
		content, err := readEntry(f)
		if err != nil {
			return archive.Manifest{}, err
		}
		var m archive.Manifest
		if err := json.Unmarshal(content, &m); err != nil {
			return archive.Manifest{}, fmt.Errorf("decode manifest entry: %w", archive.ErrCorruptBundle)
		}
		return m, nil
	}
	return archive.Manifest{}, fmt.Errorf("bundle has no %s: %w", ManifestEntry, archive.ErrCorruptBundle)
}

// Extract fully unpacks a bundle into dest and returns its manifest.
// An unreadable archive, an entry escaping dest, or a missing/invalid
// manifest entry yields ErrCorruptBundle; callers can detect a partial
// extraction by the absence of a returned manifest.
func Extract(data []byte, dest string) (archive.Manifest, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return archive.Manifest{}, fmt.Errorf("open bundle: %w", archive.ErrCorruptBundle)
	}

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return archive.Manifest{}, fmt.Errorf("create destination: %w", err)
	}
	destAbs, err := filepath.Abs(dest)
	if err != nil {
		return archive.Manifest{}, fmt.Errorf("resolve destination: %w", err)
	}

	var manifest *archive.Manifest
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		content, err := readEntry(f)
		if err != nil {
			return archive.Manifest{}, err
		}
		if f.Name == ManifestEntry {
			var m archive.Manifest
			if err := json.Unmarshal(content, &m); err != nil {
				return archive.Manifest{}, fmt.Errorf("decode manifest entry: %w", archive.ErrCorruptBundle)
			}
			manifest = &m
		}
		if err := writeEntry(destAbs, f.Name, content); err != nil {
			return archive.Manifest{}, err
		}
	}

	if manifest == nil {
		return archive.Manifest{}, fmt.Errorf("bundle has no %s: %w", ManifestEntry, archive.ErrCorruptBundle)
	}
	return *manifest, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, archive.ErrCorruptBundle)
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, maxEntrySize))
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, archive.ErrCorruptBundle)
	}
	return content, nil
}

func writeEntry(destAbs, name string, content []byte) error {
	target := filepath.Join(destAbs, filepath.FromSlash(name))
	// Entry names are untrusted; refuse anything resolving outside dest.
	if target != destAbs && !strings.HasPrefix(target, destAbs+string(filepath.Separator)) {
		return fmt.Errorf("entry %s escapes destination: %w", name, archive.ErrCorruptBundle)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create entry directory: %w", err)
	}
	if err := os.WriteFile(target, content, 0o600); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}
