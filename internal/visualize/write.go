package visualize

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	imgproc "github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/ironsheep/tumorscan/internal/scanerr"
)

// Paths returns the final artifact paths for outputDir and baseName, in
// configuration order, without touching the filesystem.
func (r *Renderer) Paths(outputDir, baseName string) ([]string, error) {
	if err := validateBaseName(baseName); err != nil {
		return nil, err
	}
	paths := make([]string, len(r.opts.Kinds))
	for i, kind := range r.opts.Kinds {
		name := artifactName(baseName, kind, r.opts.Extension())
		if len(name) > maxNameLen {
			return nil, fmt.Errorf("%w: artifact name %q exceeds %d bytes", scanerr.ErrWrite, name, maxNameLen)
		}
		paths[i] = filepath.Join(outputDir, name)
	}
	return paths, nil
}

// maxNameLen is the common file name limit (NAME_MAX) of Linux, macOS and
// Windows file systems.
const maxNameLen = 255

func artifactName(baseName string, kind Kind, ext string) string {
	return baseName + "_" + string(kind) + "." + ext
}

// validateBaseName rejects names that would escape or alias the output
// directory.
func validateBaseName(baseName string) error {
	switch {
	case baseName == "", baseName == ".", baseName == "..":
		return fmt.Errorf("%w: invalid base name %q", scanerr.ErrWrite, baseName)
	case strings.ContainsAny(baseName, `/\`), strings.ContainsRune(baseName, filepath.Separator):
		return fmt.Errorf("%w: base name %q must not contain path separators", scanerr.ErrWrite, baseName)
	case strings.ContainsRune(baseName, 0):
		return fmt.Errorf("%w: base name contains a NUL byte", scanerr.ErrWrite)
	}
	return nil
}

// batch stages artifacts under temporary names and renames them together.
type batch struct {
	dir, ext string
	staged   []stagedFile
	renamed  []string
}

type stagedFile struct {
	temp, final string
}

func newBatch(dir, ext string) (*batch, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create output directory: %w", scanerr.ErrWrite, err)
	}
	return &batch{dir: dir, ext: ext}, nil
}

// stage encodes img into a new hidden temp file next to final and syncs it.
// Temp names have a fixed length, so any valid final name can be staged.
func (b *batch) stage(kind Kind, final string, img image.Image, opts []imgproc.EncodeOption) error {
	temp := filepath.Join(b.dir, "."+uuid.New().String()+".tmp")

	f, err := os.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("%w: failed to create %s artifact: %w", scanerr.ErrWrite, kind, err)
	}
	b.staged = append(b.staged, stagedFile{temp: temp, final: final})

	format := imgproc.PNG
	if b.ext == "jpg" {
		format = imgproc.JPEG
	}
	if err := imgproc.Encode(f, img, format, opts...); err != nil {
		f.Close()
		return fmt.Errorf("%w: failed to encode %s artifact: %w", scanerr.ErrWrite, kind, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: failed to sync %s artifact: %w", scanerr.ErrWrite, kind, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s artifact: %w", scanerr.ErrWrite, kind, err)
	}
	return nil
}

// commit renames every staged file to its final name.
func (b *batch) commit() error {
	for _, s := range b.staged {
		if err := os.Rename(s.temp, s.final); err != nil {
			return fmt.Errorf("%w: failed to publish %s: %w", scanerr.ErrWrite, filepath.Base(s.final), err)
		}
		b.renamed = append(b.renamed, s.final)
	}
	return nil
}

// rollback removes every temp file and every file this batch renamed.
func (b *batch) rollback() {
	for _, s := range b.staged {
		os.Remove(s.temp)
	}
	for _, path := range b.renamed {
		os.Remove(path)
	}
}
