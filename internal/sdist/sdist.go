// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package sdist builds source-distribution archives: a manifest decides
// which files under a root directory are shipped, and the selection is
// written out as a gzip-compressed tarball.
package sdist

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/localcloud/localcloud/internal/logging"
	"github.com/localcloud/localcloud/internal/manifest"
)

// Options configures a Build.
type Options struct {
	// Root is the directory the manifest selects files from.
	Root string

	// ManifestPath is the manifest file. A path relative to Root is
	// resolved against it. Empty means "MANIFEST.in" under Root.
	ManifestPath string

	// OutPath is where the .tar.gz is written.
	OutPath string

	// Reproducible zeroes all timestamps and ownership in the archive
	// so that two builds of the same tree produce identical bytes.
	Reproducible bool
}

// Result summarizes a completed Build.
type Result struct {
	// Files is the number of files written to the archive.
	Files int

	// Bytes is the total uncompressed content size.
	Bytes int64
}

// Build evaluates the manifest against the root tree and writes the
// selected files to a tar.gz archive. Entries appear in selection
// order, which the manifest engine keeps deterministic, and the
// manifest file itself is always part of the archive when it lives
// under the root.
func Build(ctx context.Context, opts Options) (Result, error) {
	logger := logging.HCLogger().Named("sdist")

	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		manifestPath = "MANIFEST.in"
	}
	if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(opts.Root, manifestPath)
	}

	m, err := manifest.ParseFile(manifestPath)
	if err != nil {
		return Result{}, err
	}

	selected, err := m.EvaluateDir(opts.Root)
	if err != nil {
		return Result{}, err
	}

	// setuptools always ships the manifest itself; do the same when it
	// lives inside the tree being packed.
	if rel, err := filepath.Rel(opts.Root, manifestPath); err == nil {
		rel = filepath.ToSlash(rel)
		if !isOutsideRoot(rel) {
			selected.Add(rel)
		}
	}

	out, err := os.Create(opts.OutPath)
	if err != nil {
		return Result{}, fmt.Errorf("creating archive: %w", err)
	}

	result, buildErr := writeArchive(ctx, out, opts, selected.Files())
	if closeErr := out.Close(); closeErr != nil && buildErr == nil {
		buildErr = fmt.Errorf("closing archive: %w", closeErr)
	}
	if buildErr != nil {
		// A half-written archive is worse than none.
		if rmErr := os.Remove(opts.OutPath); rmErr != nil {
			buildErr = multierror.Append(buildErr, rmErr)
		}
		return Result{}, buildErr
	}

	logger.Debug("built source distribution",
		"out", opts.OutPath, "files", result.Files, "bytes", result.Bytes)
	return result, nil
}

func writeArchive(ctx context.Context, out io.Writer, opts Options, files []string) (Result, error) {
	gzw := gzip.NewWriter(out)
	tw := tar.NewWriter(gzw)

	var result Result
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		n, err := writeFile(tw, opts, rel)
		if err != nil {
			return Result{}, fmt.Errorf("archiving %s: %w", rel, err)
		}
		result.Files++
		result.Bytes += n
	}

	if err := tw.Close(); err != nil {
		return Result{}, fmt.Errorf("finalizing archive: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return Result{}, fmt.Errorf("finalizing compression: %w", err)
	}
	return result, nil
}

func writeFile(tw *tar.Writer, opts Options, rel string) (int64, error) {
	p := filepath.Join(opts.Root, filepath.FromSlash(rel))

	info, err := os.Lstat(p)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		// The manifest walk only yields regular files; anything else
		// appeared between the walk and now.
		return 0, fmt.Errorf("not a regular file")
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, err
	}
	hdr.Name = rel
	hdr.Format = tar.FormatPAX
	if opts.Reproducible {
		hdr.ModTime = time.Unix(0, 0).UTC()
		hdr.AccessTime = time.Time{}
		hdr.ChangeTime = time.Time{}
		hdr.Uid = 0
		hdr.Gid = 0
		hdr.Uname = ""
		hdr.Gname = ""
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}

	f, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := io.Copy(tw, f)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func isOutsideRoot(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == "../"
}
