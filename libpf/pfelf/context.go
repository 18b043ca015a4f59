// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// package pfelf implements an independent ELF object model for a symbolic stack
// unwinder. This file implements Context, the process-wide collaborator that
// Object construction and debug-companion discovery consult for options, the
// debug-directory search path, a debuginfod handle and logging.

package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultDebugDir is the default system location for separate debug info, as
// used by gdb and most distributions' debuginfo packages.
const DefaultDebugDir = "/usr/lib/debug"

// DebuginfodClient resolves a build ID to a locally cached ELF image, fetching
// it from a debuginfod server on first use. Implementations must be safe for
// concurrent use.
type DebuginfodClient interface {
	// FetchDebuginfo returns a path to a local file holding the "debuginfo"
	// artifact for buildID, downloading it if not already cached.
	FetchDebuginfo(buildID string) (string, error)
}

// Options carries the process-wide knobs that influence Object behavior.
type Options struct {
	// NoExtDebug disables all external debug-companion discovery (debuglink,
	// build-id, debuginfod); only the primary image and .gnu_debugdata are
	// ever consulted.
	NoExtDebug bool

	// Verbose is carried for callers; this package does not read it. What
	// companion discovery and decompression fallbacks log is decided by the
	// level of Context.Logger (discovery logs at Debug, warnings at Warn).
	Verbose int
}

// Context is the process-wide collaborator shared by every Object opened
// during one run of the unwinder.
type Context struct {
	Options Options

	// debugDirs is the ordered list of directories searched for separate
	// debug info, most specific first.
	debugDirs []string

	// Debuginfod is consulted, if set, when build-id based lookup in the
	// configured debug directories fails.
	Debuginfod DebuginfodClient

	// Logger receives warnings and verbose diagnostics. Defaults to
	// slog.Default() when nil.
	Logger *slog.Logger

	opener ELFOpener
}

// NewContext creates a Context with the given options and debug directories.
// If dirs is empty, DefaultDebugDir is used.
func NewContext(opts Options, dirs ...string) *Context {
	if len(dirs) == 0 {
		dirs = []string{DefaultDebugDir}
	}
	return &Context{
		Options:   opts,
		debugDirs: dirs,
		opener:    SystemOpener,
	}
}

// log returns the logger to use, falling back to the package default.
func (c *Context) log() *slog.Logger {
	if c == nil || c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// GetDebugDirectories returns the ordered list of directories to search for
// separate debug info.
func (c *Context) GetDebugDirectories() []string {
	if c == nil {
		return []string{DefaultDebugDir}
	}
	return c.debugDirs
}

// Basename returns the final path element of path, like filepath.Base.
func (c *Context) Basename(path string) string { return filepath.Base(path) }

// Dirname returns path without its final element, like filepath.Dir.
func (c *Context) Dirname(path string) string { return filepath.Dir(path) }

// GetDebugImage opens relpath under each configured debug directory in turn,
// returning the first one that exists and parses as an ELF image.
func (c *Context) GetDebugImage(relpath string) (*Object, error) {
	var lastErr error
	for _, dir := range c.GetDebugDirectories() {
		if !isReadableDir(dir) {
			continue
		}
		candidate := filepath.Join(dir, relpath)
		obj, err := c.openerOrDefault().OpenELF(c, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		return obj, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s under %v", ErrCompanionNotFound, relpath, c.GetDebugDirectories())
	}
	return nil, lastErr
}

func (c *Context) openerOrDefault() ELFOpener {
	if c == nil || c.opener == nil {
		return SystemOpener
	}
	return c.opener
}

// isReadableDir reports whether dir exists and is a readable directory.
func isReadableDir(dir string) bool {
	fi, err := os.Stat(dir)
	return err == nil && fi.IsDir()
}
