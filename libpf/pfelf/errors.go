// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

import "errors"

// ErrNotELF is returned when the file does not start with the ELF magic.
var ErrNotELF = errors.New("not an ELF file")

// ErrMalformedELF is returned when the header is present but self-contradictory
// (bad EI_VERSION, out of range string table index, and similar).
var ErrMalformedELF = errors.New("malformed ELF file")

// ErrUnsupportedClass is returned for ELF classes/byte orders this package does
// not implement (only 64-bit little-endian images are supported).
var ErrUnsupportedClass = errors.New("unsupported ELF class or byte order")

// ErrSymbolNotFound is returned when a requested symbol is absent.
var ErrSymbolNotFound = errors.New("symbol not found")

// ErrNoDebugLink is returned when a .gnu_debuglink section is absent; a malformed
// one yields ErrMalformedELF instead.
var ErrNoDebugLink = errors.New("no debug link")

// ErrNoBuildID is returned when no GNU build-id note is present.
var ErrNoBuildID = errors.New("no build ID")

// ErrCompanionNotFound is returned when no debug-companion discovery strategy
// located a usable external debug image.
var ErrCompanionNotFound = errors.New("no debug companion found")

// ErrUnsupportedCompression is returned internally when a section requests a
// compression scheme this build does not support; Section.Data downgrades this
// to a one-shot warning and empty contents rather than propagating it.
var ErrUnsupportedCompression = errors.New("unsupported section compression")
