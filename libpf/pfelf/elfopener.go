// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// package pfelf implements an independent ELF object model for a symbolic stack
// unwinder. This file implements an interface to open ELF files from arbitrary
// locations with a given filename.

package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

// ELFOpener is the interface to open ELF files from arbitrary locations by name.
//
// Implementations must be safe to be called from different threads simultaneously.
type ELFOpener interface {
	OpenELF(ctx *Context, path string) (*Object, error)
}

// systemOpener implements ELFOpener by memory-mapping files from the file system.
type systemOpener struct{}

func (systemOpener) OpenELF(ctx *Context, path string) (*Object, error) {
	return Open(ctx, path)
}

// SystemOpener is the default ELFOpener, backed by the local file system.
var SystemOpener systemOpener
