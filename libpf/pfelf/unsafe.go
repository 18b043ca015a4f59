// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

import (
	"io"
	"reflect"
	"unsafe"
)

// sliceFrom reinterprets a pointer to a fixed-size struct, or a slice of such
// structs, as a []byte of the same length, so it can be handed straight to
// io.ReaderAt.ReadAt. This avoids a field-by-field encoding/binary decode for
// every header we read, which matters here since every unwound frame walks
// several of them.
func sliceFrom(data any) []byte {
	val := reflect.ValueOf(data)
	switch val.Kind() {
	case reflect.Slice:
		if val.Len() == 0 {
			return nil
		}
		e := val.Index(0)
		addr := e.Addr().UnsafePointer()
		l := val.Len() * int(e.Type().Size())
		return unsafe.Slice((*byte)(addr), l)
	case reflect.Ptr:
		e := val.Elem()
		addr := e.Addr().UnsafePointer()
		l := int(e.Type().Size())
		return unsafe.Slice((*byte)(addr), l)
	default:
		panic("pfelf: sliceFrom requires a pointer or slice")
	}
}

// readFull reads len(buf) bytes at off from r, turning a short read that is
// not an outright error into io.ErrUnexpectedEOF.
func readFull(r io.ReaderAt, off int64, buf []byte) error {
	n, err := r.ReadAt(buf, off)
	if err != nil && !(err == io.EOF && n == len(buf)) {
		return err
	}
	if n != len(buf) {
		return io.ErrUnexpectedEOF
	}
	return nil
}
