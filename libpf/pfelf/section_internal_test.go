// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf

import (
	"debug/elf"
	"testing"
)

// TestGetSectionRetriesLegacyZdebugPrefix exercises the retry getSection
// performs when a ".debug_*" name has no direct match: an image that only
// carries the legacy ".zdebug_*" form must still resolve.
func TestGetSectionRetriesLegacyZdebugPrefix(t *testing.T) {
	obj := &Object{sections: []*Section{{Type: elf.SHT_NULL}}}
	sec := &Section{obj: obj, index: 1, Name: ".zdebug_info", Type: elf.SHT_PROGBITS}
	obj.sections = append(obj.sections, sec)
	obj.sectionsByName = map[string]int{".zdebug_info": 1}

	got, err := obj.getSection(".debug_info", elf.SHT_PROGBITS)
	if err != nil {
		t.Fatalf("getSection: %v", err)
	}
	if got != sec {
		t.Errorf("getSection(\".debug_info\") = %v, want the .zdebug_info section", got)
	}
}

func TestGetSectionNoZdebugFallbackAvailable(t *testing.T) {
	obj := &Object{sections: []*Section{{Type: elf.SHT_NULL}}, sectionsByName: map[string]int{}}

	got, err := obj.getSection(".debug_info", elf.SHT_PROGBITS)
	if err != nil {
		t.Fatalf("getSection: %v", err)
	}
	if got != nil {
		t.Errorf("getSection(\".debug_info\") = %v, want nil", got)
	}
}
