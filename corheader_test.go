// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import (
	"reflect"
	"testing"
)

func TestCorHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		h    CorHeader
	}{
		{
			"zero value",
			CorHeader{},
		},
		{
			"fully populated",
			CorHeader{
				Cb:                   72,
				MajorRuntimeVersion:  2,
				MinorRuntimeVersion:  5,
				MetaData:             ImageDataDirectory{VirtualAddress: 0x2000, Size: 0x400},
				Flags:                COMImageFlagsNativeEntrypoint,
				EntryPointRVAorToken: 0x1500,
				ManagedNativeHeader:  ImageDataDirectory{VirtualAddress: 0x5000, Size: 0x800},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := tt.h.Serialize()
			if len(blob) != corHeaderSize {
				t.Fatalf("Serialize() produced %d bytes, want %d", len(blob), corHeaderSize)
			}
			got, err := DeserializeCorHeader(blob)
			if err != nil {
				t.Fatalf("DeserializeCorHeader: %v", err)
			}
			if !reflect.DeepEqual(got, tt.h) {
				t.Errorf("round trip = %+v, want %+v", got, tt.h)
			}
		})
	}
}

func TestDeserializeCorHeaderTruncated(t *testing.T) {
	if _, err := DeserializeCorHeader(make([]byte, 10)); err == nil {
		t.Errorf("DeserializeCorHeader() with a truncated blob should return an error")
	}
}

func TestNewR2RCorHeaderSetsNativeEntrypoint(t *testing.T) {
	b := NewSectionBuilder(nil)
	idx, err := b.AddSection(".text", ImageScnCntCode, 16)
	if err != nil {
		t.Fatalf("AddSection: %v", err)
	}
	if err := b.AddObjectData(ObjectData{Bytes: []byte{1}, Defines: []DefinedSymbol{{Symbol: 1, Offset: 0}}}, idx); err != nil {
		t.Fatalf("AddObjectData: %v", err)
	}
	if err := b.SetEntryPoint(1); err != nil {
		t.Fatalf("SetEntryPoint: %v", err)
	}

	h := NewR2RCorHeader(b, 6, 0)
	if h.Flags&COMImageFlagsNativeEntrypoint == 0 {
		t.Errorf("NewR2RCorHeader() did not set COMImageFlagsNativeEntrypoint despite a configured entry point")
	}
	if h.Flags&COMImageFlagsILOnly != 0 {
		t.Errorf("NewR2RCorHeader() must not set COMImageFlagsILOnly for an R2R image")
	}
	if h.Flags&COMImageFlagILLibrary == 0 {
		t.Errorf("NewR2RCorHeader() must set COMImageFlagILLibrary for an R2R image")
	}
}
