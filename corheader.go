// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import "encoding/binary"

// COMImageFlagsType is the CLR header's Flags vocabulary — the same
// whether a reader parses it or a writer emits it.
type COMImageFlagsType uint32

// COM+ header entry point flags.
const (
	COMImageFlagsILOnly           COMImageFlagsType = 0x00000001
	COMImageFlags32BitRequired    COMImageFlagsType = 0x00000002
	COMImageFlagILLibrary         COMImageFlagsType = 0x00000004
	COMImageFlagsStrongNameSigned COMImageFlagsType = 0x00000008
	COMImageFlagsNativeEntrypoint COMImageFlagsType = 0x00000010
	COMImageFlagsTrackDebugData   COMImageFlagsType = 0x00010000
	COMImageFlags32BitPreferred   COMImageFlagsType = 0x00020000
)

// ImageDataDirectory is an (RVA, size) pair.
type ImageDataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// CorHeader is the 72-byte IMAGE_COR20_HEADER a Ready-to-Run image
// carries, field-for-field the on-disk layout — this is a wire
// structure, not an API response type.
type CorHeader struct {
	Cb                      uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	MetaData                ImageDataDirectory
	Flags                   COMImageFlagsType
	EntryPointRVAorToken    uint32
	Resources               ImageDataDirectory
	StrongNameSignature     ImageDataDirectory
	CodeManagerTable        ImageDataDirectory
	VTableFixups            ImageDataDirectory
	ExportAddressTableJumps ImageDataDirectory
	ManagedNativeHeader     ImageDataDirectory
}

const corHeaderSize = 72

// NewR2RCorHeader returns a CorHeader pre-filled with the policy an
// R2R (crossgen-style) image always uses: IL-only is cleared and the
// IL-library flag is set (native code lives alongside IL), plus the
// native entrypoint flag whenever the builder configured one.
func NewR2RCorHeader(b *SectionBuilder, majorRuntime, minorRuntime uint16) CorHeader {
	h := CorHeader{
		Cb:                  corHeaderSize,
		MajorRuntimeVersion: majorRuntime,
		MinorRuntimeVersion: minorRuntime,
		Flags:               COMImageFlagILLibrary,
	}
	if _, ok := b.EntryPoint(); ok {
		h.Flags |= COMImageFlagsNativeEntrypoint
	}
	return h
}

// Serialize writes the fixed 72-byte CorHeader layout, little-endian,
// in declaration order.
func (h CorHeader) Serialize() []byte {
	buf := make([]byte, 0, corHeaderSize)
	put32 := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }
	put16 := func(v uint16) { buf = binary.LittleEndian.AppendUint16(buf, v) }
	putDir := func(d ImageDataDirectory) { put32(d.VirtualAddress); put32(d.Size) }

	put32(h.Cb)
	put16(h.MajorRuntimeVersion)
	put16(h.MinorRuntimeVersion)
	putDir(h.MetaData)
	put32(uint32(h.Flags))
	put32(h.EntryPointRVAorToken)
	putDir(h.Resources)
	putDir(h.StrongNameSignature)
	putDir(h.CodeManagerTable)
	putDir(h.VTableFixups)
	putDir(h.ExportAddressTableJumps)
	putDir(h.ManagedNativeHeader)
	return buf
}

// DeserializeCorHeader parses a 72-byte blob back into a CorHeader.
// Serialize and DeserializeCorHeader are byte-for-byte inverses.
func DeserializeCorHeader(blob []byte) (CorHeader, error) {
	if len(blob) < corHeaderSize {
		return CorHeader{}, ErrCorHeaderTooShort
	}
	var h CorHeader
	pos := 0
	u32 := func() uint32 { v := binary.LittleEndian.Uint32(blob[pos:]); pos += 4; return v }
	u16 := func() uint16 { v := binary.LittleEndian.Uint16(blob[pos:]); pos += 2; return v }
	dir := func() ImageDataDirectory { return ImageDataDirectory{VirtualAddress: u32(), Size: u32()} }

	h.Cb = u32()
	h.MajorRuntimeVersion = u16()
	h.MinorRuntimeVersion = u16()
	h.MetaData = dir()
	h.Flags = COMImageFlagsType(u32())
	h.EntryPointRVAorToken = u32()
	h.Resources = dir()
	h.StrongNameSignature = dir()
	h.CodeManagerTable = dir()
	h.VTableFixups = dir()
	h.ExportAddressTableJumps = dir()
	h.ManagedNativeHeader = dir()
	return h, nil
}
