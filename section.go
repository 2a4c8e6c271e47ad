// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import "strings"

// The Characteristics field contains flags that indicate attributes
// of a section. These are the same ImageScn* constants the
// saferwall/pe parser uses to read a section header's
// Characteristics field; the builder uses them to describe the
// section it is about to emit.
const (
	ImageScnTypeNoPad = 0x00000008

	ImageScnCntCode              = 0x00000020
	ImageScnCntInitializedData   = 0x00000040
	ImageScnCntUninitializedData = 0x00000080

	ImageScnLnkOther = 0x00000100
	ImageScnLnkInfo  = 0x00000200

	ImageScnLnkRemove = 0x00000800
	ImageScnLnkComdat = 0x00001000
	ImageScnGpRel     = 0x00008000

	ImageScnMemPurgeable = 0x00020000
	ImageScnMemLocked    = 0x00040000
	ImageScnMemPreload   = 0x00080000

	ImageScnAlign1Bytes    = 0x00100000
	ImageScnAlign2Bytes    = 0x00200000
	ImageScnAlign4Bytes    = 0x00300000
	ImageScnAlign8Bytes    = 0x00400000
	ImageScnAlign16Bytes   = 0x00500000
	ImageScnAlign32Bytes   = 0x00600000
	ImageScnAlign64Bytes   = 0x00700000
	ImageScnAlign128Bytes  = 0x00800000
	ImageScnAlign256Bytes  = 0x00900000
	ImageScnAlign512Bytes  = 0x00A00000
	ImageScnAlign1024Bytes = 0x00B00000
	ImageScnAlign2048Bytes = 0x00C00000
	ImageScnAlign4096Bytes = 0x00D00000
	ImageScnAlign8192Bytes = 0x00E00000

	ImageScnLnkMRelocOvfl  = 0x01000000
	ImageScnMemDiscardable = 0x02000000
	ImageScnMemNotCached   = 0x04000000
	ImageScnMemNotPaged    = 0x08000000
	ImageScnMemShared      = 0x10000000
	ImageScnMemExecute     = 0x20000000
	ImageScnMemRead        = 0x40000000
	ImageScnMemWrite       = 0x80000000
)

// ImageSectionHeader is the 40-byte PE section table entry. The
// builder does not construct one; a section's placed RVA and file
// position correspond to VirtualAddress/PointerToRawData, and the
// rest of the envelope (NumberOfSections,
// FileAlignment rounding, the section table's own placement) belongs
// to the caller's PE-envelope writer.
type ImageSectionHeader struct {
	Name                 [8]uint8
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

// pendingReloc records the relocations carried by one appended
// ObjectData, keyed by the offset within the section at which that
// object data landed.
type pendingReloc struct {
	offset    uint32
	relocList []Relocation
}

// Section is a named, ordered byte buffer with PE characteristics, a
// combining alignment, and the relocations pending against it. Once
// placed the section's bytes are frozen — only the placement code
// (SectionBuilder.SerializeSection, driven by Layouter.Layout, and
// Layouter.AppendSealedSection) ever sets the placement fields.
type Section struct {
	name               string
	characteristics    uint32
	combiningAlignment uint32

	bytes   []byte
	pending []pendingReloc

	placed            bool
	rvaWhenPlaced     uint32
	filePosWhenPlaced uint32
}

// Name returns the section's name, with any trailing NUL padding the
// PE section table format would otherwise carry already stripped.
func (s *Section) Name() string {
	return strings.TrimRight(s.name, "\x00")
}

// Characteristics returns the PE characteristics flags supplied at
// AddSection time.
func (s *Section) Characteristics() uint32 {
	return s.characteristics
}

// Size returns the number of bytes accumulated in the section so far.
func (s *Section) Size() uint32 {
	return uint32(len(s.bytes))
}

// Bytes returns the section's accumulated byte buffer. The slice is
// only safe to read; mutate it through AddObjectData instead.
func (s *Section) Bytes() []byte {
	return s.bytes
}

// Placed reports whether the Layouter has assigned this section its
// final RVA and file position yet.
func (s *Section) Placed() bool {
	return s.placed
}

// RVA returns the section's relative virtual address. Only valid
// after layout; returns ErrSectionNotPlaced otherwise.
func (s *Section) RVA() (uint32, error) {
	if !s.Placed() {
		return 0, ErrSectionNotPlaced
	}
	return s.rvaWhenPlaced, nil
}

// FilePos returns the section's file offset. Only valid after layout.
func (s *Section) FilePos() (uint32, error) {
	if !s.Placed() {
		return 0, ErrSectionNotPlaced
	}
	return s.filePosWhenPlaced, nil
}

// PrettySectionFlags returns the human-readable names of the set bits
// in a section Characteristics value, in no particular order.
func PrettySectionFlags(characteristics uint32) []string {
	sectionFlags := map[uint32]string{
		ImageScnTypeNoPad:            "No Padd",
		ImageScnCntCode:              "Contains Code",
		ImageScnCntInitializedData:   "Initialized Data",
		ImageScnCntUninitializedData: "Uninitialized Data",
		ImageScnLnkOther:             "Lnk Other",
		ImageScnLnkInfo:              "Lnk Info",
		ImageScnLnkRemove:            "LnkRemove",
		ImageScnLnkComdat:            "LnkComdat",
		ImageScnGpRel:                "GpReferenced",
		ImageScnMemPurgeable:         "Purgeable",
		ImageScnMemLocked:            "Locked",
		ImageScnMemPreload:           "Preload",
		ImageScnLnkMRelocOvfl:        "ExtendedReloc",
		ImageScnMemDiscardable:       "Discardable",
		ImageScnMemNotCached:         "NotCached",
		ImageScnMemNotPaged:          "NotPaged",
		ImageScnMemShared:            "Shared",
		ImageScnMemExecute:           "Executable",
		ImageScnMemRead:              "Readable",
		ImageScnMemWrite:             "Writable",
	}

	var values []string
	for k, v := range sectionFlags {
		if characteristics&k == k {
			values = append(values, v)
		}
	}
	return values
}
