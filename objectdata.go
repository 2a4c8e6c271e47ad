// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

// SymbolHandle is the opaque handle the code generator uses to name a
// symbol. The builder only needs equality and hashing, both of which
// a plain comparable type gives for free.
type SymbolHandle int

// RelocKind is the semantic relocation kind a code generator records
// against an object-data block, before it is mapped to a PE file
// relocation type (see relocFileKind in reloc.go and applyRelocation
// in patch.go).
type RelocKind uint8

const (
	// RelocAbsolute is the no-op kind: the site's bytes are already
	// final and neither the patcher nor .reloc touches them.
	RelocAbsolute RelocKind = iota
	// RelocHighLow is a 32-bit VA fixup: site = target + imageBaseLow32.
	RelocHighLow
	// RelocDir64 is a 64-bit VA fixup: site = target + imageBase.
	RelocDir64
	// RelocRel32 is a PC-relative 32-bit fixup (self-relative, no
	// .reloc entry needed).
	RelocRel32
	// RelocThumbMov32 encodes a 32-bit VA across an ARM Thumb
	// MOVW/MOVT instruction pair.
	RelocThumbMov32
	// RelocArm64PageBaseRel21 is the ARM64 ADRP page-relative form.
	RelocArm64PageBaseRel21
	// RelocArm64PageOffset12L is the ARM64 LDR/STR 12-bit page-offset form.
	RelocArm64PageOffset12L
	// RelocArm64PageOffset12A is the ARM64 ADD 12-bit page-offset form.
	RelocArm64PageOffset12A
	// RelocArm64Branch26 is the ARM64 unconditional branch immediate form.
	RelocArm64Branch26
)

// String implements fmt.Stringer for debug output.
func (k RelocKind) String() string {
	switch k {
	case RelocAbsolute:
		return "ABSOLUTE"
	case RelocHighLow:
		return "HIGHLOW"
	case RelocDir64:
		return "DIR64"
	case RelocRel32:
		return "REL32"
	case RelocThumbMov32:
		return "THUMB_MOV32"
	case RelocArm64PageBaseRel21:
		return "ARM64_PAGEBASE_REL21"
	case RelocArm64PageOffset12L:
		return "ARM64_PAGEOFFSET_12L"
	case RelocArm64PageOffset12A:
		return "ARM64_PAGEOFFSET_12A"
	case RelocArm64Branch26:
		return "ARM64_BRANCH26"
	default:
		return "UNKNOWN"
	}
}

// DefinedSymbol names a symbol at a byte offset within an ObjectData
// block.
type DefinedSymbol struct {
	Symbol SymbolHandle
	Offset uint32
}

// Relocation is an outbound reference recorded against an ObjectData
// block: the offset within the block of the encoded site, the kind of
// fixup, and the symbol it targets. The addend, when one exists, is
// implicit in the bytes already encoded at Offset.
type Relocation struct {
	Offset uint32
	Kind   RelocKind
	Target SymbolHandle
}

// ObjectData is the opaque, immutable unit of append a code generator
// hands to AddObjectData. It is consumed once and then discarded.
type ObjectData struct {
	// Bytes is the raw block content.
	Bytes []byte

	// Alignment is the power-of-two byte alignment this block
	// requires within its target section. Zero is treated as 1 (no
	// alignment requirement).
	Alignment uint32

	// Defines lists the symbols this block defines, each at an
	// intra-block offset.
	Defines []DefinedSymbol

	// Relocations lists the outbound references this block's bytes
	// contain.
	Relocations []Relocation
}
