// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import (
	"encoding/binary"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// Patcher applies every pending relocation recorded during
// AddObjectData against a fully laid-out SectionBuilder, writing
// target addresses directly into an already-assembled PE image. The
// output is memory-mapped with edsrzf/mmap-go rather than driven
// through read/write syscalls.
type Patcher struct {
	b *SectionBuilder

	cor           *CorHeader
	corFileOffset uint32
}

// NewPatcher returns a Patcher bound to a builder that has already
// been through Layout (and, if it has exports or needs relocation
// metadata, Seal).
func NewPatcher(b *SectionBuilder) *Patcher {
	return &Patcher{b: b}
}

// SetCorHeader arranges for the (possibly mutated) COR header to be
// rewritten over the original header bytes at fileOffset while the
// output is patched.
func (p *Patcher) SetCorHeader(h CorHeader, fileOffset uint32) {
	p.cor = &h
	p.corFileOffset = fileOffset
}

// RelocateOutputFile memory-maps path read/write and patches every
// relocation site in place. The caller is
// expected to have already written the unpatched, laid-out image
// (headers, section bytes at their file positions) to path — the
// Patcher only overwrites the handful of bytes each relocation site
// occupies.
func (p *Patcher) RelocateOutputFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return err
	}
	defer data.Unmap()

	if err := p.PatchBlob(data); err != nil {
		return err
	}
	return data.Flush()
}

// PatchBlob applies every relocation directly against an in-memory,
// file-offset-addressed byte slice (what RelocateOutputFile maps, or
// what a caller building entirely in memory already holds).
func (p *Patcher) PatchBlob(blob []byte) error {
	imageBase := p.b.Options().imageBase()

	if p.cor != nil {
		hdr := p.cor.Serialize()
		if uint64(p.corFileOffset)+uint64(len(hdr)) > uint64(len(blob)) {
			return ErrCorHeaderOutOfRange
		}
		copy(blob[p.corFileOffset:], hdr)
	}

	for _, sec := range p.b.sections {
		if len(sec.pending) > 0 && !sec.Placed() {
			return ErrSectionNotPlaced
		}
	}

	for _, sec := range p.b.SectionsByRVA() {
		for _, pending := range sec.pending {
			for _, r := range pending.relocList {
				siteRVA := sec.rvaWhenPlaced + pending.offset + r.Offset
				fileOffset := sec.filePosWhenPlaced + pending.offset + r.Offset

				target, err := p.b.Symbols().Resolve(r.Target)
				if err != nil {
					return err
				}
				targetSec := p.b.section(target.Section)
				if !targetSec.Placed() {
					return ErrSectionNotPlaced
				}
				targetRVA := targetSec.rvaWhenPlaced + target.Offset

				if err := applyRelocation(r.Kind, siteRVA, targetRVA, imageBase, blob, fileOffset); err != nil {
					return err
				}
			}
		}
	}

	p.b.state = stateDone
	return nil
}

// applyRelocation mutates the bytes at fileOffset within blob,
// encoding targetRVA relative to siteRVA per kind.
func applyRelocation(kind RelocKind, siteRVA, targetRVA uint32, imageBase uint64, blob []byte, fileOffset uint32) error {
	switch kind {
	case RelocAbsolute:
		// No-op: the site's bytes are already final.

	case RelocHighLow:
		if fileOffset+4 > uint32(len(blob)) {
			return ErrSiteOutsideBlock
		}
		va := uint32(imageBase) + targetRVA
		binary.LittleEndian.PutUint32(blob[fileOffset:], va)

	case RelocDir64:
		if fileOffset+8 > uint32(len(blob)) {
			return ErrSiteOutsideBlock
		}
		va := imageBase + uint64(targetRVA)
		binary.LittleEndian.PutUint64(blob[fileOffset:], va)

	case RelocRel32:
		if fileOffset+4 > uint32(len(blob)) {
			return ErrSiteOutsideBlock
		}
		addend := int64(int32(binary.LittleEndian.Uint32(blob[fileOffset:])))
		delta := int64(targetRVA) - int64(siteRVA+4) + addend
		binary.LittleEndian.PutUint32(blob[fileOffset:], uint32(int32(delta)))

	case RelocThumbMov32:
		if fileOffset+8 > uint32(len(blob)) {
			return ErrSiteOutsideBlock
		}
		va := uint32(imageBase) + targetRVA
		patchThumbMovw32(blob[fileOffset:fileOffset+4], uint16(va))
		patchThumbMovt32(blob[fileOffset+4:fileOffset+8], uint16(va>>16))

	case RelocArm64PageBaseRel21:
		if fileOffset+4 > uint32(len(blob)) {
			return ErrSiteOutsideBlock
		}
		sitePage := (uint64(imageBase) + uint64(siteRVA)) &^ 0xFFF
		targetPage := (imageBase + uint64(targetRVA)) &^ 0xFFF
		delta := int64(targetPage-sitePage) >> 12
		patchADRP(blob[fileOffset:fileOffset+4], int32(delta))

	case RelocArm64PageOffset12L:
		if fileOffset+4 > uint32(len(blob)) {
			return ErrSiteOutsideBlock
		}
		off := targetRVA & 0xFFF
		patchARM64Imm12Scaled(blob[fileOffset:fileOffset+4], off)

	case RelocArm64PageOffset12A:
		if fileOffset+4 > uint32(len(blob)) {
			return ErrSiteOutsideBlock
		}
		off := targetRVA & 0xFFF
		patchARM64Imm12Unscaled(blob[fileOffset:fileOffset+4], off)

	case RelocArm64Branch26:
		if fileOffset+4 > uint32(len(blob)) {
			return ErrSiteOutsideBlock
		}
		delta := int64(targetRVA) - int64(siteRVA)
		patchARM64Branch26(blob[fileOffset:fileOffset+4], delta)

	default:
		return fmt.Errorf("peemit: unhandled relocation kind %s", kind)
	}
	return nil
}

// patchThumbMovw32/patchThumbMovt32 patch a Thumb-2 T3 MOVW/MOVT
// 32-bit instruction's imm16 (encoded as imm4:i:imm3:imm8 across the
// two 16-bit halfwords) with the given 16-bit immediate.
func patchThumbMovw32(ins []byte, imm16 uint16) { patchThumbImm16(ins, imm16) }
func patchThumbMovt32(ins []byte, imm16 uint16) { patchThumbImm16(ins, imm16) }

func patchThumbImm16(ins []byte, imm16 uint16) {
	hw1 := binary.LittleEndian.Uint16(ins[0:2])
	hw2 := binary.LittleEndian.Uint16(ins[2:4])

	imm4 := uint16(imm16>>12) & 0xF
	i := uint16(imm16>>11) & 0x1
	imm3 := uint16(imm16>>8) & 0x7
	imm8 := imm16 & 0xFF

	hw1 = (hw1 &^ 0x040F) | (i << 10) | imm4
	hw2 = (hw2 &^ 0x70FF) | (imm3 << 12) | imm8

	binary.LittleEndian.PutUint16(ins[0:2], hw1)
	binary.LittleEndian.PutUint16(ins[2:4], hw2)
}

// patchADRP patches an AArch64 ADRP instruction's split 21-bit
// page-relative immediate (immlo at bits[30:29], immhi at
// bits[23:5]).
func patchADRP(ins []byte, pageDelta int32) {
	word := binary.LittleEndian.Uint32(ins)
	imm := uint32(pageDelta) & 0x1FFFFF
	immlo := imm & 0x3
	immhi := (imm >> 2) & 0x7FFFF
	word = (word &^ (0x3 << 29)) | (immlo << 29)
	word = (word &^ (0x7FFFF << 5)) | (immhi << 5)
	binary.LittleEndian.PutUint32(ins, word)
}

// patchARM64Imm12Scaled patches bits[21:10] of an LDR/STR instruction
// with a page offset scaled by the instruction's transfer size
// (bits[31:30] size field), matching the PAGEOFFSET12L relocation.
func patchARM64Imm12Scaled(ins []byte, offset uint32) {
	word := binary.LittleEndian.Uint32(ins)
	size := (word >> 30) & 0x3
	scaled := offset >> size
	word = (word &^ (0xFFF << 10)) | ((scaled & 0xFFF) << 10)
	binary.LittleEndian.PutUint32(ins, word)
}

// patchARM64Imm12Unscaled patches bits[21:10] of an ADD (immediate)
// instruction with an unscaled page offset, matching PAGEOFFSET12A.
func patchARM64Imm12Unscaled(ins []byte, offset uint32) {
	word := binary.LittleEndian.Uint32(ins)
	word = (word &^ (0xFFF << 10)) | ((offset & 0xFFF) << 10)
	binary.LittleEndian.PutUint32(ins, word)
}

// patchARM64Branch26 patches bits[25:0] of a B/BL instruction with a
// word-aligned PC-relative branch target.
func patchARM64Branch26(ins []byte, byteDelta int64) {
	word := binary.LittleEndian.Uint32(ins)
	imm26 := uint32(byteDelta/4) & 0x3FFFFFF
	word = (word &^ 0x3FFFFFF) | imm26
	binary.LittleEndian.PutUint32(ins, word)
}
