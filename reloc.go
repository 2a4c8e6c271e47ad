// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import (
	"bytes"
	"encoding/binary"
)

// ImageBaseRelocationEntryType is the file relocation type recorded
// in each .reloc entry's top 4 bits — the same IMAGE_REL_BASED_*
// vocabulary the saferwall/pe parser reads back out of an existing
// image.
type ImageBaseRelocationEntryType uint8

const (
	ImageRelBasedAbsolute   ImageBaseRelocationEntryType = 0
	ImageRelBasedHigh       ImageBaseRelocationEntryType = 1
	ImageRelBasedLow        ImageBaseRelocationEntryType = 2
	ImageRelBasedHighLow    ImageBaseRelocationEntryType = 3
	ImageRelBasedHighAdj    ImageBaseRelocationEntryType = 4
	ImageRelBasedThumbMov32 ImageBaseRelocationEntryType = 7
	ImageRelBasedDir64      ImageBaseRelocationEntryType = 10
)

// relocPageSize is the 4 KiB page granularity every .reloc block's
// base RVA is aligned down to.
const relocPageSize = 0x1000

// relocFileKind maps a semantic RelocKind to the PE file relocation
// type that drives whether a .reloc entry is emitted. Self-relative
// and instruction-encoded kinds map to ABSOLUTE and never enter the
// table.
func relocFileKind(kind RelocKind) ImageBaseRelocationEntryType {
	switch kind {
	case RelocHighLow:
		return ImageRelBasedHighLow
	case RelocDir64:
		return ImageRelBasedDir64
	case RelocThumbMov32:
		return ImageRelBasedThumbMov32
	default:
		return ImageRelBasedAbsolute
	}
}

// siteRVA is the absolute RVA a relocation's encoded bytes live at.
type siteRVA struct {
	rva  uint32
	kind ImageBaseRelocationEntryType
}

// EncodeBaseRelocations walks every placed section in ascending RVA
// order and, within each, every relocation in insertion order,
// producing the .reloc byte stream. Relocs whose file kind is
// ABSOLUTE are omitted entirely.
func EncodeBaseRelocations(b *SectionBuilder) ([]byte, error) {
	var sites []siteRVA
	for _, sec := range b.SectionsByRVA() {
		for _, p := range sec.pending {
			for _, r := range p.relocList {
				fileKind := relocFileKind(r.Kind)
				if fileKind == ImageRelBasedAbsolute {
					continue
				}
				sites = append(sites, siteRVA{
					rva:  sec.rvaWhenPlaced + p.offset + r.Offset,
					kind: fileKind,
				})
			}
		}
	}

	if len(sites) == 0 {
		return nil, nil
	}

	var out bytes.Buffer
	var blockBase uint32
	var entries []uint16
	started := false

	flush := func() error {
		if !started {
			return nil
		}
		blockSize := uint64(8 + 2*len(entries))
		if blockSize > 0xFFFFFFFF {
			return ErrRelocBlockTooLarge
		}
		if err := binary.Write(&out, binary.LittleEndian, blockBase); err != nil {
			return err
		}
		if err := binary.Write(&out, binary.LittleEndian, uint32(blockSize)); err != nil {
			return err
		}
		for _, e := range entries {
			if err := binary.Write(&out, binary.LittleEndian, e); err != nil {
				return err
			}
		}
		entries = entries[:0]
		return nil
	}

	for _, site := range sites {
		base := site.rva &^ (relocPageSize - 1)
		if !started || site.rva > blockBase+0xFFF {
			if err := flush(); err != nil {
				return nil, err
			}
			blockBase = base
			started = true
		}
		offset12 := site.rva - blockBase
		entries = append(entries, uint16(fileRelocEntry(site.kind, offset12)))
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

func fileRelocEntry(kind ImageBaseRelocationEntryType, offset12 uint32) uint16 {
	return uint16(kind)<<12 | uint16(offset12&0x0FFF)
}

// RelocEntry is one (rva, type) pair recovered by
// ParseBaseRelocations.
type RelocEntry struct {
	RVA  uint32
	Type ImageBaseRelocationEntryType
}

// ParseBaseRelocations parses a .reloc byte stream back into
// (rva, type) pairs, reading directly from an in-memory blob the way
// the saferwall/pe parser reads the same structure from a mapped
// file. It is the round-trip verifier for EncodeBaseRelocations.
func ParseBaseRelocations(blob []byte) ([]RelocEntry, error) {
	var out []RelocEntry
	pos := 0
	for pos < len(blob) {
		if pos+8 > len(blob) {
			return nil, ErrInvalidBaseRelocBlockSize
		}
		baseRVA := binary.LittleEndian.Uint32(blob[pos:])
		blockSize := binary.LittleEndian.Uint32(blob[pos+4:])

		if baseRVA%relocPageSize != 0 {
			return nil, ErrInvalidBaseRelocVA
		}
		if blockSize < 8 || pos+int(blockSize) > len(blob) {
			return nil, ErrInvalidBaseRelocBlockSize
		}

		entryBytes := blob[pos+8 : pos+int(blockSize)]
		for i := 0; i+2 <= len(entryBytes); i += 2 {
			raw := binary.LittleEndian.Uint16(entryBytes[i:])
			typ := ImageBaseRelocationEntryType(raw >> 12)
			offset12 := uint32(raw & 0x0FFF)
			out = append(out, RelocEntry{RVA: baseRVA + offset12, Type: typ})
		}

		pos += int(blockSize)
	}
	return out, nil
}
