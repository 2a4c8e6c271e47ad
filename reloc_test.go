// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import "testing"

func TestEncodeBaseRelocationsEmpty(t *testing.T) {
	b := NewSectionBuilder(nil)
	if _, err := b.AddSection(".text", ImageScnCntCode, 16); err != nil {
		t.Fatalf("AddSection: %v", err)
	}
	l := NewLayouter(0x200, 0x1000)
	if err := l.Layout(b, 0x1000, 0x400); err != nil {
		t.Fatalf("Layout: %v", err)
	}
	blob, err := EncodeBaseRelocations(b)
	if err != nil {
		t.Fatalf("EncodeBaseRelocations: %v", err)
	}
	if blob != nil {
		t.Errorf("EncodeBaseRelocations() = %v, want nil for no relocations", blob)
	}
}

func TestEncodeBaseRelocationsBlockSplitting(t *testing.T) {
	// Twenty HIGHLOW relocations: nineteen sites inside the 4 KiB page
	// starting at 0x1000, plus one site at 0x2000 that falls outside
	// that page and must start a fresh block.
	b := NewSectionBuilder(nil)
	textIdx, err := b.AddSection(".text", ImageScnCntCode, 16)
	if err != nil {
		t.Fatalf("AddSection(.text): %v", err)
	}
	target, err := b.AddSection(".rdata", ImageScnCntInitializedData, 16)
	if err != nil {
		t.Fatalf("AddSection(.rdata): %v", err)
	}

	const siteCount = 20
	bytes := make([]byte, 0x2000+4)
	relocs := make([]Relocation, 0, siteCount)
	for i := 0; i < siteCount-1; i++ {
		relocs = append(relocs, Relocation{Offset: uint32(0x1000 + i*4), Kind: RelocHighLow, Target: 100})
	}
	relocs = append(relocs, Relocation{Offset: 0x2000, Kind: RelocHighLow, Target: 100})

	if err := b.AddObjectData(ObjectData{Bytes: bytes, Alignment: 1, Relocations: relocs}, textIdx); err != nil {
		t.Fatalf("AddObjectData: %v", err)
	}
	if err := b.AddObjectData(ObjectData{Bytes: []byte{1, 2, 3, 4}, Alignment: 1, Defines: []DefinedSymbol{{Symbol: 100, Offset: 0}}}, target); err != nil {
		t.Fatalf("AddObjectData(target): %v", err)
	}

	l := NewLayouter(0x200, 0x1000)
	if err := l.Layout(b, 0, 0); err != nil {
		t.Fatalf("Layout: %v", err)
	}

	blob, err := EncodeBaseRelocations(b)
	if err != nil {
		t.Fatalf("EncodeBaseRelocations: %v", err)
	}

	entries, err := ParseBaseRelocations(blob)
	if err != nil {
		t.Fatalf("ParseBaseRelocations: %v", err)
	}
	if len(entries) != siteCount {
		t.Fatalf("got %d entries, want %d", len(entries), siteCount)
	}

	// First block's base must be page-aligned to 0x1000, second block's
	// to 0x2000 — verified indirectly: every parsed RVA must round-trip
	// to the original site offset within .text (RVA 0 for this section).
	seen := make(map[uint32]bool)
	for _, e := range entries {
		seen[e.RVA] = true
		if e.Type != ImageRelBasedHighLow {
			t.Errorf("entry at %#x has type %v, want HighLow", e.RVA, e.Type)
		}
	}
	for _, r := range relocs {
		if !seen[r.Offset] {
			t.Errorf("missing parsed entry for site %#x", r.Offset)
		}
	}
}

func TestEncodeBaseRelocationsRel32Elided(t *testing.T) {
	b := NewSectionBuilder(nil)
	textIdx, err := b.AddSection(".text", ImageScnCntCode, 16)
	if err != nil {
		t.Fatalf("AddSection: %v", err)
	}
	if err := b.AddObjectData(ObjectData{
		Bytes:       make([]byte, 16),
		Alignment:   1,
		Relocations: []Relocation{{Offset: 4, Kind: RelocRel32, Target: 1}},
		Defines:     []DefinedSymbol{{Symbol: 1, Offset: 0}},
	}, textIdx); err != nil {
		t.Fatalf("AddObjectData: %v", err)
	}

	l := NewLayouter(0x200, 0x1000)
	if err := l.Layout(b, 0x1000, 0x400); err != nil {
		t.Fatalf("Layout: %v", err)
	}

	blob, err := EncodeBaseRelocations(b)
	if err != nil {
		t.Fatalf("EncodeBaseRelocations: %v", err)
	}
	if blob != nil {
		t.Errorf("EncodeBaseRelocations() = %v, want nil — REL32 is self-relative and must not produce a .reloc entry", blob)
	}
}

func TestParseBaseRelocationsRejectsUnalignedVA(t *testing.T) {
	// base_rva = 0x1004 is not page-aligned.
	blob := []byte{0x04, 0x10, 0x00, 0x00, 0x0A, 0x00, 0x00, 0x00, 0x00, 0x30}
	if _, err := ParseBaseRelocations(blob); err != ErrInvalidBaseRelocVA {
		t.Errorf("ParseBaseRelocations() error = %v, want ErrInvalidBaseRelocVA", err)
	}
}

func TestParseBaseRelocationsRejectsTruncatedBlock(t *testing.T) {
	blob := []byte{0x00, 0x10, 0x00, 0x00, 0xFF, 0x00, 0x00, 0x00}
	if _, err := ParseBaseRelocations(blob); err != ErrInvalidBaseRelocBlockSize {
		t.Errorf("ParseBaseRelocations() error = %v, want ErrInvalidBaseRelocBlockSize", err)
	}
}
