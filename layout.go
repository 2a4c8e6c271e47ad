// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import "github.com/saferwall/peemit/internal/bitutil"

// Layouter assigns each section its final RVA and file offset, in
// the order sections first appear.
type Layouter struct {
	fileAlignment    uint32
	sectionAlignment uint32

	cursorRVA     uint32
	cursorFilePos uint32
}

// NewLayouter returns a Layouter using the given PE file/section
// alignments, supplied by the caller's PE-envelope writer — the core
// does not choose these.
func NewLayouter(fileAlignment, sectionAlignment uint32) *Layouter {
	return &Layouter{fileAlignment: fileAlignment, sectionAlignment: sectionAlignment}
}

// Layout runs the layout algorithm once over every section the
// builder has accumulated, in first-appearance-by-name order, folding
// same-named sections into one contiguous physical run. startRVA and
// startFilePos are the position immediately after the PE headers
// (already aligned by the caller's envelope writer).
//
// Layout transitions the builder from CONFIGURING to LAID_OUT. Any
// configuration call made afterward fails with ErrAlreadyLaidOut.
func (l *Layouter) Layout(b *SectionBuilder, startRVA, startFilePos uint32) error {
	if err := b.requireConfiguring(); err != nil {
		return err
	}

	order := firstAppearanceNames(b.sections)

	rva := startRVA
	filePos := startFilePos
	for _, name := range order {
		// Each distinct name opens a new physical section, rounded up
		// to the PE section and file alignments.
		loc := SectionLocation{
			RVA:     bitutil.AlignUp(rva, l.sectionAlignment),
			FilePos: bitutil.AlignUp(filePos, l.fileAlignment),
		}
		_, end, err := b.SerializeSection(name, loc)
		if err != nil {
			return err
		}
		rva = end.RVA
		filePos = end.FilePos
	}

	l.cursorRVA = rva
	l.cursorFilePos = filePos
	b.state = stateLaidOut
	return nil
}

// PeekNextRVA reports the RVA the next appended section would land at
// if aligned to combiningAlignment, without committing it. The
// ExportSectionEncoder needs .edata's own RVA to resolve
// self-referencing fields before the section exists, so Seal peeks,
// builds .edata against that RVA, then calls AppendSealedSection with
// the identical alignment.
func (l *Layouter) PeekNextRVA(combiningAlignment uint32) uint32 {
	return bitutil.AlignUp(bitutil.AlignUp(l.cursorRVA, l.sectionAlignment), combiningAlignment)
}

// AppendSealedSection places a fully-serialized section (.reloc or
// .edata) immediately after everything Layout has already placed. It
// is the one exception to "no configuration after layout": the
// sealing stage exists precisely to serialize .reloc/.edata after
// every other placement is final, so it bypasses requireConfiguring
// rather than relaxing it.
func (l *Layouter) AppendSealedSection(b *SectionBuilder, name string, characteristics, alignment uint32, data []byte) *Section {
	rva := bitutil.AlignUp(bitutil.AlignUp(l.cursorRVA, l.sectionAlignment), alignment)
	filePos := bitutil.AlignUp(l.cursorFilePos, l.fileAlignment)

	sec := &Section{
		name:               name,
		characteristics:    characteristics,
		combiningAlignment: alignment,
		bytes:              data,
		placed:             true,
		rvaWhenPlaced:      rva,
		filePosWhenPlaced:  filePos,
	}
	b.sections = append(b.sections, sec)
	if name == ".reloc" {
		b.relocPlaced = true
	}

	l.cursorRVA = rva + uint32(len(data))
	l.cursorFilePos = filePos + uint32(len(data))
	return sec
}

// AssertRelocIsLast checks that ".reloc" is the last placed section
// among those carrying relocations — the encoder's output is wrong
// for anything placed after it. Seal calls it right after .reloc is
// appended and before .edata is serialized.
func (l *Layouter) AssertRelocIsLast(b *SectionBuilder) error {
	relocSec, ok := b.FindSection(".reloc")
	if !ok {
		return nil
	}
	for _, sec := range b.sections {
		if sec.Name() == ".reloc" {
			continue
		}
		if len(sec.pending) > 0 && sec.rvaWhenPlaced > relocSec.rvaWhenPlaced {
			return ErrRelocLastSectionAssertionFailed
		}
	}
	return nil
}

func firstAppearanceNames(sections []*Section) []string {
	seen := make(map[string]bool)
	var order []string
	for _, s := range sections {
		if !seen[s.Name()] {
			seen[s.Name()] = true
			order = append(order, s.Name())
		}
	}
	return order
}

func sectionsNamed(sections []*Section, name string) []*Section {
	var out []*Section
	for _, s := range sections {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}
