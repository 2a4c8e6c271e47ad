// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import "testing"

func buildExportFixture(t *testing.T) (*SectionBuilder, *Layouter) {
	t.Helper()
	b := NewSectionBuilder(nil)
	textIdx, err := b.AddSection(".text", ImageScnCntCode|ImageScnMemExecute|ImageScnMemRead, 16)
	if err != nil {
		t.Fatalf("AddSection: %v", err)
	}
	if err := b.SetDLLName("sample.dll"); err != nil {
		t.Fatalf("SetDLLName: %v", err)
	}

	type fn struct {
		name    string
		ordinal uint16
		offset  uint32
	}
	fns := []fn{
		{"Zeta", 3, 0x00},
		{"alpha", 1, 0x10},
		{"Beta", 2, 0x20},
	}
	for i, f := range fns {
		sym := SymbolHandle(i + 1)
		if err := b.AddObjectData(ObjectData{
			Bytes:   make([]byte, 16),
			Defines: []DefinedSymbol{{Symbol: sym, Offset: 0}},
		}, textIdx); err != nil {
			t.Fatalf("AddObjectData(%s): %v", f.name, err)
		}
		if err := b.AddExportSymbol(f.name, f.ordinal, sym); err != nil {
			t.Fatalf("AddExportSymbol(%s): %v", f.name, err)
		}
	}

	l := NewLayouter(0x200, 0x1000)
	if err := l.Layout(b, 0x1000, 0x400); err != nil {
		t.Fatalf("Layout: %v", err)
	}
	return b, l
}

func TestEncodeExportSectionOrdering(t *testing.T) {
	b, l := buildExportFixture(t)
	edataRVA := l.PeekNextRVA(4)

	blob, dir, records, err := EncodeExportSection(b, edataRVA)
	if err != nil {
		t.Fatalf("EncodeExportSection: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("EncodeExportSection returned an empty blob")
	}

	// Name pointer / ordinal tables must be in byte-wise ASCII order:
	// "Beta" < "Zeta" < "alpha" (uppercase sorts before lowercase).
	wantOrder := []string{"Beta", "Zeta", "alpha"}
	if len(records) != len(wantOrder) {
		t.Fatalf("got %d records, want %d", len(records), len(wantOrder))
	}
	for i, name := range wantOrder {
		if records[i].Name != name {
			t.Errorf("records[%d].Name = %q, want %q", i, records[i].Name, name)
		}
	}

	if dir.Base != 1 {
		t.Errorf("dir.Base = %d, want 1 (min ordinal)", dir.Base)
	}
	if dir.NumberOfFunctions != 3 {
		t.Errorf("dir.NumberOfFunctions = %d, want 3 (max-min+1)", dir.NumberOfFunctions)
	}
	if dir.NumberOfNames != 3 {
		t.Errorf("dir.NumberOfNames = %d, want 3", dir.NumberOfNames)
	}
	if dir.Name == 0 {
		t.Errorf("dir.Name (DLL name RVA) must be non-zero")
	}
	if dir.TimeDateStamp != 0 {
		t.Errorf("dir.TimeDateStamp = %#x, want 0 by default (deterministic build)", dir.TimeDateStamp)
	}
}

func TestEncodeExportSectionTooManyExports(t *testing.T) {
	b := NewSectionBuilder(nil)
	textIdx, err := b.AddSection(".text", ImageScnCntCode, 16)
	if err != nil {
		t.Fatalf("AddSection: %v", err)
	}
	if err := b.AddObjectData(ObjectData{Bytes: make([]byte, 4), Defines: []DefinedSymbol{{Symbol: 1, Offset: 0}}}, textIdx); err != nil {
		t.Fatalf("AddObjectData: %v", err)
	}
	if err := b.AddExportSymbol("low", 1, 1); err != nil {
		t.Fatalf("AddExportSymbol(low): %v", err)
	}
	if err := b.AddExportSymbol("high", 5000, 1); err != nil {
		t.Fatalf("AddExportSymbol(high): %v", err)
	}

	l := NewLayouter(0x200, 0x1000)
	if err := l.Layout(b, 0x1000, 0x400); err != nil {
		t.Fatalf("Layout: %v", err)
	}

	if _, _, _, err := EncodeExportSection(b, l.PeekNextRVA(4)); err != ErrTooManyExports {
		t.Errorf("EncodeExportSection() error = %v, want ErrTooManyExports", err)
	}
}

func TestEncodeExportSectionUndefinedSymbol(t *testing.T) {
	b := NewSectionBuilder(nil)
	textIdx, err := b.AddSection(".text", ImageScnCntCode, 16)
	if err != nil {
		t.Fatalf("AddSection: %v", err)
	}
	if err := b.AddObjectData(ObjectData{Bytes: make([]byte, 4)}, textIdx); err != nil {
		t.Fatalf("AddObjectData: %v", err)
	}
	if err := b.AddExportSymbol("ghost", 1, 999); err != nil {
		t.Fatalf("AddExportSymbol: %v", err)
	}

	l := NewLayouter(0x200, 0x1000)
	if err := l.Layout(b, 0x1000, 0x400); err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if _, _, _, err := EncodeExportSection(b, l.PeekNextRVA(4)); err != ErrUndefinedSymbol {
		t.Errorf("EncodeExportSection() error = %v, want ErrUndefinedSymbol", err)
	}
}

func TestExportSectionRoundTrip(t *testing.T) {
	b, l := buildExportFixture(t)
	edataRVA := l.PeekNextRVA(4)

	blob, _, _, err := EncodeExportSection(b, edataRVA)
	if err != nil {
		t.Fatalf("EncodeExportSection: %v", err)
	}

	dir, parsed, dllName, err := ParseExportDirectory(blob, edataRVA)
	if err != nil {
		t.Fatalf("ParseExportDirectory: %v", err)
	}
	if dllName != "sample.dll" {
		t.Errorf("dllName = %q, want %q", dllName, "sample.dll")
	}
	if dir.Base != 1 || dir.NumberOfNames != 3 {
		t.Errorf("dir = %+v, want Base 1 NumberOfNames 3", dir)
	}

	// Every input (name, ordinal) must come back, with its address
	// resolving to the exported symbol's final RVA.
	want := map[string]uint16{"Zeta": 3, "alpha": 1, "Beta": 2}
	if len(parsed) != len(want) {
		t.Fatalf("got %d parsed exports, want %d", len(parsed), len(want))
	}
	for _, p := range parsed {
		ordinal, ok := want[p.Name]
		if !ok {
			t.Errorf("unexpected export %q", p.Name)
			continue
		}
		if p.Ordinal != ordinal {
			t.Errorf("export %q ordinal = %d, want %d", p.Name, p.Ordinal, ordinal)
		}
		if p.Address == 0 {
			t.Errorf("export %q address is zero", p.Name)
		}
	}
}

func TestEncodeExportSectionStampBuildIdentity(t *testing.T) {
	b := NewSectionBuilder(&BuilderOptions{StampBuildIdentity: true})
	textIdx, err := b.AddSection(".text", ImageScnCntCode, 16)
	if err != nil {
		t.Fatalf("AddSection: %v", err)
	}
	if err := b.AddObjectData(ObjectData{
		Bytes:   make([]byte, 4),
		Defines: []DefinedSymbol{{Symbol: 1, Offset: 0}},
	}, textIdx); err != nil {
		t.Fatalf("AddObjectData: %v", err)
	}
	if err := b.AddExportSymbol("Run", 1, 1); err != nil {
		t.Fatalf("AddExportSymbol: %v", err)
	}

	l := NewLayouter(0x200, 0x1000)
	if err := l.Layout(b, 0x1000, 0x400); err != nil {
		t.Fatalf("Layout: %v", err)
	}
	_, dir, _, err := EncodeExportSection(b, l.PeekNextRVA(4))
	if err != nil {
		t.Fatalf("EncodeExportSection: %v", err)
	}
	if dir.TimeDateStamp == 0 {
		t.Errorf("dir.TimeDateStamp = 0, want a build-identity placeholder when StampBuildIdentity is set")
	}
}
