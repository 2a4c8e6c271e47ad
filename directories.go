// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

// DirectoryEntry indexes a PE optional header data directory. Only
// the handful of IMAGE_DIRECTORY_ENTRY_* values this emitter fills
// are named.
type DirectoryEntry int

const (
	DirectoryEntryExport    DirectoryEntry = 0
	DirectoryEntryBaseReloc DirectoryEntry = 5
	DirectoryEntryCLR       DirectoryEntry = 14
)

// NumberOfDirectoryEntries is IMAGE_NUMBEROF_DIRECTORY_ENTRIES.
const NumberOfDirectoryEntries = 16

// Directories is the fixed-size data directory array a PE32+ optional
// header carries; SealResult.Directories is ready to copy verbatim
// into the envelope writer's optional header.
type Directories [NumberOfDirectoryEntries]ImageDataDirectory

// SealResult bundles everything Seal produced: the .reloc/.edata
// sections (already appended to the builder and placed), the data
// directory entries that point at them, the CLR header, and,
// optionally, a COFF symbol table.
type SealResult struct {
	Directories Directories
	CorHeader   CorHeader
	COFF        *COFF
}

// Seal performs the LAID_OUT to SEALED transition: it serializes .reloc
// (if there is at least one base relocation) and .edata (if any exports
// were registered), appends them as the final sections via
// Layouter.AppendSealedSection, wires their RVAs into the data
// directory, fills in the CLR header's entry point / managed-native-
// header fields, and optionally emits a COFF symbol table. After Seal
// returns successfully the builder is in the SEALED state and no
// further section or export calls are valid.
func Seal(b *SectionBuilder, l *Layouter, majorRuntime, minorRuntime uint16) (SealResult, error) {
	if b.state != stateLaidOut {
		return SealResult{}, ErrNotLaidOut
	}

	var dirs Directories

	relocBytes, err := EncodeBaseRelocations(b)
	if err != nil {
		return SealResult{}, err
	}
	if len(relocBytes) > 0 {
		sec := l.AppendSealedSection(b, ".reloc", ImageScnCntInitializedData|ImageScnMemDiscardable|ImageScnMemRead, 4, relocBytes)
		b.relocDir = ImageDataDirectory{VirtualAddress: sec.rvaWhenPlaced, Size: uint32(len(relocBytes))}
	}

	if err := l.AssertRelocIsLast(b); err != nil {
		return SealResult{}, err
	}

	if len(b.Exports()) > 0 {
		edataAlignment := uint32(4)
		edataRVA := l.PeekNextRVA(edataAlignment)
		edataBytes, _, _, err := EncodeExportSection(b, edataRVA)
		if err != nil {
			return SealResult{}, err
		}
		sec := l.AppendSealedSection(b, ".edata", ImageScnCntInitializedData|ImageScnMemRead, edataAlignment, edataBytes)
		b.exportDir = ImageDataDirectory{VirtualAddress: sec.rvaWhenPlaced, Size: uint32(len(edataBytes))}
	}

	if err := b.UpdateDirectories(&dirs); err != nil {
		return SealResult{}, err
	}
	cor := NewR2RCorHeader(b, majorRuntime, minorRuntime)
	if err := b.UpdateCorHeader(&cor); err != nil {
		return SealResult{}, err
	}

	result := SealResult{Directories: dirs, CorHeader: cor}

	if b.Options().EmitCOFFSymbols {
		coff := SerializeCOFFSymbols(b.Options().SymbolNames, b.Symbols())
		result.COFF = &coff
	}

	b.state = stateSealed
	b.log.Debugf("sealed: .reloc=%d bytes .edata dir rva=%#x cor.entrypoint=%#x",
		dirs[DirectoryEntryBaseReloc].Size, dirs[DirectoryEntryExport].VirtualAddress, cor.EntryPointRVAorToken)

	return result, nil
}

// resolveSymbolRVA dereferences sym through the symbol table to its
// final RVA. Valid only once the owning section has been placed.
func (b *SectionBuilder) resolveSymbolRVA(sym SymbolHandle) (uint32, error) {
	target, err := b.symbols.Resolve(sym)
	if err != nil {
		return 0, err
	}
	sec := b.section(target.Section)
	if !sec.Placed() {
		return 0, ErrSectionNotPlaced
	}
	return sec.rvaWhenPlaced + target.Offset, nil
}

// UpdateDirectories copies the byte ranges .reloc and .edata landed
// at into the PE data directory table. Entries for sections that
// were never emitted stay zero.
func (b *SectionBuilder) UpdateDirectories(dirs *Directories) error {
	if b.state == stateConfiguring {
		return ErrNotLaidOut
	}
	dirs[DirectoryEntryBaseReloc] = b.relocDir
	dirs[DirectoryEntryExport] = b.exportDir
	return nil
}

// UpdateCorHeader threads the entry-point RVA (if one was configured)
// and the managed-native-header directory into cor. Both symbols must
// resolve through the symbol table to an already-placed section.
func (b *SectionBuilder) UpdateCorHeader(cor *CorHeader) error {
	if b.state == stateConfiguring {
		return ErrNotLaidOut
	}
	if sym, size, ok := b.ReadyToRunHeader(); ok {
		rva, err := b.resolveSymbolRVA(sym)
		if err != nil {
			return err
		}
		cor.ManagedNativeHeader = ImageDataDirectory{VirtualAddress: rva, Size: size}
	}
	if sym, ok := b.EntryPoint(); ok {
		rva, err := b.resolveSymbolRVA(sym)
		if err != nil {
			return err
		}
		cor.EntryPointRVAorToken = rva
	}
	return nil
}
