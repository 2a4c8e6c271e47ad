// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import (
	"bytes"
	"sort"

	"github.com/saferwall/peemit/internal/bitutil"
	"github.com/saferwall/peemit/log"
)

// builderState tracks the builder's one-way lifecycle: configure,
// lay out, seal, patch.
type builderState int

const (
	stateConfiguring builderState = iota
	stateLaidOut
	stateSealed
	stateDone
)

// BuilderOptions configures a SectionBuilder: a plain struct of
// exported fields with defaults stated in doc comments, passed once
// at construction and never mutated afterward.
type BuilderOptions struct {
	// ImageBase is the preferred load address used when patching
	// HIGHLOW/DIR64 relocations. Defaults to 0x140000000 (the
	// conventional 64-bit R2R image base) when zero.
	ImageBase uint64

	// StampBuildIdentity marks the export directory's timestamp field
	// with a build-identity placeholder instead of the deterministic
	// zero-fill every reproducible build wants. Off by default: the
	// zero value keeps timestamp/version fields zeroed.
	StampBuildIdentity bool

	// LegacyUTF16DirectoryNames additionally emits a UTF-16LE shadow
	// copy of the DLL name string in .edata, for loaders that
	// historically mis-read the DLL name as a wide string. Off by
	// default.
	LegacyUTF16DirectoryNames bool

	// EmitCOFFSymbols makes Seal build a COFF symbol table (and string
	// table) from every defined symbol and return it in SealResult.COFF;
	// it is not appended as a section. Off by default —
	// object-level COFF symbols are not part of the R2R contract.
	EmitCOFFSymbols bool

	// SymbolNames is consulted only when EmitCOFFSymbols is set, to
	// give each symbol handle a printable name in the emitted table.
	SymbolNames map[SymbolHandle]string

	// Logger receives diagnostic messages. A nil Logger is a no-op.
	Logger log.Logger
}

func (o *BuilderOptions) imageBase() uint64 {
	if o == nil || o.ImageBase == 0 {
		return 0x140000000
	}
	return o.ImageBase
}

// ExportSymbol is one (name, ordinal, target) export registration.
// The RVA its name string lands at is reported back as
// ExportRecord.NameRVA once .edata has been serialized.
type ExportSymbol struct {
	Name    string
	Ordinal uint16
	Target  SymbolHandle
}

// r2rHeaderConfig backs SetReadyToRunHeader.
type r2rHeaderConfig struct {
	symbol SymbolHandle
	size   uint32
}

// SectionBuilder owns every Section, the SymbolTable, the export
// list, and directory state for one PE image under construction.
type SectionBuilder struct {
	opts  *BuilderOptions
	log   *log.Helper
	state builderState

	sections []*Section
	symbols  *SymbolTable

	exports    []ExportSymbol
	entryPoint *SymbolHandle
	r2rHeader  *r2rHeaderConfig
	dllName    string

	relocPlaced bool // true once a section named ".reloc" has been placed by the Layouter

	// Byte ranges recorded while Seal appends .reloc/.edata, copied
	// into the PE data directory table by UpdateDirectories.
	relocDir  ImageDataDirectory
	exportDir ImageDataDirectory
}

// NewSectionBuilder constructs an empty builder in the CONFIGURING
// state.
func NewSectionBuilder(opts *BuilderOptions) *SectionBuilder {
	if opts == nil {
		opts = &BuilderOptions{}
	}
	return &SectionBuilder{
		opts:    opts,
		log:     log.NewHelper(opts.Logger),
		state:   stateConfiguring,
		symbols: NewSymbolTable(),
	}
}

func (b *SectionBuilder) requireConfiguring() error {
	if b.state != stateConfiguring {
		return ErrAlreadyLaidOut
	}
	return nil
}

// AddSection appends a new logical section and returns its handle.
// Names are not required to be unique: duplicates fold into one
// physical output section at layout time.
func (b *SectionBuilder) AddSection(name string, characteristics, alignment uint32) (SectionIndex, error) {
	if err := b.requireConfiguring(); err != nil {
		return 0, err
	}
	if !bitutil.IsPowerOfTwo(alignment) {
		return 0, ErrInvalidAlignment
	}
	b.sections = append(b.sections, &Section{
		name:               name,
		characteristics:    characteristics,
		combiningAlignment: alignment,
	})
	idx := SectionIndex(len(b.sections) - 1)
	b.log.Debugf("added section %q (characteristics=%#x align=%d) -> index %d", name, characteristics, alignment, idx)
	return idx, nil
}

// FindSection returns the first logical section matching name, or
// (nil, false) if none has been added yet.
func (b *SectionBuilder) FindSection(name string) (*Section, bool) {
	for _, s := range b.sections {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

func (b *SectionBuilder) section(idx SectionIndex) *Section {
	return b.sections[idx]
}

// AddObjectData appends data to the section at idx: pad up to the
// block's alignment, append its bytes, register every symbol it
// defines, and record its relocations against the section.
func (b *SectionBuilder) AddObjectData(data ObjectData, idx SectionIndex) error {
	if err := b.requireConfiguring(); err != nil {
		return err
	}
	alignment := data.Alignment
	if alignment == 0 {
		alignment = 1
	}
	if !bitutil.IsPowerOfTwo(alignment) {
		return ErrInvalidAlignment
	}
	sec := b.section(idx)
	if sec.Name() == ".reloc" && b.relocPlaced {
		return ErrRelocAfterReloc
	}

	currentSize := uint32(len(sec.bytes))
	alignedOffset := bitutil.AlignUp(currentSize, alignment)
	padding := alignedOffset - currentSize
	sec.bytes = append(sec.bytes, make([]byte, padding)...)
	sec.bytes = append(sec.bytes, data.Bytes...)

	for _, def := range data.Defines {
		target := SymbolTarget{Section: idx, Offset: alignedOffset + def.Offset}
		if err := b.symbols.Define(def.Symbol, target); err != nil {
			return err
		}
	}

	if len(data.Relocations) > 0 {
		for _, r := range data.Relocations {
			if r.Offset >= uint32(len(data.Bytes)) {
				return ErrSiteOutsideBlock
			}
		}
		sec.pending = append(sec.pending, pendingReloc{
			offset:    alignedOffset,
			relocList: data.Relocations,
		})
	}

	if uint64(len(sec.bytes)) > 0xFFFFFFFF {
		return ErrSectionTooLarge
	}

	return nil
}

// AddExportSymbol appends to the export list. Name and ordinal
// uniqueness is the caller's responsibility.
func (b *SectionBuilder) AddExportSymbol(name string, ordinal uint16, symbol SymbolHandle) error {
	if err := b.requireConfiguring(); err != nil {
		return err
	}
	b.exports = append(b.exports, ExportSymbol{Name: name, Ordinal: ordinal, Target: symbol})
	return nil
}

// SetEntryPoint is a single-shot configuration setter; later calls
// overwrite.
func (b *SectionBuilder) SetEntryPoint(symbol SymbolHandle) error {
	if err := b.requireConfiguring(); err != nil {
		return err
	}
	b.entryPoint = &symbol
	return nil
}

// SetReadyToRunHeader is a single-shot configuration setter; later
// calls overwrite.
func (b *SectionBuilder) SetReadyToRunHeader(symbol SymbolHandle, size uint32) error {
	if err := b.requireConfiguring(); err != nil {
		return err
	}
	b.r2rHeader = &r2rHeaderConfig{symbol: symbol, size: size}
	return nil
}

// SetDLLName is a single-shot configuration setter; later calls
// overwrite.
func (b *SectionBuilder) SetDLLName(name string) error {
	if err := b.requireConfiguring(); err != nil {
		return err
	}
	b.dllName = name
	return nil
}

// SectionDescriptor is one entry of GetSections' result: a
// deduplicated (name, characteristics) pair in first-appearance
// order, plus a synthetic ".edata" entry when exports exist but the
// caller never added one.
type SectionDescriptor struct {
	Name            string
	Characteristics uint32
	Synthetic       bool
}

// GetSections yields the deduplicated section descriptors the PE
// envelope writer needs to build its section table, in first
// appearance order.
func (b *SectionBuilder) GetSections() []SectionDescriptor {
	seen := make(map[string]bool)
	var out []SectionDescriptor
	for _, s := range b.sections {
		if seen[s.Name()] {
			continue
		}
		seen[s.Name()] = true
		out = append(out, SectionDescriptor{Name: s.Name(), Characteristics: s.characteristics})
	}
	if len(b.exports) > 0 && !seen[".edata"] {
		out = append(out, SectionDescriptor{
			Name:            ".edata",
			Characteristics: ImageScnCntInitializedData | ImageScnMemRead,
			Synthetic:       true,
		})
	}
	return out
}

// SectionLocation is the running (RVA, file position) cursor the
// layout algorithm threads through section serialization.
type SectionLocation struct {
	RVA     uint32
	FilePos uint32
}

// SerializeSection folds every logical section named name into one
// physical byte run starting at loc: each chunk is padded up to its
// combining alignment (the padding advances RVA and file position in
// lockstep), assigned its placement, and appended, in insertion
// order. It returns the physical bytes and the location immediately
// after them. Placing any section after .reloc has already been
// placed would silently invalidate the emitted fixups, so it fails
// with ErrRelocAfterReloc instead.
func (b *SectionBuilder) SerializeSection(name string, loc SectionLocation) ([]byte, SectionLocation, error) {
	if name == ".reloc" {
		b.relocPlaced = true
	} else if b.relocPlaced {
		return nil, loc, ErrRelocAfterReloc
	}

	var out bytes.Buffer
	for _, sec := range sectionsNamed(b.sections, name) {
		pad := bitutil.PaddingFor(loc.RVA, sec.combiningAlignment)
		out.Write(make([]byte, pad))
		loc.RVA += pad
		loc.FilePos += pad

		sec.placed = true
		sec.rvaWhenPlaced = loc.RVA
		sec.filePosWhenPlaced = loc.FilePos

		out.Write(sec.bytes)
		loc.RVA += sec.Size()
		loc.FilePos += sec.Size()
	}
	return out.Bytes(), loc, nil
}

// SectionsByRVA returns every placed section sorted by ascending
// rvaWhenPlaced, the order the .reloc encoder and the patcher both
// walk. Unplaced sections (layout has not run) are omitted.
func (b *SectionBuilder) SectionsByRVA() []*Section {
	var out []*Section
	for _, s := range b.sections {
		if s.Placed() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rvaWhenPlaced < out[j].rvaWhenPlaced })
	return out
}

// Symbols exposes the builder's SymbolTable for the Patcher and
// encoders.
func (b *SectionBuilder) Symbols() *SymbolTable { return b.symbols }

// Exports exposes the builder's recorded export list.
func (b *SectionBuilder) Exports() []ExportSymbol { return b.exports }

// EntryPoint returns the symbol set by SetEntryPoint, if any.
func (b *SectionBuilder) EntryPoint() (SymbolHandle, bool) {
	if b.entryPoint == nil {
		return 0, false
	}
	return *b.entryPoint, true
}

// ReadyToRunHeader returns the symbol and size set by
// SetReadyToRunHeader, if any.
func (b *SectionBuilder) ReadyToRunHeader() (sym SymbolHandle, size uint32, ok bool) {
	if b.r2rHeader == nil {
		return 0, 0, false
	}
	return b.r2rHeader.symbol, b.r2rHeader.size, true
}

// DLLName returns the name set by SetDLLName.
func (b *SectionBuilder) DLLName() string { return b.dllName }

// Options returns the builder's configuration.
func (b *SectionBuilder) Options() *BuilderOptions { return b.opts }
