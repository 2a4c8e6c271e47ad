// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import "errors"

// Misuse errors are fatal and indicate the caller violated a contract
// of the builder: duplicate symbols, dangling relocations, calls made
// after layout has been fixed, or malformed alignment requests.
var (
	// ErrDuplicateSymbol is returned when AddObjectData defines a
	// symbol that has already been registered in the symbol table.
	ErrDuplicateSymbol = errors.New("peemit: symbol already defined")

	// ErrUndefinedSymbol is returned when relocation patching
	// encounters a relocation whose target symbol was never defined.
	ErrUndefinedSymbol = errors.New("peemit: relocation targets an undefined symbol")

	// ErrInvalidAlignment is returned when an alignment is not a power
	// of two, or is zero.
	ErrInvalidAlignment = errors.New("peemit: alignment must be a power of two")

	// ErrAlreadyLaidOut is returned when a configuration call
	// (AddSection, AddObjectData, AddExportSymbol, ...) is made
	// after the builder has left the CONFIGURING state.
	ErrAlreadyLaidOut = errors.New("peemit: builder configuration closed after layout")

	// ErrRelocAfterReloc is returned when any section is placed after
	// .reloc has already been placed, or object data is added to .reloc
	// once it has been placed.
	ErrRelocAfterReloc = errors.New("peemit: section placed after .reloc")

	// ErrSiteOutsideBlock is returned when a relocation's encoded site
	// does not lie entirely within the block that defined it.
	ErrSiteOutsideBlock = errors.New("peemit: relocation site escapes its originating block")

	// ErrNotLaidOut is returned when Seal (or anything that depends on
	// final RVAs) is called before Layout has run.
	ErrNotLaidOut = errors.New("peemit: builder has not been laid out yet")
)

// Format overflow errors are fatal and indicate the assembled image
// would not fit the PE32/PE32+ container.
var (
	// ErrSectionTooLarge is returned when a section's accumulated
	// byte buffer exceeds 4 GiB.
	ErrSectionTooLarge = errors.New("peemit: section exceeds 4 GiB")

	// ErrTooManyExports is returned when the export ordinal range
	// spans more than 4096 entries.
	ErrTooManyExports = errors.New("peemit: export address table exceeds 4096 entries")

	// ErrRelocBlockTooLarge is returned when a single .reloc block's
	// size field would overflow a uint32.
	ErrRelocBlockTooLarge = errors.New("peemit: base relocation block size overflows u32")
)

// Invariant / round-trip errors surfaced by readers used for testing
// and by the encoders when asked to validate their own output.
var (
	// ErrInvalidBaseRelocVA is reported when a base relocation block's
	// RVA is not aligned to a 4 KiB page.
	ErrInvalidBaseRelocVA = errors.New("peemit: invalid base relocation block RVA")

	// ErrInvalidBaseRelocBlockSize is reported when a base relocation
	// block declares a size that does not fit in the remaining bytes.
	ErrInvalidBaseRelocBlockSize = errors.New("peemit: invalid base relocation block size")

	// ErrInvalidExportDirectory is reported when a .edata blob's
	// directory or tables do not fit inside the blob.
	ErrInvalidExportDirectory = errors.New("peemit: invalid export directory")

	// ErrCorHeaderTooShort is reported when a blob handed to
	// DeserializeCorHeader is smaller than the fixed 72-byte layout.
	ErrCorHeaderTooShort = errors.New("peemit: COR header blob shorter than 72 bytes")

	// ErrCorHeaderOutOfRange is reported when the COR header file
	// offset handed to the Patcher does not fit inside the output.
	ErrCorHeaderOutOfRange = errors.New("peemit: COR header offset outside the output image")

	// ErrSectionNotPlaced is returned when code asks for the RVA of a
	// section whose layout has not run yet.
	ErrSectionNotPlaced = errors.New("peemit: section has not been placed by the layouter")

	// ErrRelocLastSectionAssertionFailed is returned when .reloc is
	// not the last placed section among those carrying relocations.
	ErrRelocLastSectionAssertionFailed = errors.New("peemit: .reloc is not the last emitted section")
)
