// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import "encoding/binary"

// Storage Class and Type Representation constants — they describe
// the same on-disk structure whether reading or writing it.
const (
	ImageSymTypeNull = 0
	ImageSymTypeFunc = 0x20

	ImageSymClassNull     = 0
	ImageSymClassExternal = 2
	ImageSymClassStatic   = 3
)

// COFFSymbol is one 18-byte entry in a COFF symbol table, the same
// field-by-field layout the saferwall/pe parser reads.
type COFFSymbol struct {
	Name               [8]byte
	Value              uint32
	SectionNumber      int16
	Type               uint16
	StorageClass       uint8
	NumberOfAuxSymbols uint8
}

// COFF holds a symbol table plus its companion string table, emitted
// together by SerializeCOFFSymbols. Object-level COFF symbols are
// not part of the R2R image contract, so this is off by default and
// only exercised when a toolchain wants linkable debug metadata
// alongside the R2R output.
type COFF struct {
	SymbolTable []COFFSymbol
	StringTable []byte
}

// SerializeCOFFSymbols builds a COFF symbol table (and its string
// table) from every symbol the builder's SymbolTable has defined, in
// definition order. Long names (over 8 bytes) get a short name
// holding an offset into the returned string table, as the COFF
// format requires.
func SerializeCOFFSymbols(names map[SymbolHandle]string, table *SymbolTable) COFF {
	var out COFF
	// The string table begins with its own 4-byte length prefix.
	strtab := make([]byte, 4)

	for _, sym := range table.order {
		target := table.targets[sym]
		name := names[sym]

		var rec COFFSymbol
		if len(name) <= 8 {
			copy(rec.Name[:], name)
		} else {
			offset := uint32(len(strtab))
			strtab = append(strtab, []byte(name)...)
			strtab = append(strtab, 0)
			binary.LittleEndian.PutUint32(rec.Name[4:8], offset)
		}
		rec.Value = target.Offset
		rec.SectionNumber = int16(target.Section) + 1
		rec.Type = ImageSymTypeFunc
		rec.StorageClass = ImageSymClassExternal

		out.SymbolTable = append(out.SymbolTable, rec)
	}

	binary.LittleEndian.PutUint32(strtab[0:4], uint32(len(strtab)))
	out.StringTable = strtab
	return out
}
