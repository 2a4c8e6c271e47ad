// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peemit

import (
	"bytes"
	"encoding/binary"
	"sort"

	"golang.org/x/text/encoding/unicode"
)

// ImageExportDirectory is the 40-byte IMAGE_EXPORT_DIRECTORY
// structure, field-for-field the on-disk layout including the
// Characteristics/Version fields ahead of the table pointers.
type ImageExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// ExportRecord is one resolved, placed export — an ExportSymbol plus
// the RVA its name string ended up at once .edata was serialized.
type ExportRecord struct {
	ExportSymbol
	NameRVA uint32
}

// EncodeExportSection builds the complete .edata contents: name
// string table, DLL name string, address table, name pointer table,
// ordinal table and export directory. l.PeekNextRVA must be called
// with .edata's combining alignment to learn the section's RVA
// before its bytes can be built, since every table inside .edata is
// addressed by absolute RVA.
func EncodeExportSection(b *SectionBuilder, edataRVA uint32) ([]byte, ImageExportDirectory, []ExportRecord, error) {
	exports := append([]ExportSymbol(nil), b.Exports()...)

	sorted := append([]ExportSymbol(nil), exports...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var minOrdinal, maxOrdinal uint16
	if len(exports) > 0 {
		minOrdinal, maxOrdinal = exports[0].Ordinal, exports[0].Ordinal
		for _, e := range exports[1:] {
			if e.Ordinal < minOrdinal {
				minOrdinal = e.Ordinal
			}
			if e.Ordinal > maxOrdinal {
				maxOrdinal = e.Ordinal
			}
		}
	}
	addressTableLen := int(maxOrdinal) - int(minOrdinal) + 1
	if len(exports) > 0 && addressTableLen > 4096 {
		return nil, ImageExportDirectory{}, nil, ErrTooManyExports
	}
	if len(exports) == 0 {
		addressTableLen = 0
	}

	const dirSize = 40
	addrTableOff := uint32(dirSize)
	namePtrOff := addrTableOff + 4*uint32(addressTableLen)
	ordTableOff := namePtrOff + 4*uint32(len(sorted))
	namesOff := ordTableOff + 2*uint32(len(sorted))

	// Lay out the name strings in sorted order, recording each one's
	// RVA, then the DLL name string right after.
	nameRVAs := make([]uint32, len(sorted))
	var nameBlob bytes.Buffer
	cursor := namesOff
	for i, e := range sorted {
		nameRVAs[i] = edataRVA + cursor
		nameBlob.WriteString(e.Name)
		nameBlob.WriteByte(0)
		cursor += uint32(len(e.Name)) + 1
	}
	dllNameOff := cursor
	dllName := b.DLLName()
	nameBlob.WriteString(dllName)
	nameBlob.WriteByte(0)
	cursor += uint32(len(dllName)) + 1

	addressTable := make([]uint32, addressTableLen)
	for _, e := range exports {
		target, err := b.Symbols().Resolve(e.Target)
		if err != nil {
			return nil, ImageExportDirectory{}, nil, err
		}
		sec := b.section(target.Section)
		if !sec.Placed() {
			return nil, ImageExportDirectory{}, nil, ErrSectionNotPlaced
		}
		addressTable[int(e.Ordinal)-int(minOrdinal)] = sec.rvaWhenPlaced + target.Offset
	}

	namePointerTable := make([]uint32, len(sorted))
	ordinalTable := make([]uint16, len(sorted))
	for i, e := range sorted {
		namePointerTable[i] = nameRVAs[i]
		ordinalTable[i] = e.Ordinal - minOrdinal
	}

	dir := ImageExportDirectory{
		Name:                  edataRVA + dllNameOff,
		Base:                  uint32(minOrdinal),
		NumberOfFunctions:     uint32(addressTableLen),
		NumberOfNames:         uint32(len(sorted)),
		AddressOfFunctions:    edataRVA + addrTableOff,
		AddressOfNames:        edataRVA + namePtrOff,
		AddressOfNameOrdinals: edataRVA + ordTableOff,
	}
	if b.Options().StampBuildIdentity {
		dir.TimeDateStamp = 0xFFFFFFFF // placeholder; real stamping is done by the caller's build driver
	}

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, dir)
	for _, a := range addressTable {
		_ = binary.Write(&out, binary.LittleEndian, a)
	}
	for _, p := range namePointerTable {
		_ = binary.Write(&out, binary.LittleEndian, p)
	}
	for _, o := range ordinalTable {
		_ = binary.Write(&out, binary.LittleEndian, o)
	}
	out.Write(nameBlob.Bytes())

	if b.Options().LegacyUTF16DirectoryNames && dllName != "" {
		enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
		wide, err := enc.String(dllName + "\x00")
		if err == nil {
			out.WriteString(wide)
		}
	}

	records := make([]ExportRecord, len(sorted))
	for i, e := range sorted {
		records[i] = ExportRecord{ExportSymbol: e, NameRVA: nameRVAs[i]}
	}

	return out.Bytes(), dir, records, nil
}

// ParsedExport is one export recovered by ParseExportDirectory:
// the name, the unbiased ordinal, and the exported address.
type ParsedExport struct {
	Name    string
	Ordinal uint16
	Address uint32
}

// ParseExportDirectory reads a serialized .edata blob, laid out at
// edataRVA, back into its directory, export list, and DLL name —
// the round-trip verifier for EncodeExportSection, the way
// ParseBaseRelocations verifies EncodeBaseRelocations.
func ParseExportDirectory(blob []byte, edataRVA uint32) (ImageExportDirectory, []ParsedExport, string, error) {
	const dirSize = 40
	if len(blob) < dirSize {
		return ImageExportDirectory{}, nil, "", ErrInvalidExportDirectory
	}

	var dir ImageExportDirectory
	dir.Characteristics = binary.LittleEndian.Uint32(blob[0:])
	dir.TimeDateStamp = binary.LittleEndian.Uint32(blob[4:])
	dir.MajorVersion = binary.LittleEndian.Uint16(blob[8:])
	dir.MinorVersion = binary.LittleEndian.Uint16(blob[10:])
	dir.Name = binary.LittleEndian.Uint32(blob[12:])
	dir.Base = binary.LittleEndian.Uint32(blob[16:])
	dir.NumberOfFunctions = binary.LittleEndian.Uint32(blob[20:])
	dir.NumberOfNames = binary.LittleEndian.Uint32(blob[24:])
	dir.AddressOfFunctions = binary.LittleEndian.Uint32(blob[28:])
	dir.AddressOfNames = binary.LittleEndian.Uint32(blob[32:])
	dir.AddressOfNameOrdinals = binary.LittleEndian.Uint32(blob[36:])

	// Every table RVA is relative to the image; rebase onto the blob.
	tableOffset := func(rva uint32, entrySize, count uint32) (uint32, error) {
		off := rva - edataRVA
		if rva < edataRVA || uint64(off)+uint64(entrySize)*uint64(count) > uint64(len(blob)) {
			return 0, ErrInvalidExportDirectory
		}
		return off, nil
	}
	readName := func(rva uint32) (string, error) {
		off := rva - edataRVA
		if rva < edataRVA || off >= uint32(len(blob)) {
			return "", ErrInvalidExportDirectory
		}
		end := bytes.IndexByte(blob[off:], 0)
		if end < 0 {
			return "", ErrInvalidExportDirectory
		}
		return string(blob[off : off+uint32(end)]), nil
	}

	addrOff, err := tableOffset(dir.AddressOfFunctions, 4, dir.NumberOfFunctions)
	if err != nil {
		return ImageExportDirectory{}, nil, "", err
	}
	nameOff, err := tableOffset(dir.AddressOfNames, 4, dir.NumberOfNames)
	if err != nil {
		return ImageExportDirectory{}, nil, "", err
	}
	ordOff, err := tableOffset(dir.AddressOfNameOrdinals, 2, dir.NumberOfNames)
	if err != nil {
		return ImageExportDirectory{}, nil, "", err
	}

	exports := make([]ParsedExport, 0, dir.NumberOfNames)
	for i := uint32(0); i < dir.NumberOfNames; i++ {
		nameRVA := binary.LittleEndian.Uint32(blob[nameOff+4*i:])
		name, err := readName(nameRVA)
		if err != nil {
			return ImageExportDirectory{}, nil, "", err
		}
		biased := binary.LittleEndian.Uint16(blob[ordOff+2*i:])
		if uint32(biased) >= dir.NumberOfFunctions {
			return ImageExportDirectory{}, nil, "", ErrInvalidExportDirectory
		}
		exports = append(exports, ParsedExport{
			Name:    name,
			Ordinal: biased + uint16(dir.Base),
			Address: binary.LittleEndian.Uint32(blob[addrOff+4*uint32(biased):]),
		})
	}

	dllName, err := readName(dir.Name)
	if err != nil {
		return ImageExportDirectory{}, nil, "", err
	}
	return dir, exports, dllName, nil
}
