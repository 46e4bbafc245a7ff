package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// TableCount is the size of the metadata table ID space.
const TableCount = 64

// Table IDs (ECMA-335 II.22 plus the Portable PDB extension tables).
const (
	TblModule                 = 0x00
	TblTypeRef                = 0x01
	TblTypeDef                = 0x02
	TblFieldPtr               = 0x03
	TblField                  = 0x04
	TblMethodPtr              = 0x05
	TblMethodDef              = 0x06
	TblParamPtr               = 0x07
	TblParam                  = 0x08
	TblInterfaceImpl          = 0x09
	TblMemberRef              = 0x0A
	TblConstant               = 0x0B
	TblCustomAttribute        = 0x0C
	TblFieldMarshal           = 0x0D
	TblDeclSecurity           = 0x0E
	TblClassLayout            = 0x0F
	TblFieldLayout            = 0x10
	TblStandAloneSig          = 0x11
	TblEventMap               = 0x12
	TblEventPtr               = 0x13
	TblEvent                  = 0x14
	TblPropertyMap            = 0x15
	TblPropertyPtr            = 0x16
	TblProperty               = 0x17
	TblMethodSemantics        = 0x18
	TblMethodImpl             = 0x19
	TblModuleRef              = 0x1A
	TblTypeSpec               = 0x1B
	TblImplMap                = 0x1C
	TblFieldRVA               = 0x1D
	TblEncLog                 = 0x1E
	TblEncMap                 = 0x1F
	TblAssembly               = 0x20
	TblAssemblyProcessor      = 0x21
	TblAssemblyOS             = 0x22
	TblAssemblyRef            = 0x23
	TblAssemblyRefProcessor   = 0x24
	TblAssemblyRefOS          = 0x25
	TblFile                   = 0x26
	TblExportedType           = 0x27
	TblManifestResource       = 0x28
	TblNestedClass            = 0x29
	TblGenericParam           = 0x2A
	TblMethodSpec             = 0x2B
	TblGenericParamConstraint = 0x2C
	TblDocument               = 0x30
	TblMethodDebugInformation = 0x31
	TblLocalScope             = 0x32
	TblLocalVariable          = 0x33
	TblLocalConstant          = 0x34
	TblImportScope            = 0x35
	TblStateMachineMethod     = 0x36
	TblCustomDebugInformation = 0x37
)

type colKind uint8

const (
	colUInt16 colKind = iota
	colUInt32
	colString
	colGUID
	colBlob
	colIndex // simple index into column.table
	colCoded // coded index into codedFamilies[column.coded]
)

type column struct {
	kind  colKind
	table uint8 // colIndex target
	coded uint8 // colCoded family
}

func u16() column        { return column{kind: colUInt16} }
func u32() column        { return column{kind: colUInt32} }
func str() column        { return column{kind: colString} }
func gid() column        { return column{kind: colGUID} }
func blb() column        { return column{kind: colBlob} }
func idx(t uint8) column { return column{kind: colIndex, table: t} }
func cdx(f uint8) column { return column{kind: colCoded, coded: f} }

// Coded index families.
const (
	codedTypeDefOrRef = iota
	codedHasConstant
	codedHasCustomAttribute
	codedHasFieldMarshal
	codedHasDeclSecurity
	codedMemberRefParent
	codedHasSemantics
	codedMethodDefOrRef
	codedMemberForwarded
	codedImplementation
	codedCustomAttributeType
	codedResolutionScope
	codedTypeOrMethodDef
	codedHasCustomDebugInformation
)

// CodedHasCustomDebugInformation is the family of the CustomDebugInformation
// parent column, the only coded index callers decode themselves.
const CodedHasCustomDebugInformation = codedHasCustomDebugInformation

type codedFamily struct {
	bits   uint
	tables []uint8
}

var codedFamilies = [...]codedFamily{
	codedTypeDefOrRef:              {2, []uint8{TblTypeDef, TblTypeRef, TblTypeSpec}},
	codedHasConstant:               {2, []uint8{TblField, TblParam, TblProperty}},
	codedHasCustomAttribute:        {5, []uint8{TblMethodDef, TblField, TblTypeRef, TblTypeDef, TblParam, TblInterfaceImpl, TblMemberRef, TblModule, TblDeclSecurity, TblProperty, TblEvent, TblStandAloneSig, TblModuleRef, TblTypeSpec, TblAssembly, TblAssemblyRef, TblFile, TblExportedType, TblManifestResource, TblGenericParam, TblGenericParamConstraint, TblMethodSpec}},
	codedHasFieldMarshal:           {1, []uint8{TblField, TblParam}},
	codedHasDeclSecurity:           {2, []uint8{TblTypeDef, TblMethodDef, TblAssembly}},
	codedMemberRefParent:           {3, []uint8{TblTypeDef, TblTypeRef, TblModuleRef, TblMethodDef, TblTypeSpec}},
	codedHasSemantics:              {1, []uint8{TblEvent, TblProperty}},
	codedMethodDefOrRef:            {1, []uint8{TblMethodDef, TblMemberRef}},
	codedMemberForwarded:           {1, []uint8{TblField, TblMethodDef}},
	codedImplementation:            {2, []uint8{TblFile, TblExportedType, TblAssemblyRef}},
	codedCustomAttributeType:       {3, []uint8{TblMethodDef, TblMemberRef}},
	codedResolutionScope:           {2, []uint8{TblModule, TblModuleRef, TblAssemblyRef, TblTypeRef}},
	codedTypeOrMethodDef:           {1, []uint8{TblTypeDef, TblMethodDef}},
	codedHasCustomDebugInformation: {5, []uint8{TblMethodDef, TblField, TblTypeRef, TblTypeDef, TblParam, TblInterfaceImpl, TblMemberRef, TblModule, TblDeclSecurity, TblProperty, TblEvent, TblStandAloneSig, TblModuleRef, TblTypeSpec, TblAssembly, TblAssemblyRef, TblFile, TblExportedType, TblManifestResource, TblGenericParam, TblGenericParamConstraint, TblMethodSpec, TblDocument, TblLocalScope, TblLocalVariable, TblLocalConstant, TblImportScope}},
}

// schemas maps table ID to its column layout. Tables absent from this map
// cannot be sized; a stream declaring rows for one is a structural error.
var schemas = map[int][]column{
	TblModule:                 {u16(), str(), gid(), gid(), gid()},
	TblTypeRef:                {cdx(codedResolutionScope), str(), str()},
	TblTypeDef:                {u32(), str(), str(), cdx(codedTypeDefOrRef), idx(TblField), idx(TblMethodDef)},
	TblFieldPtr:               {idx(TblField)},
	TblField:                  {u16(), str(), blb()},
	TblMethodPtr:              {idx(TblMethodDef)},
	TblMethodDef:              {u32(), u16(), u16(), str(), blb(), idx(TblParam)},
	TblParamPtr:               {idx(TblParam)},
	TblParam:                  {u16(), u16(), str()},
	TblInterfaceImpl:          {idx(TblTypeDef), cdx(codedTypeDefOrRef)},
	TblMemberRef:              {cdx(codedMemberRefParent), str(), blb()},
	TblConstant:               {u16(), cdx(codedHasConstant), blb()},
	TblCustomAttribute:        {cdx(codedHasCustomAttribute), cdx(codedCustomAttributeType), blb()},
	TblFieldMarshal:           {cdx(codedHasFieldMarshal), blb()},
	TblDeclSecurity:           {u16(), cdx(codedHasDeclSecurity), blb()},
	TblClassLayout:            {u16(), u32(), idx(TblTypeDef)},
	TblFieldLayout:            {u32(), idx(TblField)},
	TblStandAloneSig:          {blb()},
	TblEventMap:               {idx(TblTypeDef), idx(TblEvent)},
	TblEventPtr:               {idx(TblEvent)},
	TblEvent:                  {u16(), str(), cdx(codedTypeDefOrRef)},
	TblPropertyMap:            {idx(TblTypeDef), idx(TblProperty)},
	TblPropertyPtr:            {idx(TblProperty)},
	TblProperty:               {u16(), str(), blb()},
	TblMethodSemantics:        {u16(), idx(TblMethodDef), cdx(codedHasSemantics)},
	TblMethodImpl:             {idx(TblTypeDef), cdx(codedMethodDefOrRef), cdx(codedMethodDefOrRef)},
	TblModuleRef:              {str()},
	TblTypeSpec:               {blb()},
	TblImplMap:                {u16(), cdx(codedMemberForwarded), str(), idx(TblModuleRef)},
	TblFieldRVA:               {u32(), idx(TblField)},
	TblEncLog:                 {u32(), u32()},
	TblEncMap:                 {u32()},
	TblAssembly:               {u32(), u16(), u16(), u16(), u16(), u32(), blb(), str(), str()},
	TblAssemblyProcessor:      {u32()},
	TblAssemblyOS:             {u32(), u32(), u32()},
	TblAssemblyRef:            {u16(), u16(), u16(), u16(), u32(), blb(), str(), str(), blb()},
	TblAssemblyRefProcessor:   {u32(), idx(TblAssemblyRef)},
	TblAssemblyRefOS:          {u32(), u32(), u32(), idx(TblAssemblyRef)},
	TblFile:                   {u32(), str(), blb()},
	TblExportedType:           {u32(), u32(), str(), str(), cdx(codedImplementation)},
	TblManifestResource:       {u32(), u32(), str(), cdx(codedImplementation)},
	TblNestedClass:            {idx(TblTypeDef), idx(TblTypeDef)},
	TblGenericParam:           {u16(), u16(), cdx(codedTypeOrMethodDef), str()},
	TblMethodSpec:             {cdx(codedMethodDefOrRef), blb()},
	TblGenericParamConstraint: {idx(TblGenericParam), cdx(codedTypeDefOrRef)},
	TblDocument:               {blb(), gid(), blb(), gid()},
	TblMethodDebugInformation: {idx(TblDocument), blb()},
	TblLocalScope:             {idx(TblMethodDef), idx(TblImportScope), idx(TblLocalVariable), idx(TblLocalConstant), u32(), u32()},
	TblLocalVariable:          {u16(), u16(), str()},
	TblLocalConstant:          {str(), blb()},
	TblImportScope:            {idx(TblImportScope), blb()},
	TblStateMachineMethod:     {idx(TblMethodDef), idx(TblMethodDef)},
	TblCustomDebugInformation: {cdx(codedHasCustomDebugInformation), gid(), blb()},
}

// TableStream is a parsed #~ stream. Row and column access is bounds-checked;
// indexes into heaps and other tables come back raw.
type TableStream struct {
	HeapSizes byte
	Rows      [TableCount]uint32

	data    []byte
	offsets [TableCount]int
	rowSize [TableCount]int
	cols    [TableCount][]int // byte offset of each column within a row
	widths  [TableCount][]int

	// effective row counts for index sizing; for a standalone Portable PDB
	// these include the type-system rows declared by the #Pdb stream
	sizing [TableCount]uint32
}

func parseTableStream(data []byte, external *[TableCount]uint32) (*TableStream, error) {
	if len(data) < 24 {
		return nil, errors.New("table stream header truncated")
	}
	t := &TableStream{data: data, HeapSizes: data[6]}

	valid := binary.LittleEndian.Uint64(data[8:])
	off := 24
	for i := 0; i < TableCount; i++ {
		if valid&(1<<uint(i)) == 0 {
			continue
		}
		if off+4 > len(data) {
			return nil, errors.New("table stream row counts truncated")
		}
		t.Rows[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}

	t.sizing = t.Rows
	if external != nil {
		for i, n := range external {
			if t.sizing[i] == 0 {
				t.sizing[i] = n
			}
		}
	}

	for i := 0; i < TableCount; i++ {
		if t.Rows[i] == 0 {
			continue
		}
		schema, ok := schemas[i]
		if !ok {
			return nil, fmt.Errorf("table %#02x has %d rows but no known schema", i, t.Rows[i])
		}
		size := 0
		for _, c := range schema {
			w := t.colWidth(c)
			t.cols[i] = append(t.cols[i], size)
			t.widths[i] = append(t.widths[i], w)
			size += w
		}
		t.rowSize[i] = size
		t.offsets[i] = off
		need := off + size*int(t.Rows[i])
		if need > len(data) {
			return nil, fmt.Errorf("table %#02x rows run past the stream (%d > %d)", i, need, len(data))
		}
		off = need
	}

	return t, nil
}

func (t *TableStream) colWidth(c column) int {
	switch c.kind {
	case colUInt16:
		return 2
	case colUInt32:
		return 4
	case colString:
		if t.HeapSizes&0x01 != 0 {
			return 4
		}
		return 2
	case colGUID:
		if t.HeapSizes&0x02 != 0 {
			return 4
		}
		return 2
	case colBlob:
		if t.HeapSizes&0x04 != 0 {
			return 4
		}
		return 2
	case colIndex:
		if t.sizing[c.table] > 0xFFFF {
			return 4
		}
		return 2
	case colCoded:
		fam := codedFamilies[c.coded]
		var max uint32
		for _, tbl := range fam.tables {
			if t.sizing[tbl] > max {
				max = t.sizing[tbl]
			}
		}
		if max > uint32(0xFFFF)>>fam.bits {
			return 4
		}
		return 2
	}
	return 0
}

// RowCount returns the number of rows in a table.
func (t *TableStream) RowCount(table int) uint32 { return t.Rows[table] }

// Uint returns column col of row (1-based) as a raw unsigned value. String,
// GUID, blob, and index columns yield heap offsets / row indexes.
func (t *TableStream) Uint(table, col int, row uint32) (uint32, error) {
	if row == 0 || row > t.Rows[table] {
		return 0, fmt.Errorf("table %#02x row %d out of range (have %d)", table, row, t.Rows[table])
	}
	if col >= len(t.cols[table]) {
		return 0, fmt.Errorf("table %#02x has no column %d", table, col)
	}
	off := t.offsets[table] + t.rowSize[table]*int(row-1) + t.cols[table][col]
	if t.widths[table][col] == 2 {
		return uint32(binary.LittleEndian.Uint16(t.data[off:])), nil
	}
	return binary.LittleEndian.Uint32(t.data[off:]), nil
}

// DecodeCoded splits a coded-index value read via Uint into its target table
// and 1-based row.
func DecodeCoded(family int, v uint32) (table uint8, row uint32) {
	fam := codedFamilies[family]
	tag := v & (1<<fam.bits - 1)
	if int(tag) >= len(fam.tables) {
		return 0xFF, 0
	}
	return fam.tables[tag], v >> fam.bits
}

// EncodeCoded is the inverse of DecodeCoded (fixture builders).
func EncodeCoded(family int, table uint8, row uint32) uint32 {
	fam := codedFamilies[family]
	for tag, tbl := range fam.tables {
		if tbl == table {
			return row<<fam.bits | uint32(tag)
		}
	}
	return 0
}

// PdbStream is the parsed #Pdb stream of a standalone Portable PDB.
type PdbStream struct {
	ID             [20]byte
	EntryPoint     uint32
	TypeSystemRows [TableCount]uint32
}

func parsePdbStream(data []byte) (*PdbStream, error) {
	if len(data) < 32 {
		return nil, errors.New("#Pdb stream truncated")
	}
	p := &PdbStream{}
	copy(p.ID[:], data[:20])
	p.EntryPoint = binary.LittleEndian.Uint32(data[20:])
	refs := binary.LittleEndian.Uint64(data[24:])
	off := 32
	for i := 0; i < TableCount; i++ {
		if refs&(1<<uint(i)) == 0 {
			continue
		}
		if off+4 > len(data) {
			return nil, errors.New("#Pdb referenced row counts truncated")
		}
		p.TypeSystemRows[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	return p, nil
}
