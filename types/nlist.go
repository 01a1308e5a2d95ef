package types

import "fmt"

// Nlist32 is the 32-bit on-disk symbol table entry laid out by LC_SYMTAB.
type Nlist32 struct {
	Name  uint32
	Type  NType
	Sect  uint8
	Desc  NDescType
	Value uint32
}

// Nlist64 is the 64-bit on-disk symbol table entry laid out by LC_SYMTAB.
type Nlist64 struct {
	Name  uint32
	Type  NType
	Sect  uint8
	Desc  NDescType
	Value uint64
}

// NType is an N-list entry's n_type byte: bit 0x e0 selects stab/pext/type/ext.
type NType uint8

const (
	NStab  NType = 0xe0 // if any of these bits set, a symbolic debugging entry
	NPext  NType = 0x10 // private external symbol bit
	NType_ NType = 0x0e // mask for the type bits
	NExt   NType = 0x01 // external symbol bit, set for external symbols
)

// Type bit values under the NType_ mask.
const (
	NUndf NType = 0x0 // undefined, no section
	NAbs  NType = 0x2 // absolute, no section
	NSect NType = 0xe // defined in section number n_sect
	NPbud NType = 0xc // prebound undefined (defined in a dylib)
	NIndr NType = 0xa // indirect
)

// String reports the symbol type, and for a section-defined symbol
// appends the owning segment.section name when one is supplied.
func (t NType) String(sectionName string) string {
	if t&NStab != 0 {
		return fmt.Sprintf("stab(%#02x)", uint8(t))
	}
	switch t & NType_ {
	case NUndf:
		return "undef"
	case NAbs:
		return "abs"
	case NSect:
		if sectionName != "" {
			return sectionName
		}
		return "sect"
	case NPbud:
		return "prebound"
	case NIndr:
		return "indirect"
	}
	return fmt.Sprintf("type(%#02x)", uint8(t&NType_))
}

// NDescType is an N-list entry's n_desc field: reference type plus flag
// bits (REFERENCED_DYNAMICALLY, N_WEAK_REF, N_WEAK_DEF, N_ARM_THUMB_DEF, ...).
type NDescType uint16

const (
	ReferencedDynamically NDescType = 0x0010
	NDescDiscarded        NDescType = 0x0020
	NWeakRef              NDescType = 0x0040
	NWeakDef              NDescType = 0x0080
	NArmThumbDef          NDescType = 0x0008
	NSymbolResolver       NDescType = 0x0100
	NAltEntry             NDescType = 0x0200
)

func (d NDescType) String() string {
	var flags string
	add := func(set bool, name string) {
		if set {
			if flags != "" {
				flags += ","
			}
			flags += name
		}
	}
	add(d&ReferencedDynamically != 0, "dynamic")
	add(d&NWeakRef != 0, "weak_ref")
	add(d&NWeakDef != 0, "weak_def")
	add(d&NArmThumbDef != 0, "thumb_def")
	add(d&NSymbolResolver != 0, "resolver")
	add(d&NAltEntry != 0, "alt_entry")
	if flags == "" {
		return fmt.Sprintf("%#04x", uint16(d))
	}
	return flags
}

// TwolevelHint is one entry of a LC_TWOLEVEL_HINTS table: an index into
// the dependent-library table and an index into the indicated library's
// exported symbol table.
type TwolevelHint struct {
	// encoded as a single uint32 bitfield on disk: isub_image:8, itoc:24
	Value uint32
}

// ISubImage is the dependent-library table index.
func (h TwolevelHint) ISubImage() uint8 {
	return uint8(h.Value >> 24)
}

// ITOC is the index into that library's table of contents.
func (h TwolevelHint) ITOC() uint32 {
	return h.Value & 0x00ffffff
}
