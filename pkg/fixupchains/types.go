package fixupchains

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/binaryinspect/machofmt/types"
)

// DCPtrKind identifies the pointer encoding used by a chained fixups segment,
// mirroring dyld_chained_starts_in_segment.pointer_format.
type DCPtrKind = types.DCPtrKind

const (
	DYLD_CHAINED_PTR_ARM64E               = types.DYLD_CHAINED_PTR_ARM64E
	DYLD_CHAINED_PTR_64                   = types.DYLD_CHAINED_PTR_64
	DYLD_CHAINED_PTR_32                   = types.DYLD_CHAINED_PTR_32
	DYLD_CHAINED_PTR_32_CACHE             = types.DYLD_CHAINED_PTR_32_CACHE
	DYLD_CHAINED_PTR_32_FIRMWARE          = types.DYLD_CHAINED_PTR_32_FIRMWARE
	DYLD_CHAINED_PTR_64_OFFSET            = types.DYLD_CHAINED_PTR_64_OFFSET
	DYLD_CHAINED_PTR_ARM64E_OFFSET        = types.DYLD_CHAINED_PTR_ARM64E_OFFSET
	DYLD_CHAINED_PTR_ARM64E_KERNEL        = types.DYLD_CHAINED_PTR_ARM64E_KERNEL
	DYLD_CHAINED_PTR_64_KERNEL_CACHE      = types.DYLD_CHAINED_PTR_64_KERNEL_CACHE
	DYLD_CHAINED_PTR_ARM64E_USERLAND      = types.DYLD_CHAINED_PTR_ARM64E_USERLAND
	DYLD_CHAINED_PTR_ARM64E_FIRMWARE      = types.DYLD_CHAINED_PTR_ARM64E_FIRMWARE
	DYLD_CHAINED_PTR_X86_64_KERNEL_CACHE  = types.DYLD_CHAINED_PTR_X86_64_KERNEL_CACHE
	DYLD_CHAINED_PTR_ARM64E_USERLAND24    = types.DYLD_CHAINED_PTR_ARM64E_USERLAND24
	// DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE and _SEGMENTED were added to dyld's
	// chained fixups after the values above; they are not otherwise decoded
	// here but round-trip through the pointer-format switch without panicking.
	DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE DCPtrKind = 13
	DYLD_CHAINED_PTR_ARM64E_SEGMENTED    DCPtrKind = 14
)

// DCPtrStart is a page_start[]/chain_starts[] entry.
type DCPtrStart = types.DCPtrStart

const (
	DYLD_CHAINED_PTR_START_NONE  = types.DYLD_CHAINED_PTR_START_NONE
	DYLD_CHAINED_PTR_START_MULTI = types.DYLD_CHAINED_PTR_START_MULTI
	DYLD_CHAINED_PTR_START_LAST  = types.DYLD_CHAINED_PTR_START_LAST
)

// DyldChainedStartsInSegment and DyldChainedFixupsHeader decode identically
// regardless of which package holds the chain-walking logic, so they are
// shared verbatim with the types package.
type DyldChainedStartsInSegment = types.DyldChainedStartsInSegment
type DyldChainedFixupsHeader = types.DyldChainedFixupsHeader

// DCImportsFormat/DCSymbolsFormat select the encoding of the imports table
// and symbol pool trailing the fixups header.
type DCImportsFormat = types.DCImportsFormat

const (
	DC_IMPORT          = types.DC_IMPORT
	DC_IMPORT_ADDEND   = types.DC_IMPORT_ADDEND
	DC_IMPORT_ADDEND64 = types.DC_IMPORT_ADDEND64
)

type DCSymbolsFormat = types.DCSymbolsFormat

const (
	DC_SFORMAT_UNCOMPRESSED    = types.DC_SFORMAT_UNCOMPRESSED
	DC_SFORMAT_ZLIB_COMPRESSED = types.DC_SFORMAT_ZLIB_COMPRESSED
)

var (
	DcpArm64eIsBind = types.DcpArm64eIsBind
	DcpArm64eIsAuth = types.DcpArm64eIsAuth
	DcpArm64eNext   = types.DcpArm64eNext
	Generic64Next   = types.Generic64Next
	Generic64IsBind = types.Generic64IsBind
	Generic32Next   = types.Generic32Next
	Generic32IsBind = types.Generic32IsBind
)

// DcpArm64eIsRebase reports whether an arm64e chained pointer is a rebase
// (authenticated or not), i.e. not a bind.
func DcpArm64eIsRebase(ptr uint64) bool {
	return !DcpArm64eIsBind(ptr)
}

// pointerSize is the width in bytes of the raw pointer slot on disk for the
// given chained pointer format.
func pointerSize(format DCPtrKind) int {
	switch format {
	case DYLD_CHAINED_PTR_32, DYLD_CHAINED_PTR_32_CACHE, DYLD_CHAINED_PTR_32_FIRMWARE:
		return 4
	default:
		return 8
	}
}

// PointerSize exposes pointerSize for callers outside the package.
func PointerSize(format DCPtrKind) int {
	return pointerSize(format)
}

// stride is the chain's "next" multiplier in bytes for the given pointer format.
func stride(format DCPtrKind) uint64 {
	switch format {
	case DYLD_CHAINED_PTR_ARM64E, DYLD_CHAINED_PTR_ARM64E_USERLAND, DYLD_CHAINED_PTR_ARM64E_USERLAND24,
		DYLD_CHAINED_PTR_ARM64E_SHARED_CACHE:
		return 8
	case DYLD_CHAINED_PTR_ARM64E_KERNEL, DYLD_CHAINED_PTR_ARM64E_FIRMWARE, DYLD_CHAINED_PTR_ARM64E_SEGMENTED,
		DYLD_CHAINED_PTR_32_FIRMWARE, DYLD_CHAINED_PTR_64, DYLD_CHAINED_PTR_64_OFFSET,
		DYLD_CHAINED_PTR_32, DYLD_CHAINED_PTR_32_CACHE, DYLD_CHAINED_PTR_64_KERNEL_CACHE:
		return 4
	case DYLD_CHAINED_PTR_X86_64_KERNEL_CACHE:
		return 1
	default:
		return 4
	}
}

// Fixup is a single resolved chained-fixup slot: a decoded pointer value
// together with the file offset it was read from.
type Fixup interface {
	Offset() uint64
}

// Rebase is a Fixup that resolves to a target address without going through
// an imports table.
type Rebase interface {
	Fixup
	Target() uint64
}

// Auth is a Rebase signed with a pointer-authentication key.
type Auth interface {
	Rebase
	Diversity() uint64
}

// segmentRange is a half-open [start, end) file-offset span covered by one
// DyldChainedStarts entry, used to binary-search a fixup offset to its segment.
type segmentRange struct {
	start uint64
	end   uint64
	index int
}

// DyldChainedStarts is one segment's worth of chained-fixup metadata: the
// per-page chain starts, plus the Fixups resolved by walking them.
type DyldChainedStarts struct {
	DyldChainedStartsInSegment
	PageStarts []DCPtrStart
	Fixups     []Fixup
}

// DyldChainedFixups decodes an LC_DYLD_CHAINED_FIXUPS load command: the
// per-segment chain starts, the imports table, and (once Parse has walked
// the chains) every resolved Fixup, indexable by target or by file offset.
type DyldChainedFixups struct {
	DyldChainedFixupsHeader
	PointerFormat DCPtrKind
	Starts        []DyldChainedStarts
	Imports       []DcfImport

	r  *bytes.Reader
	sr types.MachoReader
	bo binary.ByteOrder

	fixups       map[uint64]Fixup
	segmentIndex []segmentRange

	metadataParsed bool
	importsParsed  bool
	chainsParsed   bool
}

// Lookup returns the fixup whose target matches targetOffset, if any. Unlike
// LookupByTarget it never walks the chains itself; it only consults whatever
// has already been resolved into the fixups map.
func (dcf *DyldChainedFixups) Lookup(targetOffset uint64) (Fixup, bool) {
	if dcf.fixups == nil {
		return nil, false
	}
	f, ok := dcf.fixups[targetOffset]
	return f, ok
}

// DyldChainedImport is the DYLD_CHAINED_IMPORT encoding: a 32-bit packed
// (lib ordinal, weak flag, name offset) triple.
type DyldChainedImport uint32

func (d DyldChainedImport) LibOrdinal() uint64 { return types.ExtractBits(uint64(d), 0, 8) }
func (d DyldChainedImport) WeakImport() bool   { return types.ExtractBits(uint64(d), 8, 1) == 1 }
func (d DyldChainedImport) NameOffset() uint64 { return types.ExtractBits(uint64(d), 9, 23) }
func (d DyldChainedImport) String() string {
	return fmt.Sprintf("lib ordinal: %d, is_weak: %t", d.LibOrdinal(), d.WeakImport())
}

// DyldChainedImport64 is the DYLD_CHAINED_IMPORT64 encoding, used as the
// import record inside DyldChainedImportAddend64 (DC_IMPORT_ADDEND64).
type DyldChainedImport64 = types.DyldChainedImport64

// Import is anything that can resolve its own name-pool offset: a plain
// DyldChainedImport or one of the addend-carrying variants below.
type Import interface {
	NameOffset() uint64
}

// DyldChainedImportAddend pairs a DYLD_CHAINED_IMPORT with a signed addend.
type DyldChainedImportAddend struct {
	Import DyldChainedImport
	Addend int32
}

func (i DyldChainedImportAddend) NameOffset() uint64 { return i.Import.NameOffset() }
func (i DyldChainedImportAddend) String() string {
	return fmt.Sprintf("lib ordinal: %d, is_weak: %t, addend: %#x", i.Import.LibOrdinal(), i.Import.WeakImport(), i.Addend)
}

// DyldChainedImportAddend64 pairs a DYLD_CHAINED_IMPORT64 with an addend.
type DyldChainedImportAddend64 struct {
	Import DyldChainedImport64
	Addend uint64
}

func (i DyldChainedImportAddend64) NameOffset() uint64 { return i.Import.NameOffset() }
func (i DyldChainedImportAddend64) String() string {
	return fmt.Sprintf("lib ordinal: %d, is_weak: %t, addend: %#x", i.Import.LibOrdinal(), i.Import.WeakImport(), i.Addend)
}

// DcfImport is the resolved (name, raw import) pair stored on DyldChainedFixups.
type DcfImport struct {
	Name   string
	Import Import
}

func (i DcfImport) String() string {
	return fmt.Sprintf("%s, %s", i.Import, i.Name)
}

// --- concrete chained-pointer types ---
//
// Each wraps the raw on-disk Pointer bits together with Fixup, the file
// offset the pointer was read from. Bit layouts are taken from dyld's
// dyld_chained_ptr_64_rebase / dyld_chained_ptr_arm64e_* unions.

type DyldChainedPtrArm64eRebase struct {
	Pointer uint64
	Fixup   uint64
}

func (d DyldChainedPtrArm64eRebase) Target() uint64 { return types.ExtractBits(d.Pointer, 0, 43) }
func (d DyldChainedPtrArm64eRebase) High8() uint64   { return types.ExtractBits(d.Pointer, 43, 8) }
func (d DyldChainedPtrArm64eRebase) UnpackTarget() uint64 {
	return d.High8()<<56 | d.Target()
}
func (d DyldChainedPtrArm64eRebase) Next() uint64   { return types.ExtractBits(d.Pointer, 51, 11) }
func (d DyldChainedPtrArm64eRebase) Offset() uint64 { return d.Fixup }
func (d DyldChainedPtrArm64eRebase) String() string {
	return fmt.Sprintf("offset: %#016x, next: %d, type: rebase", d.UnpackTarget(), d.Next())
}

type DyldChainedPtrArm64eBind struct {
	Pointer uint64
	Fixup   uint64
	Import  string
}

func (d DyldChainedPtrArm64eBind) Ordinal() uint64 { return types.ExtractBits(d.Pointer, 0, 16) }
func (d DyldChainedPtrArm64eBind) Addend() uint64   { return types.ExtractBits(d.Pointer, 32, 19) }
func (d DyldChainedPtrArm64eBind) SignExtendedAddend() int64 {
	addend19 := types.ExtractBits(d.Pointer, 32, 19)
	if addend19&0x40000 != 0 {
		return int64(addend19 | 0xFFFFFFFFFFFC0000)
	}
	return int64(addend19)
}
func (d DyldChainedPtrArm64eBind) Next() uint64   { return types.ExtractBits(d.Pointer, 51, 11) }
func (d DyldChainedPtrArm64eBind) Offset() uint64 { return d.Fixup }
func (d DyldChainedPtrArm64eBind) String() string {
	return fmt.Sprintf("ordinal: %d, addend: %#x, next: %d, type: bind, import: %s", d.Ordinal(), d.Addend(), d.Next(), d.Import)
}

type DyldChainedPtrArm64eAuthRebase struct {
	Pointer uint64
	Fixup   uint64
}

func (d DyldChainedPtrArm64eAuthRebase) Target() uint64    { return types.ExtractBits(d.Pointer, 0, 32) }
func (d DyldChainedPtrArm64eAuthRebase) Diversity() uint64 { return types.ExtractBits(d.Pointer, 32, 16) }
func (d DyldChainedPtrArm64eAuthRebase) AddrDiv() uint64   { return types.ExtractBits(d.Pointer, 48, 1) }
func (d DyldChainedPtrArm64eAuthRebase) Key() uint64       { return types.ExtractBits(d.Pointer, 49, 2) }
func (d DyldChainedPtrArm64eAuthRebase) Next() uint64      { return types.ExtractBits(d.Pointer, 51, 11) }
func (d DyldChainedPtrArm64eAuthRebase) Offset() uint64    { return d.Fixup }
func (d DyldChainedPtrArm64eAuthRebase) String() string {
	return fmt.Sprintf("offset: %#08x, diversity: %#x, addr_div: %t, key: %s, next: %d, type: auth-rebase",
		d.Target(), d.Diversity(), d.AddrDiv() == 1, types.KeyName(d.Key()), d.Next())
}

type DyldChainedPtrArm64eAuthBind struct {
	Pointer uint64
	Fixup   uint64
	Import  string
}

func (d DyldChainedPtrArm64eAuthBind) Ordinal() uint64    { return types.ExtractBits(d.Pointer, 0, 16) }
func (d DyldChainedPtrArm64eAuthBind) Diversity() uint64  { return types.ExtractBits(d.Pointer, 32, 16) }
func (d DyldChainedPtrArm64eAuthBind) AddrDiv() uint64    { return types.ExtractBits(d.Pointer, 48, 1) }
func (d DyldChainedPtrArm64eAuthBind) Key() uint64        { return types.ExtractBits(d.Pointer, 49, 2) }
func (d DyldChainedPtrArm64eAuthBind) Next() uint64       { return types.ExtractBits(d.Pointer, 51, 11) }
func (d DyldChainedPtrArm64eAuthBind) Offset() uint64     { return d.Fixup }
func (d DyldChainedPtrArm64eAuthBind) String() string {
	return fmt.Sprintf("ordinal: %d, diversity: %#x, key: %s, next: %d, type: auth-bind, import: %s",
		d.Ordinal(), d.Diversity(), types.KeyName(d.Key()), d.Next(), d.Import)
}

type DyldChainedPtrArm64eBind24 struct {
	Pointer uint64
	Fixup   uint64
	Import  string
}

func (d DyldChainedPtrArm64eBind24) Ordinal() uint64 { return types.ExtractBits(d.Pointer, 0, 24) }
func (d DyldChainedPtrArm64eBind24) Addend() uint64   { return types.ExtractBits(d.Pointer, 32, 19) }
func (d DyldChainedPtrArm64eBind24) Next() uint64     { return types.ExtractBits(d.Pointer, 51, 11) }
func (d DyldChainedPtrArm64eBind24) Offset() uint64   { return d.Fixup }
func (d DyldChainedPtrArm64eBind24) String() string {
	return fmt.Sprintf("ordinal: %d, addend: %#x, next: %d, type: bind24, import: %s", d.Ordinal(), d.Addend(), d.Next(), d.Import)
}

type DyldChainedPtrArm64eAuthBind24 struct {
	Pointer uint64
	Fixup   uint64
	Import  string
}

func (d DyldChainedPtrArm64eAuthBind24) Ordinal() uint64   { return types.ExtractBits(d.Pointer, 0, 24) }
func (d DyldChainedPtrArm64eAuthBind24) Diversity() uint64 { return types.ExtractBits(d.Pointer, 32, 16) }
func (d DyldChainedPtrArm64eAuthBind24) Key() uint64       { return types.ExtractBits(d.Pointer, 49, 2) }
func (d DyldChainedPtrArm64eAuthBind24) Next() uint64      { return types.ExtractBits(d.Pointer, 51, 11) }
func (d DyldChainedPtrArm64eAuthBind24) Offset() uint64    { return d.Fixup }
func (d DyldChainedPtrArm64eAuthBind24) String() string {
	return fmt.Sprintf("ordinal: %d, diversity: %#x, key: %s, next: %d, type: auth-bind24, import: %s",
		d.Ordinal(), d.Diversity(), types.KeyName(d.Key()), d.Next(), d.Import)
}

type DyldChainedPtr64Rebase struct {
	Pointer uint64
	Fixup   uint64
}

func (d DyldChainedPtr64Rebase) Target() uint64 { return types.ExtractBits(d.Pointer, 0, 36) }
func (d DyldChainedPtr64Rebase) High8() uint64   { return types.ExtractBits(d.Pointer, 36, 8) }
func (d DyldChainedPtr64Rebase) UnpackedTarget() uint64 {
	return d.High8()<<56 | d.Target()
}
func (d DyldChainedPtr64Rebase) Next() uint64   { return types.ExtractBits(d.Pointer, 51, 12) }
func (d DyldChainedPtr64Rebase) Offset() uint64 { return d.Fixup }
func (d DyldChainedPtr64Rebase) String() string {
	return fmt.Sprintf("vmaddr: %#016x, next: %d", d.UnpackedTarget(), d.Next())
}

type DyldChainedPtr64RebaseOffset struct {
	Pointer uint64
	Fixup   uint64
}

func (d DyldChainedPtr64RebaseOffset) Target() uint64 { return types.ExtractBits(d.Pointer, 0, 36) }
func (d DyldChainedPtr64RebaseOffset) High8() uint64   { return types.ExtractBits(d.Pointer, 36, 8) }
func (d DyldChainedPtr64RebaseOffset) UnpackedTarget() uint64 {
	return d.High8()<<56 | d.Target()
}
func (d DyldChainedPtr64RebaseOffset) Next() uint64   { return types.ExtractBits(d.Pointer, 51, 12) }
func (d DyldChainedPtr64RebaseOffset) Offset() uint64 { return d.Fixup }
func (d DyldChainedPtr64RebaseOffset) String() string {
	return fmt.Sprintf("offset: %#016x, next: %d", d.UnpackedTarget(), d.Next())
}

type DyldChainedPtr64Bind struct {
	Pointer uint64
	Fixup   uint64
	Import  string
}

func (d DyldChainedPtr64Bind) Ordinal() uint64 { return types.ExtractBits(d.Pointer, 0, 24) }
func (d DyldChainedPtr64Bind) Addend() uint64   { return types.ExtractBits(d.Pointer, 24, 8) }
func (d DyldChainedPtr64Bind) Next() uint64     { return types.ExtractBits(d.Pointer, 51, 12) }
func (d DyldChainedPtr64Bind) Offset() uint64   { return d.Fixup }
func (d DyldChainedPtr64Bind) String() string {
	return fmt.Sprintf("ordinal: %d, addend: %d, next: %d, import: %s", d.Ordinal(), d.Addend(), d.Next(), d.Import)
}

type DyldChainedPtr64KernelCacheRebase struct {
	Pointer uint64
	Fixup   uint64
}

func (d DyldChainedPtr64KernelCacheRebase) Target() uint64     { return types.ExtractBits(d.Pointer, 0, 30) }
func (d DyldChainedPtr64KernelCacheRebase) CacheLevel() uint64 { return types.ExtractBits(d.Pointer, 30, 2) }
func (d DyldChainedPtr64KernelCacheRebase) Diversity() uint64  { return types.ExtractBits(d.Pointer, 32, 16) }
func (d DyldChainedPtr64KernelCacheRebase) AddrDiv() uint64    { return types.ExtractBits(d.Pointer, 48, 1) }
func (d DyldChainedPtr64KernelCacheRebase) Key() uint64        { return types.ExtractBits(d.Pointer, 49, 2) }
func (d DyldChainedPtr64KernelCacheRebase) Next() uint64       { return types.ExtractBits(d.Pointer, 51, 12) }
func (d DyldChainedPtr64KernelCacheRebase) IsAuth() uint64     { return types.ExtractBits(d.Pointer, 63, 1) }
func (d DyldChainedPtr64KernelCacheRebase) Offset() uint64     { return d.Fixup }
func (d DyldChainedPtr64KernelCacheRebase) String() string {
	return fmt.Sprintf("offset: %#08x, cacheLevel: %d, next: %d, is_auth: %t", d.Target(), d.CacheLevel(), d.Next(), d.IsAuth() == 1)
}

type DyldChainedPtr32Rebase struct {
	Pointer uint32
	Fixup   uint64
}

func (d DyldChainedPtr32Rebase) Target() uint64  { return types.ExtractBits(uint64(d.Pointer), 0, 26) }
func (d DyldChainedPtr32Rebase) Next() uint64    { return types.ExtractBits(uint64(d.Pointer), 26, 5) }
func (d DyldChainedPtr32Rebase) Offset() uint64  { return d.Fixup }
func (d DyldChainedPtr32Rebase) String() string {
	return fmt.Sprintf("vmaddr: %#08x, next: %d", d.Target(), d.Next())
}

type DyldChainedPtr32Bind struct {
	Pointer uint32
	Fixup   uint64
	Import  string
}

func (d DyldChainedPtr32Bind) Ordinal() uint64 { return types.ExtractBits(uint64(d.Pointer), 0, 20) }
func (d DyldChainedPtr32Bind) Addend() uint64   { return types.ExtractBits(uint64(d.Pointer), 20, 6) }
func (d DyldChainedPtr32Bind) Next() uint64     { return types.ExtractBits(uint64(d.Pointer), 26, 5) }
func (d DyldChainedPtr32Bind) Offset() uint64   { return d.Fixup }
func (d DyldChainedPtr32Bind) String() string {
	return fmt.Sprintf("ordinal: %d, addend: %#x, next: %d, import: %s", d.Ordinal(), d.Addend(), d.Next(), d.Import)
}

type DyldChainedPtr32CacheRebase struct {
	Pointer uint32
	Fixup   uint64
}

func (d DyldChainedPtr32CacheRebase) Target() uint64 { return types.ExtractBits(uint64(d.Pointer), 0, 30) }
func (d DyldChainedPtr32CacheRebase) Next() uint64   { return types.ExtractBits(uint64(d.Pointer), 30, 2) }
func (d DyldChainedPtr32CacheRebase) Offset() uint64 { return d.Fixup }
func (d DyldChainedPtr32CacheRebase) String() string {
	return fmt.Sprintf("offset: %#08x, next: %d", d.Target(), d.Next())
}

type DyldChainedPtr32FirmwareRebase struct {
	Pointer uint32
	Fixup   uint64
}

func (d DyldChainedPtr32FirmwareRebase) Target() uint64 { return types.ExtractBits(uint64(d.Pointer), 0, 26) }
func (d DyldChainedPtr32FirmwareRebase) Next() uint64   { return types.ExtractBits(uint64(d.Pointer), 26, 6) }
func (d DyldChainedPtr32FirmwareRebase) Offset() uint64 { return d.Fixup }
func (d DyldChainedPtr32FirmwareRebase) String() string {
	return fmt.Sprintf("offset: %#08x, next: %d", d.Target(), d.Next())
}
