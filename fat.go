package macho

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/binaryinspect/machofmt/internal/cursor"
	"github.com/binaryinspect/machofmt/types"
)

// ErrNotFat is returned from NewFatFile or OpenFat when the file is not a
// universal (fat) binary but may still be a valid Mach-O file.
var ErrNotFat = &FormatError{0, "not a fat Mach-O file", nil}

// FatArch is a Mach-O File for one architecture plus the header describing
// where that slice lives within the containing fat binary.
type FatArch struct {
	types.FatArchHeader
	*File
}

// FatFile represents an Apple universal binary that contains Mach-O files
// for multiple architectures.
type FatFile struct {
	Magic  types.Magic
	Arches []FatArch
	closer io.Closer
}

// OpenFat opens the named file using os.Open and prepares it for use as a
// Mach-O universal binary.
func OpenFat(name string) (*FatFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	ff, err := NewFatFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ff.closer = f
	return ff, nil
}

// Close closes the FatFile.
// If the FatFile was created using NewFatFile directly instead of OpenFat,
// Close has no effect.
func (ff *FatFile) Close() error {
	var err error
	if ff.closer != nil {
		err = ff.closer.Close()
		ff.closer = nil
	}
	return err
}

// NewFatFile creates a new FatFile for accessing all the Mach-O images in a
// universal binary. The Mach-O binary is expected to start at position 0 in
// the ReaderAt, and its bounding size is neither known nor checked.
func NewFatFile(r io.ReaderAt) (*FatFile, error) {
	var ff FatFile

	var magicBytes [4]byte
	if _, err := r.ReadAt(magicBytes[:], 0); err != nil {
		return nil, err
	}
	magic := types.Magic(binary.BigEndian.Uint32(magicBytes[:]))
	ff.Magic = magic

	if !magic.IsFat() {
		return nil, ErrNotFat
	}

	// The canonical FAT_MAGIC/FAT_MAGIC_64 headers are big-endian; the rare
	// byte-swapped variants carry every subsequent field little-endian.
	bo := byteOrderFor(magic)

	// Following the fat_header comes narch fat_arch structs; with
	// MagicFat64 (or its swapped form) each entry additionally carries a
	// reserved 32-bit word.
	is64 := magic == types.MagicFat64 || magic == types.MagicFat64Swapped
	archHeaderSize := 20 // cputype, cpusubtype, offset, size, align
	if is64 {
		archHeaderSize += 4 // + reserved
	}

	// Read the fat_header struct, skipping the four magic bytes already
	// consumed above, through a bounds-checked Cursor.
	hdrBuf := make([]byte, 8)
	if _, err := r.ReadAt(hdrBuf, 0); err != nil {
		return nil, err
	}
	hdrCur := cursor.New(hdrBuf)
	if err := hdrCur.Seek(4); err != nil {
		return nil, &FormatError{0, "invalid fat_header", nil}
	}
	narch, err := hdrCur.ReadU32(bo)
	if err != nil {
		return nil, &FormatError{0, "invalid fat_header", nil}
	}
	fh := types.FatHeader{NArch: narch}

	if fh.NArch < 1 {
		return nil, &FormatError{4, "file contains no images", nil}
	}

	archBuf := make([]byte, int(fh.NArch)*archHeaderSize)
	if _, err := r.ReadAt(archBuf, 8); err != nil {
		return nil, &FormatError{8, "invalid fat_arch table", nil}
	}
	archCur := cursor.New(archBuf)

	offset := int64(4 + 4) // magic + nfat_arch
	ff.Arches = make([]FatArch, fh.NArch)
	for i := uint32(0); i < fh.NArch; i++ {
		fa := &ff.Arches[i].FatArchHeader

		cpu, err := archCur.ReadU32(bo)
		if err != nil {
			return nil, &FormatError{offset, "invalid fat_arch", nil}
		}
		subCpu, err := archCur.ReadU32(bo)
		if err != nil {
			return nil, &FormatError{offset, "invalid fat_arch", nil}
		}
		if is64 {
			off64, err := archCur.ReadU64(bo)
			if err != nil {
				return nil, &FormatError{offset, "invalid fat_arch_64", nil}
			}
			size64, err := archCur.ReadU64(bo)
			if err != nil {
				return nil, &FormatError{offset, "invalid fat_arch_64", nil}
			}
			align, err := archCur.ReadU32(bo)
			if err != nil {
				return nil, &FormatError{offset, "invalid fat_arch_64", nil}
			}
			if _, err := archCur.ReadU32(bo); err != nil { // reserved
				return nil, &FormatError{offset, "invalid fat_arch_64", nil}
			}
			fa.Offset = off64
			fa.Size = size64
			fa.Align = align
		} else {
			off32, err := archCur.ReadU32(bo)
			if err != nil {
				return nil, &FormatError{offset, "invalid fat_arch", nil}
			}
			size32, err := archCur.ReadU32(bo)
			if err != nil {
				return nil, &FormatError{offset, "invalid fat_arch", nil}
			}
			align, err := archCur.ReadU32(bo)
			if err != nil {
				return nil, &FormatError{offset, "invalid fat_arch", nil}
			}
			fa.Offset = uint64(off32)
			fa.Size = uint64(size32)
			fa.Align = align
		}
		fa.CPU = types.CPU(cpu)
		fa.SubCPU = types.CPUSubtype(subCpu)

		if fa.Offset+fa.Size < fa.Offset {
			return nil, &FormatError{offset, "invalid fat_arch: overflowing slice bounds", nil}
		}
		for j := uint32(0); j < i; j++ {
			prev := ff.Arches[j].FatArchHeader
			if rangesOverlap(prev.Offset, prev.Size, fa.Offset, fa.Size) {
				return nil, &FormatError{offset, fmt.Sprintf("invalid fat_arch: slice %d overlaps slice %d", i, j), nil}
			}
		}

		fr := io.NewSectionReader(r, int64(fa.Offset), int64(fa.Size))
		arch, err := NewFile(fr)
		if err != nil {
			return nil, err
		}
		ff.Arches[i].File = arch

		offset += int64(archHeaderSize)
	}

	return &ff, nil
}

// byteOrderFor returns the byte order fat_header and fat_arch records are
// encoded in for the given fat magic: big-endian for the canonical
// FAT_MAGIC/FAT_MAGIC_64, little-endian for their byte-swapped forms.
func byteOrderFor(magic types.Magic) binary.ByteOrder {
	if magic.IsSwapped() {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func rangesOverlap(off1, size1, off2, size2 uint64) bool {
	end1 := off1 + size1
	end2 := off2 + size2
	return off1 < end2 && off2 < end1
}
