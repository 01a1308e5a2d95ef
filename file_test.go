package macho

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/binaryinspect/machofmt/types"
)

// buildSegment64 encodes one LC_SEGMENT_64 load command, including its
// trailing Section64 records, the same way the decoder reads it back: a
// flat binary.Write of the command struct followed by one binary.Write per
// section, with Len set to the record's total encoded size.
func buildSegment64(bo binary.ByteOrder, seg types.Segment64, secs []types.Section64) []byte {
	seg.Nsect = uint32(len(secs))
	sz := binary.Size(seg)
	for _, s := range secs {
		sz += binary.Size(s)
	}
	seg.Len = uint32(sz)

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, bo, seg); err != nil {
		panic(err)
	}
	for _, s := range secs {
		if err := binary.Write(buf, bo, s); err != nil {
			panic(err)
		}
	}
	return buf.Bytes()
}

func segName(s string) (name [16]byte) {
	copy(name[:], s)
	return
}

// buildMachO64 assembles a minimal little-endian 64-bit Mach-O image: a
// file header followed by the given already-encoded load commands.
func buildMachO64(magic types.Magic, cmds [][]byte) []byte {
	bo := binary.LittleEndian
	var sizeCommands uint32
	for _, c := range cmds {
		sizeCommands += uint32(len(c))
	}
	hdr := types.FileHeader{
		Magic:        magic,
		CPU:          types.CPUAmd64,
		SubCPU:       0x3,
		Type:         types.MH_EXECUTE,
		NCommands:    uint32(len(cmds)),
		SizeCommands: sizeCommands,
		Flags:        0,
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, bo, hdr); err != nil {
		panic(err)
	}
	for _, c := range cmds {
		buf.Write(c)
	}
	return buf.Bytes()
}

func TestNewFileHeaderOnly(t *testing.T) {
	data := buildMachO64(types.Magic64, nil)
	f, err := NewFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if f.Magic != types.Magic64 {
		t.Errorf("Magic = %#x, want %#x", uint32(f.Magic), uint32(types.Magic64))
	}
	if f.CPU != types.CPUAmd64 {
		t.Errorf("CPU = %v, want CPUAmd64", f.CPU)
	}
	if len(f.Loads) != 0 {
		t.Errorf("len(Loads) = %d, want 0", len(f.Loads))
	}
}

func TestNewFileSegmentAndSection(t *testing.T) {
	bo := binary.LittleEndian
	sec := types.Section64{
		Name:   segName("__text"),
		Seg:    segName("__TEXT"),
		Addr:   0x1000,
		Size:   0x20,
		Offset: 0x1000,
		Align:  4,
		Flags:  types.SRegular,
	}
	seg := types.Segment64{
		LoadCmd: types.LC_SEGMENT_64,
		Name:    segName("__TEXT"),
		Addr:    0x1000,
		Memsz:   0x1000,
		Offset:  0x1000,
		Filesz:  0x1000,
		Maxprot: 7,
		Prot:    5,
	}
	cmd := buildSegment64(bo, seg, []types.Section64{sec})
	data := buildMachO64(types.Magic64, [][]byte{cmd})
	// Pad the backing buffer out to the section's declared extent so the
	// offset+size bounds check doesn't reject an otherwise valid fixture.
	if need := int(sec.Offset + sec.Size); need > len(data) {
		data = append(data, make([]byte, need-len(data))...)
	}

	f, err := NewFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if len(f.Loads) != 1 {
		t.Fatalf("len(Loads) = %d, want 1", len(f.Loads))
	}
	s, ok := f.Loads[0].(*Segment)
	if !ok {
		t.Fatalf("Loads[0] is %T, want *Segment", f.Loads[0])
	}
	if s.Name != "__TEXT" {
		t.Errorf("Segment.Name = %q, want __TEXT", s.Name)
	}
	if s.Nsect != 1 {
		t.Errorf("Segment.Nsect = %d, want 1", s.Nsect)
	}
	if len(f.Sections) != 1 {
		t.Fatalf("len(Sections) = %d, want 1", len(f.Sections))
	}
	if f.Sections[0].Name != "__text" || f.Sections[0].Seg != "__TEXT" {
		t.Errorf("Sections[0] = %q/%q, want __text/__TEXT", f.Sections[0].Seg, f.Sections[0].Name)
	}
	if f.Sections[0].Size != 0x20 {
		t.Errorf("Sections[0].Size = %#x, want 0x20", f.Sections[0].Size)
	}
}

func TestNewFileSectionOutOfBoundsRejected(t *testing.T) {
	bo := binary.LittleEndian
	sec := types.Section64{
		Name:   segName("__text"),
		Seg:    segName("__TEXT"),
		Addr:   0x1000,
		Size:   0x20,
		Offset: 0x1000,
		Align:  4,
		Flags:  types.SRegular,
	}
	seg := types.Segment64{
		LoadCmd: types.LC_SEGMENT_64,
		Name:    segName("__TEXT"),
		Addr:    0x1000,
		Memsz:   0x1000,
		Offset:  0x1000,
		Filesz:  0x1000,
		Maxprot: 7,
		Prot:    5,
	}
	cmd := buildSegment64(bo, seg, []types.Section64{sec})
	data := buildMachO64(types.Magic64, [][]byte{cmd})
	// Unlike TestNewFileSegmentAndSection, the backing buffer is left
	// short of the section's declared offset+size: the decoder must
	// reject this instead of silently returning a truncated read.

	if _, err := NewFile(bytes.NewReader(data)); err == nil {
		t.Fatal("NewFile succeeded with section offset+size past the end of the file, want error")
	}
}

func TestNewFileZerofillSectionSkipsBoundsCheck(t *testing.T) {
	bo := binary.LittleEndian
	sec := types.Section64{
		Name:   segName("__bss"),
		Seg:    segName("__DATA"),
		Addr:   0x2000,
		Size:   0x100000, // far past the end of the file, as real __bss sections are
		Offset: 0,
		Align:  4,
		Flags:  types.SZerofill,
	}
	seg := types.Segment64{
		LoadCmd: types.LC_SEGMENT_64,
		Name:    segName("__DATA"),
		Addr:    0x2000,
		Memsz:   0x100000,
		Offset:  0,
		Filesz:  0,
		Maxprot: 7,
		Prot:    3,
	}
	cmd := buildSegment64(bo, seg, []types.Section64{sec})
	data := buildMachO64(types.Magic64, [][]byte{cmd})

	f, err := NewFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if len(f.Sections) != 1 {
		t.Fatalf("len(Sections) = %d, want 1", len(f.Sections))
	}
}

func TestNewFileBadMagic(t *testing.T) {
	data := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	if _, err := NewFile(bytes.NewReader(data)); err == nil {
		t.Fatal("NewFile succeeded on bad magic, want error")
	} else if fe, ok := err.(*FormatError); !ok {
		t.Fatalf("error is %T, want *FormatError (got: %v)", err, err)
	} else if fe.msg == "" {
		t.Fatal("FormatError has empty message")
	}
}

func TestNewFileTruncatedHeader(t *testing.T) {
	full := buildMachO64(types.Magic64, nil)
	truncated := full[:len(full)-4]
	if _, err := NewFile(bytes.NewReader(truncated)); err == nil {
		t.Fatal("NewFile succeeded on truncated header, want error")
	}
}

func TestNewFileTruncatedCommandBlock(t *testing.T) {
	bo := binary.LittleEndian
	seg := types.Segment64{LoadCmd: types.LC_SEGMENT_64, Name: segName("__TEXT")}
	cmd := buildSegment64(bo, seg, nil)
	data := buildMachO64(types.Magic64, [][]byte{cmd})
	// Lie about SizeCommands by truncating the tail without updating the
	// header, so the command-block read runs off the end of the file.
	truncated := data[:len(data)-8]
	if _, err := NewFile(bytes.NewReader(truncated)); err == nil {
		t.Fatal("NewFile succeeded on truncated command block, want error")
	}
}
