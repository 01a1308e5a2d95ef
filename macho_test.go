package macho

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/binaryinspect/machofmt/types"
)

type fatArchFixture struct {
	cpu, subCPU  uint32
	offset, size uint32
	align        uint32
}

// buildFatFile assembles a big-endian fat_header plus one 32-bit fat_arch
// entry per fixture, followed by the given slice payloads placed at their
// declared offsets.
func buildFatFile(arches []fatArchFixture, slices [][]byte) []byte {
	bo := binary.BigEndian
	buf := new(bytes.Buffer)
	binary.Write(buf, bo, uint32(types.MagicFat))
	binary.Write(buf, bo, uint32(len(arches)))
	for _, a := range arches {
		binary.Write(buf, bo, a.cpu)
		binary.Write(buf, bo, a.subCPU)
		binary.Write(buf, bo, a.offset)
		binary.Write(buf, bo, a.size)
		binary.Write(buf, bo, a.align)
	}
	out := buf.Bytes()
	for i, s := range slices {
		off := int(arches[i].offset)
		if need := off + len(s); need > len(out) {
			out = append(out, make([]byte, need-len(out))...)
		}
		copy(out[off:], s)
	}
	return out
}

func TestNewFatFileTwoSlices(t *testing.T) {
	slice0 := buildMachO64(types.Magic64, nil)
	slice1 := buildMachO64(types.Magic64, nil)
	arches := []fatArchFixture{
		{cpu: uint32(types.CPUAmd64), subCPU: 3, offset: 0x1000, size: uint32(len(slice0)), align: 12},
		{cpu: uint32(types.CPUArm64), subCPU: 0, offset: 0x2000, size: uint32(len(slice1)), align: 12},
	}
	data := buildFatFile(arches, [][]byte{slice0, slice1})

	ff, err := NewFatFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewFatFile: %v", err)
	}
	if ff.Magic != types.MagicFat {
		t.Errorf("Magic = %#x, want MagicFat", uint32(ff.Magic))
	}
	if len(ff.Arches) != 2 {
		t.Fatalf("len(Arches) = %d, want 2", len(ff.Arches))
	}
	if ff.Arches[0].CPU != types.CPUAmd64 {
		t.Errorf("Arches[0].CPU = %v, want CPUAmd64", ff.Arches[0].CPU)
	}
	if ff.Arches[1].CPU != types.CPUArm64 {
		t.Errorf("Arches[1].CPU = %v, want CPUArm64", ff.Arches[1].CPU)
	}
	if ff.Arches[0].File == nil || ff.Arches[1].File == nil {
		t.Fatal("expected both slices to decode into a *File")
	}
}

func TestNewFatFileOverlappingSlicesRejected(t *testing.T) {
	slice0 := buildMachO64(types.Magic64, nil)
	arches := []fatArchFixture{
		{cpu: uint32(types.CPUAmd64), subCPU: 3, offset: 0x1000, size: uint32(len(slice0)), align: 12},
		{cpu: uint32(types.CPUArm64), subCPU: 0, offset: 0x1000 + uint32(len(slice0)) - 4, size: uint32(len(slice0)), align: 12},
	}
	data := buildFatFile(arches, [][]byte{slice0, slice0})

	if _, err := NewFatFile(bytes.NewReader(data)); err == nil {
		t.Fatal("NewFatFile succeeded on overlapping slices, want error")
	}
}

func TestNewFatFileNotFat(t *testing.T) {
	data := buildMachO64(types.Magic64, nil)
	if _, err := NewFatFile(bytes.NewReader(data)); err != ErrNotFat {
		t.Fatalf("NewFatFile error = %v, want ErrNotFat", err)
	}
}

func TestNewFatFileEmptyArches(t *testing.T) {
	data := buildFatFile(nil, nil)
	if _, err := NewFatFile(bytes.NewReader(data)); err == nil {
		t.Fatal("NewFatFile succeeded with zero archs, want error")
	}
}

// buildSwappedFatFile assembles a little-endian fat_header plus one 32-bit
// fat_arch entry per fixture, mirroring buildFatFile but for the rare
// byte-swapped fat magic.
func buildSwappedFatFile(arches []fatArchFixture, slices [][]byte) []byte {
	bo := binary.LittleEndian
	buf := new(bytes.Buffer)
	binary.Write(buf, bo, uint32(types.MagicFat))
	binary.Write(buf, bo, uint32(len(arches)))
	for _, a := range arches {
		binary.Write(buf, bo, a.cpu)
		binary.Write(buf, bo, a.subCPU)
		binary.Write(buf, bo, a.offset)
		binary.Write(buf, bo, a.size)
		binary.Write(buf, bo, a.align)
	}
	out := buf.Bytes()
	for i, s := range slices {
		off := int(arches[i].offset)
		if need := off + len(s); need > len(out) {
			out = append(out, make([]byte, need-len(out))...)
		}
		copy(out[off:], s)
	}
	return out
}

func TestNewFatFileSwappedEndian(t *testing.T) {
	slice0 := buildMachO64(types.Magic64, nil)
	arches := []fatArchFixture{
		{cpu: uint32(types.CPUArm64), subCPU: 0, offset: 0x1000, size: uint32(len(slice0)), align: 12},
	}
	data := buildSwappedFatFile(arches, [][]byte{slice0})

	ff, err := NewFatFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewFatFile: %v", err)
	}
	if ff.Magic != types.MagicFatSwapped {
		t.Errorf("Magic = %#x, want MagicFatSwapped", uint32(ff.Magic))
	}
	if len(ff.Arches) != 1 {
		t.Fatalf("len(Arches) = %d, want 1", len(ff.Arches))
	}
	if ff.Arches[0].CPU != types.CPUArm64 {
		t.Errorf("Arches[0].CPU = %v, want CPUArm64", ff.Arches[0].CPU)
	}
	if ff.Arches[0].File == nil {
		t.Fatal("expected slice to decode into a *File")
	}
}
