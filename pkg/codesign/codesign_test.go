package codesign

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/binaryinspect/machofmt/pkg/codesign/types"
	"github.com/binaryinspect/machofmt/pkg/machoerr"
)

// buildSuperBlob encodes a SuperBlob header followed by its BlobIndex
// entries, the same layout ParseCodeSignature reads back.
func buildSuperBlob(indexes []types.BlobIndex) *bytes.Buffer {
	buf := new(bytes.Buffer)
	sb := types.SuperBlob{
		Magic: types.MAGIC_EMBEDDED_SIGNATURE,
		Count: uint32(len(indexes)),
	}
	if err := binary.Write(buf, binary.BigEndian, sb); err != nil {
		panic(err)
	}
	for _, idx := range indexes {
		if err := binary.Write(buf, binary.BigEndian, idx); err != nil {
			panic(err)
		}
	}
	return buf
}

func TestParseCodeSignatureEntitlementsTruncatedBlobRejected(t *testing.T) {
	buf := buildSuperBlob([]types.BlobIndex{
		{Type: types.CSSLOT_ENTITLEMENTS, Offset: 20},
	})
	// A blob whose declared Length is smaller than its own 8-byte header:
	// ParseCodeSignature must reject this instead of panicking on a
	// negative-length make([]byte, ...).
	if err := binary.Write(buf, binary.BigEndian, types.Blob{Magic: types.MAGIC_EMBEDDED_ENTITLEMENTS, Length: 4}); err != nil {
		t.Fatal(err)
	}

	_, err := ParseCodeSignature(buf.Bytes())
	if err == nil {
		t.Fatal("ParseCodeSignature succeeded on truncated entitlements blob, want error")
	}
	if kind, ok := machoerr.KindOf(err); !ok || kind != machoerr.TruncatedBlob {
		t.Fatalf("error kind = %v (ok=%v), want TruncatedBlob", kind, ok)
	}
}

func TestParseCodeSignatureCMSSignatureTruncatedBlobRejected(t *testing.T) {
	buf := buildSuperBlob([]types.BlobIndex{
		{Type: types.CSSLOT_CMS_SIGNATURE, Offset: 20},
	})
	if err := binary.Write(buf, binary.BigEndian, types.Blob{Magic: types.MAGIC_BLOBWRAPPER, Length: 0}); err != nil {
		t.Fatal(err)
	}

	_, err := ParseCodeSignature(buf.Bytes())
	if err == nil {
		t.Fatal("ParseCodeSignature succeeded on truncated CMS blob, want error")
	}
	if kind, ok := machoerr.KindOf(err); !ok || kind != machoerr.TruncatedBlob {
		t.Fatalf("error kind = %v (ok=%v), want TruncatedBlob", kind, ok)
	}
}

func TestParseCodeSignatureEntitlementsDERTruncatedBlobRejected(t *testing.T) {
	buf := buildSuperBlob([]types.BlobIndex{
		{Type: types.CSSLOT_ENTITLEMENTS_DER, Offset: 20},
	})
	if err := binary.Write(buf, binary.BigEndian, types.Blob{Magic: types.MAGIC_EMBEDDED_ENTITLEMENTS_DER, Length: 7}); err != nil {
		t.Fatal(err)
	}

	_, err := ParseCodeSignature(buf.Bytes())
	if err == nil {
		t.Fatal("ParseCodeSignature succeeded on truncated entitlements DER blob, want error")
	}
	if kind, ok := machoerr.KindOf(err); !ok || kind != machoerr.TruncatedBlob {
		t.Fatalf("error kind = %v (ok=%v), want TruncatedBlob", kind, ok)
	}
}

func TestParseCodeSignatureCodeDirectory(t *testing.T) {
	const codeDirOffset = 20
	headerSize := binary.Size(types.CodeDirectoryType{})
	id := "com.example.test\x00"
	identOffset := uint32(headerSize)
	hashOffset := identOffset + uint32(len(id))
	const hashSize = 20 // SHA1

	header := types.CodeDirectoryType{
		Magic:         types.MAGIC_CODEDIRECTORY,
		Version:       types.EARLIEST_VERSION,
		HashOffset:    hashOffset,
		IdentOffset:   identOffset,
		NSpecialSlots: 0,
		NCodeSlots:    1,
		CodeLimit:     4096,
		HashSize:      hashSize,
		HashType:      types.HASHTYPE_SHA1,
		PageSize:      12, // log2(4096)
	}
	header.Length = hashOffset + hashSize

	buf := buildSuperBlob([]types.BlobIndex{
		{Type: types.CSSLOT_CODEDIRECTORY, Offset: codeDirOffset},
	})
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		t.Fatal(err)
	}
	buf.WriteString(id)
	buf.Write(make([]byte, hashSize))

	cs, err := ParseCodeSignature(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseCodeSignature: %v", err)
	}
	if len(cs.CodeDirectories) != 1 {
		t.Fatalf("len(CodeDirectories) = %d, want 1", len(cs.CodeDirectories))
	}
	cd := cs.CodeDirectories[0]
	if cd.ID != "com.example.test" {
		t.Errorf("ID = %q, want com.example.test", cd.ID)
	}
	if len(cd.CodeSlots) != 1 {
		t.Fatalf("len(CodeSlots) = %d, want 1", len(cd.CodeSlots))
	}
	if cd.CDHash == "" {
		t.Error("CDHash is empty, want a computed SHA1 hash")
	}
}

func TestParseCodeSignatureRequirementsEmptySet(t *testing.T) {
	buf := buildSuperBlob([]types.BlobIndex{
		{Type: types.CSSLOT_REQUIREMENTS, Offset: 20},
	})
	if err := binary.Write(buf, binary.BigEndian, types.RequirementsBlob{Magic: types.MAGIC_REQUIREMENTS, Length: uint32(binary.Size(types.RequirementsBlob{}))}); err != nil {
		t.Fatal(err)
	}

	cs, err := ParseCodeSignature(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseCodeSignature: %v", err)
	}
	if len(cs.Requirements) != 1 {
		t.Fatalf("len(Requirements) = %d, want 1", len(cs.Requirements))
	}
	if cs.Requirements[0].Detail != "empty requirement set" {
		t.Errorf("Detail = %q, want %q", cs.Requirements[0].Detail, "empty requirement set")
	}
}
