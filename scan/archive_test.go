package scan

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, flags uint16) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.CreateHeader(&zip.FileHeader{
		Name:   "payload.txt",
		Flags:  flags,
		Method: zip.Store,
	})
	require.NoError(t, err)
	_, err = fw.Write([]byte("contents"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func rar4Block(blockType byte, flags uint16, extra []byte) []byte {
	head := make([]byte, 7)
	head[2] = blockType
	binary.LittleEndian.PutUint16(head[3:], flags)
	binary.LittleEndian.PutUint16(head[5:], uint16(7+len(extra)))
	return append(head, extra...)
}

func TestArchiveEncryptedZip(t *testing.T) {
	plain := Artifact{Kind: ArtifactFile, Filename: "a.zip", Content: buildZip(t, 0)}
	assert.False(t, ArchiveEncrypted(plain))

	encrypted := Artifact{Kind: ArtifactFile, Filename: "a.zip", Content: buildZip(t, 0x1)}
	assert.True(t, ArchiveEncrypted(encrypted))

	garbage := Artifact{Kind: ArtifactFile, Filename: "a.zip", Content: []byte("not a zip at all")}
	assert.False(t, ArchiveEncrypted(garbage))
}

func TestArchiveEncryptedRar4(t *testing.T) {
	encryptedHeaders := append(append([]byte{}, rar4Signature...),
		rar4Block(0x73, 0x0080, make([]byte, 6))...)
	assert.True(t, ArchiveEncrypted(Artifact{Kind: ArtifactFile, Filename: "a.rar", Content: encryptedHeaders}))

	passwordedFile := append(append([]byte{}, rar4Signature...),
		rar4Block(0x73, 0, make([]byte, 6))...)
	passwordedFile = append(passwordedFile, rar4Block(0x74, 0x0004, make([]byte, 25))...)
	assert.True(t, ArchiveEncrypted(Artifact{Kind: ArtifactFile, Filename: "a.rar", Content: passwordedFile}))

	plain := append(append([]byte{}, rar4Signature...),
		rar4Block(0x73, 0, make([]byte, 6))...)
	plain = append(plain, rar4Block(0x74, 0, make([]byte, 25))...)
	assert.False(t, ArchiveEncrypted(Artifact{Kind: ArtifactFile, Filename: "a.rar", Content: plain}))
}

func TestArchiveEncryptedRar5(t *testing.T) {
	// CRC32 (4 bytes) + header size vint + header type vint.
	encrypted := append(append([]byte{}, rar5Signature...), 0, 0, 0, 0, 0x0d, 0x04)
	assert.True(t, ArchiveEncrypted(Artifact{Kind: ArtifactFile, Filename: "a.rar", Content: encrypted}))

	mainHeader := append(append([]byte{}, rar5Signature...), 0, 0, 0, 0, 0x0d, 0x01)
	assert.False(t, ArchiveEncrypted(Artifact{Kind: ArtifactFile, Filename: "a.rar", Content: mainHeader}))
}

func TestArchiveEncryptedOtherContainers(t *testing.T) {
	// tar/gz/bz2 have no password concept; 7z is deliberately not inspected.
	for _, name := range []string{"a.tar", "a.gz", "a.bz2", "a.7z", "a.exe"} {
		assert.False(t, ArchiveEncrypted(Artifact{Kind: ArtifactFile, Filename: name, Content: []byte("xxxx")}), name)
	}
}
