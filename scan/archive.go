package scan

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
)

// ArchiveEncrypted reports whether a compressed artifact is password
// protected, from container headers only. The point is to reject these
// before spending scan quota: the scanning service cannot see inside them
// anyway. Nothing is ever extracted.
//
// Detection is best effort by container:
//   - zip: per-entry encryption flag bit
//   - rar4/rar5: archive and file header flags
//   - 7z: not inspectable without decoding the header codec, left to the
//     scanning service
//   - tar/gz/bz2: the formats have no password concept
func ArchiveEncrypted(a Artifact) bool {
	switch a.Ext() {
	case ".zip":
		return zipEncrypted(a.Content)
	case ".rar":
		return rarEncrypted(a.Content)
	default:
		return false
	}
}

func zipEncrypted(content []byte) bool {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return false
	}
	for _, f := range r.File {
		// General purpose bit 0 marks an encrypted entry.
		if f.Flags&0x1 != 0 {
			return true
		}
	}
	return false
}

var (
	rar4Signature = []byte("Rar!\x1a\x07\x00")
	rar5Signature = []byte("Rar!\x1a\x07\x01\x00")
)

func rarEncrypted(content []byte) bool {
	switch {
	case bytes.HasPrefix(content, rar5Signature):
		return rar5Encrypted(content[len(rar5Signature):])
	case bytes.HasPrefix(content, rar4Signature):
		return rar4Encrypted(content[len(rar4Signature):])
	}
	return false
}

// rar4Encrypted walks v4 block headers: crc u16, type u8, flags u16,
// size u16. Flag 0x0080 on the main header means encrypted headers; flag
// 0x0004 on a file header means the file itself needs a password.
func rar4Encrypted(blocks []byte) bool {
	const maxBlocks = 64
	offset := 0
	for i := 0; i < maxBlocks; i++ {
		if offset+7 > len(blocks) {
			return false
		}
		blockType := blocks[offset+2]
		flags := binary.LittleEndian.Uint16(blocks[offset+3:])
		headSize := int(binary.LittleEndian.Uint16(blocks[offset+5:]))
		if headSize < 7 {
			return false
		}

		switch blockType {
		case 0x73: // main header
			if flags&0x0080 != 0 {
				return true
			}
		case 0x74: // file header
			if flags&0x0004 != 0 {
				return true
			}
		}

		skip := headSize
		// ADD_SIZE blocks (file data follows the header) carry the data
		// length as a u32 right after the fixed fields.
		if flags&0x8000 != 0 && offset+11 <= len(blocks) {
			skip += int(binary.LittleEndian.Uint32(blocks[offset+7:]))
		}
		offset += skip
	}
	return false
}

// rar5Encrypted looks at the first vint-encoded header after the signature;
// header type 4 is the archive encryption header, meaning everything beyond
// it is ciphertext.
func rar5Encrypted(blocks []byte) bool {
	offset := 4 // skip the header CRC32
	if offset >= len(blocks) {
		return false
	}
	_, n := readVint(blocks[offset:])
	if n == 0 {
		return false
	}
	offset += n // header size
	headerType, n := readVint(blocks[offset:])
	if n == 0 {
		return false
	}
	return headerType == 4
}

// readVint decodes RAR5's variable-length integer: 7 bits per byte, high bit
// set while more bytes follow. Returns the value and bytes consumed, or 0
// consumed on a truncated input.
func readVint(b []byte) (uint64, int) {
	var v uint64
	for i := 0; i < len(b) && i < 10; i++ {
		v |= uint64(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}
