// Package datafile implements CuckooDB's on-disk data file format and
// the append-only manager that writes and recovers it: fixed-size
// headers, varint-encoded entries, and a footer carrying a hint
// section that lets recovery rebuild the index without scanning every
// entry in every file.
//
// Grounded on original_source/storage_engine/data_file_format.h and
// entry_format.h. CRC32 checksums use the IEEE polynomial via the
// standard library's hash/crc32, and varint fields use
// encoding/binary's Uvarint — the original's coding.h is a hand-rolled
// equivalent of exactly these two standard primitives, so no
// additional format library is pulled in for them (see DESIGN.md).
// Every fixed-width integer is little-endian, per the wire format.
package datafile

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/iamNilotpal/cuckoodb/pkg/errors"
)

// FileType tags a data file as awaiting compaction or already
// compacted. Compaction itself is not implemented; the tag is carried
// so the on-disk format already has a place for it.
type FileType uint32

const (
	FileTypeUnknown            FileType = 0x0
	FileTypeUncompactedRegular FileType = 0x1
	FileTypeCompactedRegular   FileType = 0x2
)

// HeaderFlag bits live in an EntryHeader's Flags field.
type HeaderFlag uint32

const (
	FlagDelete    HeaderFlag = 0x1
	FlagMerge     HeaderFlag = 0x2
	FlagEntryFull HeaderFlag = 0x4
)

// FileHeaderFixedSize is the size of a DataFileHeader's fixed fields.
// The header occupies HeaderSize bytes on disk; anything beyond the
// fixed fields is unused padding reserved for forward compatibility.
const FileHeaderFixedSize = 20

// FileHeader is the fixed record written at offset 0 of every data
// file.
type FileHeader struct {
	CRC32     uint32
	Version   uint32
	FileType  FileType
	Timestamp int64
}

// EncodeFileHeader serializes h into a HeaderSize-byte buffer, padding
// the tail with zeroes.
func EncodeFileHeader(h FileHeader, headerSize uint32) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.FileType))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(h.Timestamp))
	binary.LittleEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(buf[4:20]))
	return buf
}

// DecodeFileHeader parses a data file's header from buf, verifying its
// checksum.
func DecodeFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < FileHeaderFixedSize {
		return FileHeader{}, errors.NewStorageError(nil, errors.ErrorCodeHeaderReadFailure, "data file header shorter than fixed size")
	}

	h := FileHeader{
		CRC32:     binary.LittleEndian.Uint32(buf[0:4]),
		Version:   binary.LittleEndian.Uint32(buf[4:8]),
		FileType:  FileType(binary.LittleEndian.Uint32(buf[8:12])),
		Timestamp: int64(binary.LittleEndian.Uint64(buf[12:20])),
	}

	if got := crc32.ChecksumIEEE(buf[4:20]); got != h.CRC32 {
		return FileHeader{}, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "data file header checksum mismatch")
	}

	return h, nil
}

// FooterFixedSize is the on-disk size of a DataFileFooter.
const FooterFixedSize = 36

// Footer is written once a data file is sealed (rotated out or closed
// as the active file). OffsetHints points at the start of the hint
// section that immediately precedes the footer.
type Footer struct {
	FileType     FileType
	Flags        uint32
	OffsetHints  uint64
	NumEntries   uint64
	CRC32        uint32
}

// EncodeFooter serializes f into a fixed FooterFixedSize-byte buffer:
// the four fields in bytes [0,24), the CRC32 in bytes [24,28), and zero
// padding in [28,36). The CRC32 covers the hint section this footer
// trails followed by footer bytes [0,24), so hint corruption is caught
// the same as footer corruption; the CRC field and the padding are not
// covered. Callers pass the hint section's bytes (hintBuf) that
// immediately precede this footer on disk.
func EncodeFooter(f Footer, hintBuf []byte) []byte {
	buf := make([]byte, FooterFixedSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.FileType))
	binary.LittleEndian.PutUint32(buf[4:8], f.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], f.OffsetHints)
	binary.LittleEndian.PutUint64(buf[16:24], f.NumEntries)
	binary.LittleEndian.PutUint32(buf[24:28], footerCRC(hintBuf, buf[0:24]))
	return buf
}

// footerCRC computes the CRC32 that covers the hint section followed
// by the footer's own non-CRC fields (footer bytes [0,24)).
func footerCRC(hintBuf, footerFields []byte) uint32 {
	crc := crc32.NewIEEE()
	crc.Write(hintBuf)
	crc.Write(footerFields)
	return crc.Sum32()
}

// DecodeFooter parses a data file's trailing footer from buf without
// verifying its checksum: OffsetHints must be known before the hint
// section bytes it covers can be read back, so callers decode first
// and call VerifyFooterCRC once they have those bytes in hand.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) < FooterFixedSize {
		return Footer{}, errors.NewStorageError(nil, errors.ErrorCodeHeaderReadFailure, "data file footer shorter than fixed size")
	}

	f := Footer{
		FileType:    FileType(binary.LittleEndian.Uint32(buf[0:4])),
		Flags:       binary.LittleEndian.Uint32(buf[4:8]),
		OffsetHints: binary.LittleEndian.Uint64(buf[8:16]),
		NumEntries:  binary.LittleEndian.Uint64(buf[16:24]),
		CRC32:       binary.LittleEndian.Uint32(buf[24:28]),
	}

	return f, nil
}

// VerifyFooterCRC recomputes the footer's CRC32 over hintBuf — the
// hint section bytes at [offset_indexes, start of footer) — followed
// by the footer's own non-CRC fields (buf[0:24]), and compares it
// against the stored CRC32 (buf[24:28]).
func VerifyFooterCRC(buf []byte, hintBuf []byte) error {
	if len(buf) < FooterFixedSize {
		return errors.NewStorageError(nil, errors.ErrorCodeHeaderReadFailure, "data file footer shorter than fixed size")
	}

	want := binary.LittleEndian.Uint32(buf[24:28])
	if got := footerCRC(hintBuf, buf[0:24]); got != want {
		return errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "data file footer checksum mismatch")
	}

	return nil
}

// HintRecord is one varint-encoded (hashed_key, offset) pair in a data
// file's hint section, letting recovery rebuild the index for a
// sealed file without decoding every entry.
type HintRecord struct {
	HashedKey uint64
	Offset    uint64
}

// EncodeHintRecord appends h's varint encoding to buf and returns the
// result.
func EncodeHintRecord(buf []byte, h HintRecord) []byte {
	buf = binary.AppendUvarint(buf, h.HashedKey)
	buf = binary.AppendUvarint(buf, h.Offset)
	return buf
}

// DecodeHintRecord reads one HintRecord from the start of buf,
// returning it along with the number of bytes consumed.
func DecodeHintRecord(buf []byte) (HintRecord, int, error) {
	hashedKey, n1 := binary.Uvarint(buf)
	if n1 <= 0 {
		return HintRecord{}, 0, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "failed to decode hint record hashed key")
	}

	offset, n2 := binary.Uvarint(buf[n1:])
	if n2 <= 0 {
		return HintRecord{}, 0, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "failed to decode hint record offset")
	}

	return HintRecord{HashedKey: hashedKey, Offset: offset}, n1 + n2, nil
}

// EntryHeader precedes every entry's key and value bytes in a data
// file.
type EntryHeader struct {
	CRC32     uint32
	Flags     uint32
	Timestamp int64
	SizeKey   uint64
	SizeValue uint64
	Hash      uint64
}

// IsDelete reports whether the entry is a tombstone.
func (h EntryHeader) IsDelete() bool {
	return h.Flags&uint32(FlagDelete) != 0
}

// EncodeEntryHeader appends h's encoding to buf and returns the
// result. The CRC32 covers the key and value bytes that follow the
// header (computed by the caller and passed in via h.CRC32), not the
// header fields themselves — the original format checksums the
// payload, not its own length-prefix metadata.
func EncodeEntryHeader(buf []byte, h EntryHeader) []byte {
	start := len(buf)
	buf = append(buf, make([]byte, 4)...)
	buf = binary.AppendUvarint(buf, uint64(h.Flags))
	buf = binary.AppendUvarint(buf, uint64(h.Timestamp))
	buf = binary.AppendUvarint(buf, h.SizeKey)
	buf = binary.AppendUvarint(buf, h.SizeValue)
	buf = binary.LittleEndian.AppendUint64(buf, h.Hash)
	binary.LittleEndian.PutUint32(buf[start:start+4], h.CRC32)
	return buf
}

// DecodeEntryHeader reads one EntryHeader from the start of buf,
// returning it along with the number of bytes consumed.
func DecodeEntryHeader(buf []byte) (EntryHeader, int, error) {
	if len(buf) < 4 {
		return EntryHeader{}, 0, errors.NewStorageError(nil, errors.ErrorCodeHeaderReadFailure, "entry header shorter than crc32 field")
	}

	h := EntryHeader{CRC32: binary.LittleEndian.Uint32(buf[0:4])}
	pos := 4

	flags, n := binary.Uvarint(buf[pos:])
	if n <= 0 {
		return EntryHeader{}, 0, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "failed to decode entry flags")
	}
	h.Flags = uint32(flags)
	pos += n

	ts, n := binary.Uvarint(buf[pos:])
	if n <= 0 {
		return EntryHeader{}, 0, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "failed to decode entry timestamp")
	}
	h.Timestamp = int64(ts)
	pos += n

	sizeKey, n := binary.Uvarint(buf[pos:])
	if n <= 0 {
		return EntryHeader{}, 0, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "failed to decode entry key size")
	}
	h.SizeKey = sizeKey
	pos += n

	sizeValue, n := binary.Uvarint(buf[pos:])
	if n <= 0 {
		return EntryHeader{}, 0, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "failed to decode entry value size")
	}
	h.SizeValue = sizeValue
	pos += n

	if len(buf) < pos+8 {
		return EntryHeader{}, 0, errors.NewStorageError(nil, errors.ErrorCodeHeaderReadFailure, "entry header truncated before hash field")
	}
	h.Hash = binary.LittleEndian.Uint64(buf[pos : pos+8])
	pos += 8

	return h, pos, nil
}
