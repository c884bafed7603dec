package datafile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestFileHeaderRoundTrip(t *testing.T) {
	h := FileHeader{Version: 1, FileType: FileTypeUncompactedRegular, Timestamp: 1234567890}
	buf := EncodeFileHeader(h, 64)
	require.Len(t, buf, 64)

	got, err := DecodeFileHeader(buf)
	require.NoError(t, err)
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("decoded header mismatch (-want +got):\n%s", diff)
	}
}

func TestFileHeaderDecodeDetectsCorruption(t *testing.T) {
	buf := EncodeFileHeader(FileHeader{Version: 1}, 32)
	buf[10] ^= 0xFF

	_, err := DecodeFileHeader(buf)
	require.Error(t, err)
}

func TestFooterRoundTrip(t *testing.T) {
	hintBuf := EncodeHintRecord(nil, HintRecord{HashedKey: 1, Offset: 2})
	f := Footer{FileType: FileTypeUncompactedRegular, OffsetHints: 4096, NumEntries: 7}
	buf := EncodeFooter(f, hintBuf)
	require.Len(t, buf, FooterFixedSize)

	got, err := DecodeFooter(buf)
	require.NoError(t, err)
	require.Equal(t, f.FileType, got.FileType)
	require.Equal(t, f.OffsetHints, got.OffsetHints)
	require.Equal(t, f.NumEntries, got.NumEntries)

	require.NoError(t, VerifyFooterCRC(buf, hintBuf))
}

func TestFooterVerifyCRCDetectsHintSectionCorruption(t *testing.T) {
	hintBuf := EncodeHintRecord(nil, HintRecord{HashedKey: 1, Offset: 2})
	f := Footer{FileType: FileTypeUncompactedRegular, OffsetHints: 4096, NumEntries: 7}
	buf := EncodeFooter(f, hintBuf)

	corrupted := append([]byte{}, hintBuf...)
	corrupted[0] ^= 0xFF

	err := VerifyFooterCRC(buf, corrupted)
	require.Error(t, err, "corruption in the hint section must be caught, not just the footer's own bytes")
}

func TestHintRecordRoundTrip(t *testing.T) {
	h := HintRecord{HashedKey: 0xdeadbeefcafebabe, Offset: 987654321}
	buf := EncodeHintRecord(nil, h)

	got, n, err := DecodeHintRecord(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("decoded hint record mismatch (-want +got):\n%s", diff)
	}
}

func TestEntryHeaderRoundTrip(t *testing.T) {
	h := EntryHeader{
		CRC32:     0x1a2b3c4d,
		Flags:     uint32(FlagDelete),
		Timestamp: 1700000000,
		SizeKey:   3,
		SizeValue: 5,
		Hash:      0x0102030405060708,
	}
	buf := EncodeEntryHeader(nil, h)

	got, n, err := DecodeEntryHeader(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("decoded entry header mismatch (-want +got):\n%s", diff)
	}
	require.True(t, got.IsDelete())
}

func TestEntryHeaderIsDeleteFalseWhenFlagUnset(t *testing.T) {
	h := EntryHeader{Flags: 0}
	require.False(t, h.IsDelete())
}
