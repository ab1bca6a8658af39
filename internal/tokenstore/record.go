package tokenstore

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// recordVersion is bumped when the binary layout changes. Decoders reject
// versions they do not understand; the sweep deletes such records.
const recordVersion = 1

const flagBlacklisted = 0x01

// record is the stored state of one refresh token id.
//
// Layout (big-endian):
//
//	offset 0  version        uint8
//	offset 1  flags          uint8
//	offset 2  expiresAt      int64
//	offset 10 blacklistedAt  int64
//	offset 18 subject length uint16
//	offset 20 subject        bytes
//
// The flags byte sits at a fixed offset so the blacklist script can flip it
// without re-encoding the whole record.
type record struct {
	Blacklisted   bool
	ExpiresAt     int64
	BlacklistedAt int64
	SubjectID     string
}

func encodeRecord(rec *record) ([]byte, error) {
	if len(rec.SubjectID) > 0xFFFF {
		return nil, errors.New("subject id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(recordVersion)

	var flags byte
	if rec.Blacklisted {
		flags |= flagBlacklisted
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.BlacklistedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.SubjectID))); err != nil {
		return nil, err
	}
	buf.WriteString(rec.SubjectID)

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*record, error) {
	if len(data) < 20 {
		return nil, errors.New("record too short")
	}
	if data[0] != recordVersion {
		return nil, errors.New("unknown record version")
	}

	rec := &record{
		Blacklisted:   data[1]&flagBlacklisted != 0,
		ExpiresAt:     int64(binary.BigEndian.Uint64(data[2:10])),
		BlacklistedAt: int64(binary.BigEndian.Uint64(data[10:18])),
	}

	subjectLen := int(binary.BigEndian.Uint16(data[18:20]))
	if len(data) != 20+subjectLen {
		return nil, errors.New("record length mismatch")
	}
	rec.SubjectID = string(data[20 : 20+subjectLen])

	return rec, nil
}
