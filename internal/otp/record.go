package otp

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const recordVersion = 1

// Layout (big-endian): version(1) attempts(2) resends(1) expiresAt(8)
// codeHash(32).
const recordSize = 1 + 2 + 1 + 8 + 32

func encodeRecord(rec *Record) []byte {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion)
	binary.Write(&buf, binary.BigEndian, rec.Attempts)
	buf.WriteByte(rec.Resends)
	binary.Write(&buf, binary.BigEndian, rec.ExpiresAt)
	buf.Write(rec.CodeHash[:])
	return buf.Bytes()
}

func decodeRecord(data []byte) (*Record, error) {
	if len(data) != recordSize {
		return nil, errors.New("challenge record length mismatch")
	}
	if data[0] != recordVersion {
		return nil, errors.New("unknown challenge record version")
	}

	rec := &Record{
		Attempts:  binary.BigEndian.Uint16(data[1:3]),
		Resends:   data[3],
		ExpiresAt: int64(binary.BigEndian.Uint64(data[4:12])),
	}
	copy(rec.CodeHash[:], data[12:44])
	return rec, nil
}
