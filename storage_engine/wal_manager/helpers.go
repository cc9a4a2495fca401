package wal_manager

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

func newRecord(lsn uint64, payload []byte, compress bool) *WALRecord {
	r := &WALRecord{LSN: lsn, Data: payload}
	if compress {
		if packed := snappy.Encode(nil, payload); len(packed) < len(payload) {
			r.Data = packed
			r.Flags |= flagSnappy
		}
	}
	r.Sum = checksum(r.LSN, r.Flags, r.Data)
	return r
}

func (r *WALRecord) Encode() []byte {
	buf := make([]byte, RecordHeaderSize+len(r.Data))

	binary.BigEndian.PutUint64(buf[0:8], r.LSN)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(r.Data)))
	binary.BigEndian.PutUint32(buf[12:16], r.Sum)
	buf[16] = r.Flags
	copy(buf[RecordHeaderSize:], r.Data)

	return buf
}

func decodeHeader(header []byte) (lsn uint64, dataLen uint32, sum uint32, flags byte) {
	return binary.BigEndian.Uint64(header[0:8]),
		binary.BigEndian.Uint32(header[8:12]),
		binary.BigEndian.Uint32(header[12:16]),
		header[16]
}

func (r *WALRecord) Valid() bool {
	return checksum(r.LSN, r.Flags, r.Data) == r.Sum
}

// Payload returns the logical record bytes.
func (r *WALRecord) Payload() ([]byte, error) {
	if r.Flags&flagSnappy == 0 {
		return r.Data, nil
	}
	out, err := snappy.Decode(nil, r.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decompress record at LSN %d", r.LSN)
	}
	return out, nil
}

// checksum is xxhash32 over LSN, flags and stored data
func checksum(lsn uint64, flags byte, data []byte) uint32 {
	var head [9]byte
	binary.BigEndian.PutUint64(head[0:8], lsn)
	head[8] = flags

	h := xxhash.New32()
	h.Write(head[:])
	h.Write(data)
	return h.Sum32()
}
