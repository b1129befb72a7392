package event

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
)

// EncodeSignedPortion serializes the fields that feed base_hash and the
// creator's signature. This is deliberately distinct from the full wire
// record (which also carries creator_seq, other_id/seq and the signature
// itself) - those are framing metadata, not part of the hashed payload.
func EncodeSignedPortion(e *Event) []byte {
	var buf bytes.Buffer

	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(e.CreatorID))
	buf.Write(tmp[:])

	if e.HasSelfParent {
		buf.WriteByte(1)
		buf.Write(e.SelfParent[:])
	} else {
		buf.WriteByte(0)
	}

	if e.HasOtherParent {
		buf.WriteByte(1)
		buf.Write(e.OtherParent[:])
	} else {
		buf.WriteByte(0)
	}

	binary.BigEndian.PutUint64(tmp[:], uint64(e.SelfParentGen))
	buf.Write(tmp[:])
	binary.BigEndian.PutUint64(tmp[:], uint64(e.OtherParentGen))
	buf.Write(tmp[:])

	binary.BigEndian.PutUint64(tmp[:], uint64(e.TimeCreated.Unix()))
	buf.Write(tmp[:])
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], uint32(e.TimeCreated.Nanosecond()))
	buf.Write(tmp4[:])

	binary.BigEndian.PutUint32(tmp4[:], uint32(len(e.Transactions)))
	buf.Write(tmp4[:])

	for _, tx := range e.Transactions {
		encodeTransaction(&buf, tx)
	}

	return buf.Bytes()
}

func encodeTransaction(buf *bytes.Buffer, tx Transaction) {
	var flags byte
	if tx.System {
		flags |= 1
	}
	buf.WriteByte(flags)

	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], uint32(len(tx.Payload)))
	buf.Write(tmp4[:])
	buf.Write(tx.Payload)

	if tx.System {
		buf.WriteByte(byte(tx.Subtype))
	}
}

func decodeTransaction(r io.Reader) (Transaction, error) {
	var flags [1]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return Transaction{}, errors.Wrap(err, "read transaction flags")
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Transaction{}, errors.Wrap(err, "read transaction length")
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Transaction{}, errors.Wrap(err, "read transaction payload")
		}
	}

	tx := Transaction{System: flags[0]&1 != 0, Payload: payload}

	if tx.System {
		var subtype [1]byte
		if _, err := io.ReadFull(r, subtype[:]); err != nil {
			return Transaction{}, errors.Wrap(err, "read transaction subtype")
		}
		tx.Subtype = SystemSubtype(subtype[0])
	}

	return tx, nil
}

// EncodeRecord serializes a full wire record in the layout:
//
//	u64 creator_id ‖ u64 creator_seq ‖ i64 other_id ‖ i64 other_seq ‖
//	u64 self_gen ‖ u64 other_gen ‖ u8[32] self_hash ‖ u8[32] other_hash ‖
//	i64 time_s ‖ i32 time_ns ‖ u32 tx_count ‖ (tx_record){tx_count} ‖
//	u16 sig_len ‖ u8[sig_len]
//
// otherID/otherSeq are out of band from Event (the creator id of the other
// parent is not itself part of Event per the data model) and are supplied
// by the caller, defaulting to -1 when absent.
func EncodeRecord(w io.Writer, e *Event, otherID, otherSeq int64) error {
	var hdr bytes.Buffer

	putU64(&hdr, uint64(e.CreatorID))
	putU64(&hdr, e.CreatorSeq)
	putI64(&hdr, otherID)
	putI64(&hdr, otherSeq)
	putU64(&hdr, uint64(e.SelfParentGen))
	putU64(&hdr, uint64(e.OtherParentGen))
	hdr.Write(e.SelfParent[:])
	hdr.Write(e.OtherParent[:])
	putI64(&hdr, e.TimeCreated.Unix())
	putI32(&hdr, int32(e.TimeCreated.Nanosecond()))
	putU32(&hdr, uint32(len(e.Transactions)))

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return errors.Wrap(err, "write event header")
	}

	for _, tx := range e.Transactions {
		var b bytes.Buffer
		encodeTransaction(&b, tx)
		if _, err := w.Write(b.Bytes()); err != nil {
			return errors.Wrap(err, "write event transaction")
		}
	}

	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(e.Signature)))
	if _, err := w.Write(sigLen[:]); err != nil {
		return errors.Wrap(err, "write signature length")
	}
	if _, err := w.Write(e.Signature); err != nil {
		return errors.Wrap(err, "write signature")
	}

	return nil
}

// DecodeRecord is the inverse of EncodeRecord. A self_gen or other_gen of
// -1 (the "no parent" sentinel) decodes to HasSelfParent=false or
// HasOtherParent=false respectively.
func DecodeRecord(r io.Reader) (e *Event, otherID, otherSeq int64, err error) {
	creatorID, err := readU64(r)
	if err != nil {
		return nil, 0, 0, err
	}
	creatorSeq, err := readU64(r)
	if err != nil {
		return nil, 0, 0, err
	}
	otherID, err = readI64(r)
	if err != nil {
		return nil, 0, 0, err
	}
	otherSeq, err = readI64(r)
	if err != nil {
		return nil, 0, 0, err
	}
	selfGen, err := readU64(r)
	if err != nil {
		return nil, 0, 0, err
	}
	otherGen, err := readU64(r)
	if err != nil {
		return nil, 0, 0, err
	}

	var selfHash, otherHash Hash
	if _, err = io.ReadFull(r, selfHash[:]); err != nil {
		return nil, 0, 0, errors.Wrap(err, "read self_hash")
	}
	if _, err = io.ReadFull(r, otherHash[:]); err != nil {
		return nil, 0, 0, errors.Wrap(err, "read other_hash")
	}

	timeS, err := readI64(r)
	if err != nil {
		return nil, 0, 0, err
	}
	timeNs, err := readI32(r)
	if err != nil {
		return nil, 0, 0, err
	}

	txCount, err := readU32(r)
	if err != nil {
		return nil, 0, 0, err
	}

	txs := make([]Transaction, 0, txCount)
	for i := uint32(0); i < txCount; i++ {
		tx, err := decodeTransaction(r)
		if err != nil {
			return nil, 0, 0, err
		}
		txs = append(txs, tx)
	}

	sigLenBuf := make([]byte, 2)
	if _, err = io.ReadFull(r, sigLenBuf); err != nil {
		return nil, 0, 0, errors.Wrap(err, "read sig_len")
	}
	sigLen := binary.BigEndian.Uint16(sigLenBuf)

	sig := make([]byte, sigLen)
	if sigLen > 0 {
		if _, err = io.ReadFull(r, sig); err != nil {
			return nil, 0, 0, errors.Wrap(err, "read signature")
		}
	}

	ev := &Event{
		CreatorID:      int(creatorID),
		CreatorSeq:     creatorSeq,
		SelfParent:     selfHash,
		OtherParent:    otherHash,
		HasSelfParent:  int64(selfGen) != NoParentGen,
		HasOtherParent: int64(otherGen) != NoParentGen,
		SelfParentGen:  int64(selfGen),
		OtherParentGen: int64(otherGen),
		TimeCreated:    time.Unix(timeS, int64(timeNs)),
		Transactions:   txs,
		Signature:      sig,
	}
	ev.Finalize()

	return ev, otherID, otherSeq, nil
}

func putU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func putI64(buf *bytes.Buffer, v int64) { putU64(buf, uint64(v)) }

func putU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func putI32(buf *bytes.Buffer, v int32) { putU32(buf, uint32(v)) }

func readU64(r io.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, errors.Wrap(err, "read u64")
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func readI64(r io.Reader) (int64, error) {
	v, err := readU64(r)
	return int64(v), err
}

func readU32(r io.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, errors.Wrap(err, "read u32")
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readI32(r io.Reader) (int32, error) {
	v, err := readU32(r)
	return int32(v), err
}
