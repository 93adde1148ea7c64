package txdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// recordVersion is the serialization version of stored tx records.
	recordVersion = 1

	// unconfirmedHeight is the sentinel stored in coin records for
	// outputs of unconfirmed transactions.
	unconfirmedHeight = 0x7FFFFFFF
)

// TxRecord is the extended storage form of a wallet transaction: the wire
// transaction plus block metadata and the accounts it touches.
//
// Invariant: Ts == 0 iff the record is unconfirmed iff Height == -1. Once
// Ts != 0, Height >= 0 and Block is set.
type TxRecord struct {
	MsgTx wire.MsgTx
	Hash  chainhash.Hash

	Height     int32
	Block      *chainhash.Hash
	BlockIndex int32
	Ts         int64
	Ps         int64

	// Accounts are the wallet accounts whose addresses the transaction
	// touches, fixed at insertion time so removal and reorg paths can
	// maintain the per-account mirrors without re-resolving.
	Accounts []uint32
}

// NewTxRecord wraps a wire transaction as an unconfirmed record first seen
// at ps.
func NewTxRecord(tx *wire.MsgTx, ps time.Time) *TxRecord {
	return &TxRecord{
		MsgTx:      *tx,
		Hash:       tx.TxHash(),
		Height:     -1,
		BlockIndex: -1,
		Ps:         ps.Unix(),
	}
}

// SetBlock marks the record as confirmed in the given block.
func (r *TxRecord) SetBlock(block *chainhash.Hash, height int32, index int32, ts time.Time) {
	b := *block
	r.Block = &b
	r.Height = height
	r.BlockIndex = index
	r.Ts = ts.Unix()
}

// Confirmed reports whether the record has a block.
func (r *TxRecord) Confirmed() bool {
	return r.Height >= 0
}

func (r *TxRecord) Serialize() ([]byte, error) {
	if (r.Ts == 0) != (r.Height < 0) {
		return nil, fmt.Errorf("txdb: record %v violates ts/height invariant (ts=%d height=%d)",
			r.Hash, r.Ts, r.Height)
	}

	var buf bytes.Buffer
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[:4], recordVersion)
	buf.Write(scratch[:4])
	binary.LittleEndian.PutUint32(scratch[:4], uint32(r.Height))
	buf.Write(scratch[:4])
	if r.Block != nil {
		buf.Write(r.Block[:])
	} else {
		buf.Write(make([]byte, chainhash.HashSize))
	}
	binary.LittleEndian.PutUint32(scratch[:4], uint32(r.BlockIndex))
	buf.Write(scratch[:4])
	binary.LittleEndian.PutUint64(scratch[:], uint64(r.Ts))
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(r.Ps))
	buf.Write(scratch[:])

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(r.Accounts)))
	buf.Write(scratch[:4])
	for _, acct := range r.Accounts {
		binary.LittleEndian.PutUint32(scratch[:4], acct)
		buf.Write(scratch[:4])
	}

	if err := r.MsgTx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("txdb: serialize tx %v: %w", r.Hash, err)
	}
	return buf.Bytes(), nil
}

func DeserializeTxRecord(data []byte) (*TxRecord, error) {
	const fixed = 4 + 4 + chainhash.HashSize + 4 + 8 + 8 + 4
	if len(data) < fixed {
		return nil, fmt.Errorf("txdb: short tx record (%d bytes)", len(data))
	}

	rec := &TxRecord{}
	off := 0
	version := binary.LittleEndian.Uint32(data[off:])
	if version != recordVersion {
		return nil, fmt.Errorf("txdb: unknown record version %d", version)
	}
	off += 4
	rec.Height = int32(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	var block chainhash.Hash
	copy(block[:], data[off:off+chainhash.HashSize])
	off += chainhash.HashSize
	if block != (chainhash.Hash{}) {
		rec.Block = &block
	}
	rec.BlockIndex = int32(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	rec.Ts = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	rec.Ps = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8

	n := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if len(data) < off+int(n)*4 {
		return nil, fmt.Errorf("txdb: short account list in tx record")
	}
	for i := uint32(0); i < n; i++ {
		rec.Accounts = append(rec.Accounts, binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}

	if err := rec.MsgTx.Deserialize(bytes.NewReader(data[off:])); err != nil {
		return nil, fmt.Errorf("txdb: deserialize tx: %w", err)
	}
	rec.Hash = rec.MsgTx.TxHash()
	return rec, nil
}

// Coin is one unspent transaction output owned by the wallet.
//
// The serialized layout is fixed: bytes 0..4 version/flags, bytes 4..8
// little-endian height (0x7FFFFFFF encodes unconfirmed), bytes 8..16
// little-endian value in base units, then the output script.
type Coin struct {
	Version  uint32
	Height   int32
	Value    btcutil.Amount
	PkScript []byte
}

const coinHeaderLen = 16

// NewCoin builds the coin for output vout of rec.
func NewCoin(rec *TxRecord, vout uint32) *Coin {
	out := rec.MsgTx.TxOut[vout]
	return &Coin{
		Version:  uint32(rec.MsgTx.Version),
		Height:   rec.Height,
		Value:    btcutil.Amount(out.Value),
		PkScript: out.PkScript,
	}
}

func (c *Coin) Serialize() []byte {
	buf := make([]byte, coinHeaderLen+len(c.PkScript))
	binary.LittleEndian.PutUint32(buf[0:4], c.Version)
	height := uint32(unconfirmedHeight)
	if c.Height >= 0 {
		height = uint32(c.Height)
	}
	binary.LittleEndian.PutUint32(buf[4:8], height)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.Value))
	copy(buf[coinHeaderLen:], c.PkScript)
	return buf
}

func DeserializeCoin(data []byte) (*Coin, error) {
	if len(data) < coinHeaderLen {
		return nil, fmt.Errorf("txdb: short coin record (%d bytes)", len(data))
	}
	c := &Coin{
		Version:  binary.LittleEndian.Uint32(data[0:4]),
		Value:    btcutil.Amount(binary.LittleEndian.Uint64(data[8:16])),
		PkScript: append([]byte(nil), data[coinHeaderLen:]...),
	}
	height := binary.LittleEndian.Uint32(data[4:8])
	if height == unconfirmedHeight {
		c.Height = -1
	} else {
		c.Height = int32(height)
	}
	return c, nil
}

// patchCoinHeight rewrites the height field of serialized coin bytes in
// place, leaving the value and script bytes untouched.
func patchCoinHeight(data []byte, height int32) error {
	if len(data) < coinHeaderLen {
		return fmt.Errorf("txdb: short coin record (%d bytes)", len(data))
	}
	h := uint32(unconfirmedHeight)
	if height >= 0 {
		h = uint32(height)
	}
	binary.LittleEndian.PutUint32(data[4:8], h)
	return nil
}

// coinValue reads the value field out of serialized coin bytes.
func coinValue(data []byte) (btcutil.Amount, error) {
	if len(data) < coinHeaderLen {
		return 0, fmt.Errorf("txdb: short coin record (%d bytes)", len(data))
	}
	return btcutil.Amount(binary.LittleEndian.Uint64(data[8:16])), nil
}

// coinHeight reads the height field out of serialized coin bytes, mapping
// the sentinel back to -1.
func coinHeight(data []byte) (int32, error) {
	if len(data) < coinHeaderLen {
		return 0, fmt.Errorf("txdb: short coin record (%d bytes)", len(data))
	}
	h := binary.LittleEndian.Uint32(data[4:8])
	if h == unconfirmedHeight {
		return -1, nil
	}
	return int32(h), nil
}

const outpointLen = chainhash.HashSize + 4

func encodeOutpoint(hash *chainhash.Hash, index uint32) []byte {
	buf := make([]byte, outpointLen)
	copy(buf, hash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], index)
	return buf
}

func decodeOutpoint(data []byte) (*wire.OutPoint, error) {
	if len(data) < outpointLen {
		return nil, fmt.Errorf("txdb: short outpoint (%d bytes)", len(data))
	}
	var h chainhash.Hash
	copy(h[:], data[:chainhash.HashSize])
	return &wire.OutPoint{
		Hash:  h,
		Index: binary.LittleEndian.Uint32(data[chainhash.HashSize:]),
	}, nil
}

// decodeOutpointList splits a concatenation of outpoints, as stored in
// orphan waiter lists.
func decodeOutpointList(data []byte) ([]wire.OutPoint, error) {
	if len(data)%outpointLen != 0 {
		return nil, fmt.Errorf("txdb: ragged outpoint list (%d bytes)", len(data))
	}
	out := make([]wire.OutPoint, 0, len(data)/outpointLen)
	for off := 0; off < len(data); off += outpointLen {
		op, err := decodeOutpoint(data[off : off+outpointLen])
		if err != nil {
			return nil, err
		}
		out = append(out, *op)
	}
	return out, nil
}
