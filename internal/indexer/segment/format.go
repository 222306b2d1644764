package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"time"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

// MagicBytes identifies a valid .spdx index snapshot.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 8
)

// maxDecodedSize bounds zstd output so a corrupt frame cannot exhaust memory.
const maxDecodedSize = 4 << 30

// Codec identifies the structured encoding of the payload.
type Codec uint8

const (
	CodecJSON Codec = 1
	CodecCBOR Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecJSON:
		return "json"
	case CodecCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCodec parses a codec name as used in configuration.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return CodecJSON, nil
	case "cbor":
		return CodecCBOR, nil
	default:
		return 0, fmt.Errorf("unknown codec: %q", name)
	}
}

// Compression identifies how the encoded payload is compressed on disk.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a compression name as used in configuration.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// Options selects the payload codec and compression for Encode.
type Options struct {
	Codec       Codec
	Compression Compression
}

// DefaultOptions is JSON with no compression.
var DefaultOptions = Options{Codec: CodecJSON, Compression: CompressionNone}

// Header is the fixed-size preamble of every snapshot.
type Header struct {
	Magic       uint32
	Version     uint32
	Codec       Codec
	Compression Compression
	DocCount    uint32
	TermCount   uint32
	CreatedAt   int64
	PayloadSize uint64
}

var (
	cborEnc     cbor.EncMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	// Core deterministic encoding sorts map keys, so equal indexes encode
	// to equal bytes.
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("segment: CBOR encoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("segment: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		panic("segment: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode writes ix to w as a self-describing snapshot.
func Encode(w io.Writer, ix *index.Index, opts Options) error {
	if err := checkUTF8(ix); err != nil {
		return err
	}
	var payload []byte
	var err error
	switch opts.Codec {
	case CodecJSON:
		payload, err = json.Marshal(ix)
	case CodecCBOR:
		payload, err = cborEnc.Marshal(ix)
	default:
		return fmt.Errorf("encoding index: unsupported codec %s", opts.Codec)
	}
	if err != nil {
		return fmt.Errorf("marshaling index as %s: %w", opts.Codec, err)
	}
	switch opts.Compression {
	case CompressionNone:
	case CompressionZstd:
		payload = zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)/4))
	default:
		return fmt.Errorf("encoding index: unsupported compression %s", opts.Compression)
	}

	header := Header{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		Codec:       opts.Codec,
		Compression: opts.Compression,
		DocCount:    uint32(ix.DocCount()),
		TermCount:   uint32(ix.TermCount()),
		CreatedAt:   time.Now().Unix(),
		PayloadSize: uint64(len(payload)),
	}
	if _, err := w.Write(marshalHeader(header)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(footer[4:8], MagicBytes)
	if _, err := w.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	return nil
}

// checkUTF8 rejects keys neither codec can carry unchanged: JSON would
// replace invalid bytes with U+FFFD and CBOR text strings refuse them.
func checkUTF8(ix *index.Index) error {
	for id := range ix.Docs {
		if !utf8.ValidString(id) {
			return fmt.Errorf("%w: document id %q is not valid UTF-8", apperrors.ErrInvalidInput, id)
		}
	}
	for term := range ix.DF {
		if !utf8.ValidString(term) {
			return fmt.Errorf("%w: term %q is not valid UTF-8", apperrors.ErrInvalidInput, term)
		}
	}
	return nil
}

// Marshal is Encode into a byte slice.
func Marshal(ix *index.Index, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, ix, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a snapshot written by Encode. Structural damage is reported
// as ErrCorruptIndex.
func Decode(r io.Reader) (*index.Index, Header, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Header{}, fmt.Errorf("reading snapshot: %w", err)
	}
	return Unmarshal(data)
}

// Unmarshal decodes a snapshot held in memory.
func Unmarshal(data []byte) (*index.Index, Header, error) {
	if len(data) < HeaderSize+FooterSize {
		return nil, Header{}, fmt.Errorf("%w: snapshot is %d bytes", apperrors.ErrCorruptIndex, len(data))
	}
	header := unmarshalHeader(data[:HeaderSize])
	if header.Magic != MagicBytes {
		return nil, header, fmt.Errorf("%w: bad magic bytes %x", apperrors.ErrCorruptIndex, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, header, fmt.Errorf("%w: unsupported format version %d", apperrors.ErrCorruptIndex, header.Version)
	}
	if uint64(len(data)) != uint64(HeaderSize)+header.PayloadSize+uint64(FooterSize) {
		return nil, header, fmt.Errorf("%w: payload size %d does not match file size %d",
			apperrors.ErrCorruptIndex, header.PayloadSize, len(data))
	}
	payload := data[HeaderSize : HeaderSize+int(header.PayloadSize)]
	footer := data[HeaderSize+int(header.PayloadSize):]
	if magic := binary.LittleEndian.Uint32(footer[4:8]); magic != MagicBytes {
		return nil, header, fmt.Errorf("%w: bad footer magic %x", apperrors.ErrCorruptIndex, magic)
	}
	if want, got := binary.LittleEndian.Uint32(footer[0:4]), crc32.ChecksumIEEE(payload); want != got {
		return nil, header, fmt.Errorf("%w: checksum mismatch (stored %08x, computed %08x)",
			apperrors.ErrCorruptIndex, want, got)
	}

	switch header.Compression {
	case CompressionNone:
	case CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, header, fmt.Errorf("%w: decompressing payload: %v", apperrors.ErrCorruptIndex, err)
		}
		payload = decoded
	default:
		return nil, header, fmt.Errorf("%w: unknown compression %d", apperrors.ErrCorruptIndex, header.Compression)
	}

	ix := &index.Index{}
	var err error
	switch header.Codec {
	case CodecJSON:
		err = json.Unmarshal(payload, ix)
	case CodecCBOR:
		err = cbor.Unmarshal(payload, ix)
	default:
		return nil, header, fmt.Errorf("%w: unknown codec %d", apperrors.ErrCorruptIndex, header.Codec)
	}
	if err != nil {
		return nil, header, fmt.Errorf("%w: parsing %s payload: %v", apperrors.ErrCorruptIndex, header.Codec, err)
	}
	if ix.Docs == nil {
		ix.Docs = make(map[string]index.TermFreq)
	}
	if ix.DF == nil {
		ix.DF = make(index.DocFreq)
	}
	for id, tf := range ix.Docs {
		if tf == nil {
			ix.Docs[id] = make(index.TermFreq)
		}
	}
	if err := ix.Validate(); err != nil {
		return nil, header, fmt.Errorf("%w: %v", apperrors.ErrCorruptIndex, err)
	}
	return ix, header, nil
}

func marshalHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	buf[8] = byte(h.Codec)
	buf[9] = byte(h.Compression)
	binary.LittleEndian.PutUint32(buf[12:16], h.DocCount)
	binary.LittleEndian.PutUint32(buf[16:20], h.TermCount)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(buf[32:40], h.PayloadSize)
	return buf
}

func unmarshalHeader(buf []byte) Header {
	return Header{
		Magic:       binary.LittleEndian.Uint32(buf[0:4]),
		Version:     binary.LittleEndian.Uint32(buf[4:8]),
		Codec:       Codec(buf[8]),
		Compression: Compression(buf[9]),
		DocCount:    binary.LittleEndian.Uint32(buf[12:16]),
		TermCount:   binary.LittleEndian.Uint32(buf[16:20]),
		CreatedAt:   int64(binary.LittleEndian.Uint64(buf[24:32])),
		PayloadSize: binary.LittleEndian.Uint64(buf[32:40]),
	}
}
