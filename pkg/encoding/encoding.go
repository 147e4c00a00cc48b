// Package encoding renders raw account data the way Solana RPC does:
// base58, base64, or zstd-compressed base64.
package encoding

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
)

// Encoding names a data rendering.
type Encoding string

// Supported encodings.
const (
	Base58     Encoding = "base58"
	Base64     Encoding = "base64"
	Base64Zstd Encoding = "base64+zstd"
)

// MaxBase58DataLen is the largest payload rendered as base58. Base58 is
// quadratic in the input length, so RPC nodes refuse larger accounts.
const MaxBase58DataLen = 128

var (
	// ErrUnknownEncoding is returned for unsupported encoding names.
	ErrUnknownEncoding = errors.New("unknown encoding")

	// ErrDataTooLarge is returned when data exceeds what an encoding accepts.
	ErrDataTooLarge = errors.New("data too large for encoding")
)

// Parse returns the Encoding named s.
func Parse(s string) (Encoding, error) {
	switch enc := Encoding(s); enc {
	case Base58, Base64, Base64Zstd:
		return enc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
	}
}

// Encode renders data with enc.
func Encode(data []byte, enc Encoding) (string, error) {
	switch enc {
	case Base58:
		if len(data) > MaxBase58DataLen {
			return "", fmt.Errorf("%w: %d bytes, base58 limit %d", ErrDataTooLarge, len(data), MaxBase58DataLen)
		}
		return base58.Encode(data), nil

	case Base64:
		return base64.StdEncoding.EncodeToString(data), nil

	case Base64Zstd:
		compressed, err := compressZstd(data)
		if err != nil {
			return "", fmt.Errorf("zstd compression failed: %w", err)
		}
		return base64.StdEncoding.EncodeToString(compressed), nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
	}
}

// Decode reverses Encode.
func Decode(encoded string, enc Encoding) ([]byte, error) {
	switch enc {
	case Base58:
		return base58.Decode(encoded)

	case Base64:
		return base64.StdEncoding.DecodeString(encoded)

	case Base64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		return decompressZstd(compressed)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
	}
}

// DataSlice selects part of an account's data.
type DataSlice struct {
	Offset uint64
	Length uint64
}

// Apply returns the selected bytes of data, clamped to its length.
func (s *DataSlice) Apply(data []byte) []byte {
	if s == nil {
		return data
	}

	start := s.Offset
	if start >= uint64(len(data)) {
		return []byte{}
	}

	end := start + s.Length
	if end > uint64(len(data)) || end < start {
		end = uint64(len(data))
	}
	return data[start:end]
}

func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
