package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/x1-journal/internal/types"
)

// Field limits, in encoded bytes.
const (
	MaxTitleLen   = 50
	MaxMessageLen = 1000
)

// DiscriminatorSize is the length of every account and instruction tag.
const DiscriminatorSize = 8

// entryFixedSize covers the tag, the owner key and both length prefixes.
const entryFixedSize = DiscriminatorSize + 32 + 4 + 4

// MaxEntrySize is the footprint of an entry with both fields at their cap.
const MaxEntrySize = entryFixedSize + MaxTitleLen + MaxMessageLen

// EntryDiscriminator tags accounts holding a journal entry:
// sha256("account:JournalEntryState")[:8].
var EntryDiscriminator = [DiscriminatorSize]byte{113, 86, 110, 124, 140, 14, 58, 66}

var errShortBuffer = errors.New("short buffer")

// ErrInvalidUTF8 is returned for a title or message that is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("invalid utf-8")

// Entry is the record stored in a journal entry account.
type Entry struct {
	Owner   types.Pubkey
	Title   string
	Message string
}

// Size returns the exact number of bytes Encode produces for e.
func (e *Entry) Size() int {
	return entryFixedSize + len(e.Title) + len(e.Message)
}

// Validate checks the field caps and that both strings are valid UTF-8.
func (e *Entry) Validate() error {
	return checkFields(e.Title, e.Message)
}

func checkFields(title, message string) error {
	if len(title) > MaxTitleLen {
		return fmt.Errorf("%w: title is %d bytes, limit %d", ErrFieldTooLarge, len(title), MaxTitleLen)
	}
	if len(message) > MaxMessageLen {
		return fmt.Errorf("%w: message is %d bytes, limit %d", ErrFieldTooLarge, len(message), MaxMessageLen)
	}
	if !utf8.ValidString(title) {
		return fmt.Errorf("%w: title", ErrInvalidUTF8)
	}
	if !utf8.ValidString(message) {
		return fmt.Errorf("%w: message", ErrInvalidUTF8)
	}
	return nil
}

// Encode serializes e into the on-chain account layout.
func (e *Entry) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(make([]byte, 0, e.Size()))
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(EntryDiscriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(e.Owner[:], false); err != nil {
		return nil, err
	}
	if err := writeString(enc, e.Title); err != nil {
		return nil, err
	}
	if err := writeString(enc, e.Message); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeEntry parses an account's data. Bytes after the message are ignored.
func DecodeEntry(data []byte) (*Entry, error) {
	if !HasEntryDiscriminator(data) {
		return nil, ErrDiscriminatorMismatch
	}

	dec := bin.NewBorshDecoder(data[DiscriminatorSize:])
	owner, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, fmt.Errorf("%w: owner", ErrTruncated)
	}

	e := &Entry{}
	copy(e.Owner[:], owner)

	if e.Title, err = readString(dec); err != nil {
		return nil, decodeFieldError("title", err)
	}
	if e.Message, err = readString(dec); err != nil {
		return nil, decodeFieldError("message", err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return e, nil
}

// HasEntryDiscriminator reports whether data starts with the entry tag.
func HasEntryDiscriminator(data []byte) bool {
	return len(data) >= DiscriminatorSize && bytes.Equal(data[:DiscriminatorSize], EntryDiscriminator[:])
}

func decodeFieldError(field string, err error) error {
	if errors.Is(err, errShortBuffer) {
		return fmt.Errorf("%w: %s: %v", ErrTruncated, field, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrDecode, field, err)
}

func writeString(enc *bin.Encoder, s string) error {
	if err := enc.WriteUint32(uint32(len(s)), binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes([]byte(s), false)
}

// readString reads a u32 LE length prefixed UTF-8 string.
func readString(dec *bin.Decoder) (string, error) {
	if dec.Remaining() < 4 {
		return "", fmt.Errorf("%w: length prefix", errShortBuffer)
	}
	n, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(dec.Remaining()) {
		return "", fmt.Errorf("%w: declared %d bytes, %d remain", errShortBuffer, n, dec.Remaining())
	}
	b, err := dec.ReadNBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
