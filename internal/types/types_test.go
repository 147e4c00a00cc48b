package types

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPubkeyBase58(t *testing.T) {
	t.Parallel()

	p, err := PubkeyFromBase58("11111111111111111111111111111111")
	require.NoError(t, err)
	require.True(t, p.IsZero())
	require.Equal(t, SystemProgramAddr, p)

	var seq Pubkey
	for i := range seq {
		seq[i] = byte(i + 1)
	}
	require.Equal(t, "4wBqpZM9xaSheZzJSMawUKKwhdpChKbZ5eu5ky4Vigw", seq.String())

	parsed, err := PubkeyFromBase58(seq.String())
	require.NoError(t, err)
	require.Equal(t, seq, parsed)

	_, err = PubkeyFromBase58("0OIl")
	require.Error(t, err)
	_, err = PubkeyFromBase58("1111")
	require.ErrorIs(t, err, ErrInvalidPubkey)
	_, err = PubkeyFromBytes(make([]byte, 31))
	require.ErrorIs(t, err, ErrInvalidPubkey)
}

func TestPubkeyCompare(t *testing.T) {
	t.Parallel()

	a := Pubkey{1}
	b := Pubkey{2}
	require.Negative(t, a.Compare(b))
	require.Positive(t, b.Compare(a))
	require.Zero(t, a.Compare(a))
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	pub := PubkeyFromPrivateKey(key)
	require.Equal(t, []byte(key.Public().(ed25519.PublicKey)), pub.Bytes())

	msg := []byte("journal")
	sig := Sign(key, msg)
	require.False(t, sig.IsZero())
	require.True(t, sig.Verify(pub, msg))
	require.False(t, sig.Verify(pub, []byte("other")))
	require.False(t, sig.Verify(Pubkey{9}, msg))

	parsed, err := SignatureFromBase58(sig.String())
	require.NoError(t, err)
	require.Equal(t, sig, parsed)

	fromBytes, err := SignatureFromBytes(sig.Bytes())
	require.NoError(t, err)
	require.Equal(t, sig, fromBytes)

	_, err = SignatureFromBytes(sig.Bytes()[:10])
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestTextMarshaling(t *testing.T) {
	t.Parallel()

	type doc struct {
		Key  Pubkey    `json:"key"`
		Sig  Signature `json:"sig"`
		Hash Hash      `json:"hash"`
	}
	in := doc{Key: Pubkey{1, 2, 3}, Sig: Signature{4, 5}, Hash: Hash{6}}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(data), `"key":"`+in.Key.String()+`"`)

	var out doc
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, in, out)

	parsed, err := HashFromBase58(in.Hash.String())
	require.NoError(t, err)
	require.Equal(t, in.Hash, parsed)

	require.Error(t, json.Unmarshal([]byte(`{"hash":"1111"}`), &out))
}

func TestReservedAddresses(t *testing.T) {
	t.Parallel()

	for _, p := range []Pubkey{SystemProgramAddr, ComputeBudgetProgramAddr, BPFLoaderUpgradeableAddr, NativeLoaderAddr, Ed25519PrecompileAddr} {
		require.True(t, IsNativeProgram(p), p.String())
		require.True(t, IsReserved(p), p.String())
	}
	for _, p := range []Pubkey{SysvarClockAddr, SysvarRentAddr, SysvarInstructionsAddr} {
		require.True(t, IsSysvar(p), p.String())
		require.True(t, IsReserved(p), p.String())
	}
	require.False(t, IsReserved(Pubkey{42}))
	require.Panics(t, func() { MustPubkeyFromBase58("not a key") })
}
