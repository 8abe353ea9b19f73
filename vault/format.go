package vault

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// On-disk layout, version 1:
//
//	[version u8]
//	[kdf u8][cipher u8][cost u32][block u32][parallelism u32]
//	[salt 16]
//	[nonce 12]
//	[ciphertext+tag]
//
// Integers are big-endian. Everything before the nonce is the AEAD's
// associated data.
const (
	paramsLen  = 1 + 1 + 4 + 4 + 4
	aadLen     = 1 + paramsLen + SaltLen
	headerLen  = aadLen + NonceLen
	minFileLen = headerLen
)

type fileHeader struct {
	Version byte
	KDF     KDFParams
	Cipher  CipherSuite
	Salt    []byte
	Nonce   []byte
}

// prefix encodes the authenticated part of the header.
func (h fileHeader) prefix() ([]byte, error) {
	if len(h.Salt) != SaltLen {
		return nil, fmt.Errorf("%w: salt must be %d bytes", ErrInvalidParams, SaltLen)
	}
	buf := bytes.NewBuffer(make([]byte, 0, headerLen))
	buf.WriteByte(h.Version)
	buf.WriteByte(byte(h.KDF.Algorithm))
	buf.WriteByte(byte(h.Cipher))
	_ = binary.Write(buf, binary.BigEndian, h.KDF.Cost)
	_ = binary.Write(buf, binary.BigEndian, h.KDF.BlockSize)
	_ = binary.Write(buf, binary.BigEndian, h.KDF.Parallelism)
	buf.Write(h.Salt)
	return buf.Bytes(), nil
}

func encodeFile(h fileHeader, ciphertext []byte) ([]byte, error) {
	if len(h.Nonce) != NonceLen {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidParams, NonceLen)
	}
	pre, err := h.prefix()
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 0, headerLen+len(ciphertext))
	raw = append(raw, pre...)
	raw = append(raw, h.Nonce...)
	return append(raw, ciphertext...), nil
}

// decodeFile splits raw into header, associated data and ciphertext. The
// version byte is checked first so an unknown version is never parsed.
func decodeFile(raw []byte) (fileHeader, []byte, []byte, error) {
	var h fileHeader
	if len(raw) == 0 {
		return h, nil, nil, ErrCorrupted
	}
	h.Version = raw[0]
	if h.Version != Version {
		return h, nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if len(raw) < minFileLen {
		return h, nil, nil, fmt.Errorf("%w: header truncated", ErrCorrupted)
	}

	p := raw[1:]
	h.KDF.Algorithm = KDFAlgorithm(p[0])
	h.Cipher = CipherSuite(p[1])
	h.KDF.Cost = binary.BigEndian.Uint32(p[2:6])
	h.KDF.BlockSize = binary.BigEndian.Uint32(p[6:10])
	h.KDF.Parallelism = binary.BigEndian.Uint32(p[10:14])
	if err := h.KDF.Validate(); err != nil {
		return h, nil, nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if !h.Cipher.Valid() {
		return h, nil, nil, fmt.Errorf("%w: unknown cipher %d", ErrCorrupted, uint8(h.Cipher))
	}

	h.Salt = append([]byte(nil), raw[1+paramsLen:aadLen]...)
	h.Nonce = append([]byte(nil), raw[aadLen:headerLen]...)
	return h, raw[:aadLen], raw[headerLen:], nil
}
