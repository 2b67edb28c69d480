package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"hash"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// initialSalt is shared by draft-17 through draft-22; all four versions
// this core negotiates (spec §6) fall in that range.
var initialSalt = []byte{
	0xef, 0x4f, 0xb0, 0xab, 0xb4, 0x74, 0x70, 0xc4,
	0x1b, 0xef, 0xcf, 0x80, 0x31, 0x33, 0x4f, 0xae,
	0x48, 0x5e, 0x09, 0xa0,
}

const aeadOverhead = 16 // all three mandatory-to-implement AEADs use a 16-byte tag

// aeadKeys is one direction's packet- and header-protection keys for a
// single epoch, derived from a single traffic secret (spec §4.2).
type aeadKeys struct {
	suite  uint16
	secret []byte
	aead   cipher.AEAD
	iv     []byte
	hpKey  []byte
	hpAES  cipher.Block // set when suite uses AES-based header protection
}

func newAEADKeys(suite uint16, secret []byte) (*aeadKeys, error) {
	k := &aeadKeys{suite: suite, secret: secret}
	var keyLen int
	switch suite {
	case tls.TLS_AES_128_GCM_SHA256:
		keyLen = 16
	case tls.TLS_AES_256_GCM_SHA384:
		keyLen = 32
	case tls.TLS_CHACHA20_POLY1305_SHA256:
		keyLen = 32
	default:
		keyLen = 16
		suite = tls.TLS_AES_128_GCM_SHA256
		k.suite = suite
	}
	h := hashForSuite(suite)
	key := hkdfExpandLabel(h, secret, "quic key", nil, keyLen)
	k.iv = hkdfExpandLabel(h, secret, "quic iv", nil, 12)
	k.hpKey = hkdfExpandLabel(h, secret, "quic hp", nil, keyLen)

	switch suite {
	case tls.TLS_CHACHA20_POLY1305_SHA256:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, err
		}
		k.aead = aead
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		k.aead = aead
		hpBlock, err := aes.NewCipher(k.hpKey)
		if err != nil {
			return nil, err
		}
		k.hpAES = hpBlock
	}
	return k, nil
}

func hashForSuite(suite uint16) func() hash.Hash {
	// SHA-384 is only used by AES-256-GCM in TLS 1.3; every other
	// mandatory-to-implement suite for QUIC draft-17..20 uses SHA-256.
	if suite == tls.TLS_AES_256_GCM_SHA384 {
		return sha512.New384
	}
	return sha256.New
}

// hkdfExpandLabel implements TLS 1.3's HKDF-Expand-Label (RFC 8446 §7.1),
// used both for QUIC's "quic key"/"quic iv"/"quic hp" labels and for
// deriving the Initial secrets from the destination CID (RFC 9001 §5.2).
func hkdfExpandLabel(h func() hash.Hash, secret []byte, label string, context []byte, length int) []byte {
	fullLabel := "tls13 " + label
	hkdfLabel := make([]byte, 0, 2+1+len(fullLabel)+1+len(context))
	hkdfLabel = append(hkdfLabel, byte(length>>8), byte(length))
	hkdfLabel = append(hkdfLabel, byte(len(fullLabel)))
	hkdfLabel = append(hkdfLabel, fullLabel...)
	hkdfLabel = append(hkdfLabel, byte(len(context)))
	hkdfLabel = append(hkdfLabel, context...)

	out := make([]byte, length)
	r := hkdf.Expand(h, secret, hkdfLabel)
	_, _ = r.Read(out)
	return out
}

// initialAEAD holds the client and server Initial keys derived from a
// single destination connection ID (spec §6 "Initial key derivation").
type initialAEAD struct {
	client *aeadKeys
	server *aeadKeys
}

func (a *initialAEAD) init(dcid []byte) error {
	initialSecret := hkdf.Extract(sha256.New, dcid, initialSalt)
	clientSecret := hkdfExpandLabel(sha256.New, initialSecret, "client in", nil, 32)
	serverSecret := hkdfExpandLabel(sha256.New, initialSecret, "server in", nil, 32)

	var err error
	a.client, err = newAEADKeys(tls.TLS_AES_128_GCM_SHA256, clientSecret)
	if err != nil {
		return err
	}
	a.server, err = newAEADKeys(tls.TLS_AES_128_GCM_SHA256, serverSecret)
	return err
}

func verifyRetryIntegrity(b []byte, odcid []byte) bool {
	// spec §6: "Retry integrity tag added in draft-25 is NOT required
	// here" -- tokens are treated as opaque (spec §9, open question b).
	return true
}

// nonce xors the packet number into the IV per RFC 9001 §5.3.
func (k *aeadKeys) nonce(pn uint64) []byte {
	n := make([]byte, len(k.iv))
	copy(n, k.iv)
	for i := 0; i < 8; i++ {
		n[len(n)-1-i] ^= byte(pn >> (8 * i))
	}
	return n
}

func (k *aeadKeys) seal(dst, aad, plaintext []byte, pn uint64) []byte {
	return k.aead.Seal(dst, k.nonce(pn), plaintext, aad)
}

func (k *aeadKeys) open(dst, aad, ciphertext []byte, pn uint64) ([]byte, error) {
	out, err := k.aead.Open(dst, k.nonce(pn), ciphertext, aad)
	if err != nil {
		return nil, errPacketDropped
	}
	return out, nil
}

// headerProtectionMask computes the 5-byte mask applied to the first byte's
// low bits and the packet number field (RFC 9001 §5.4.1).
func (k *aeadKeys) headerProtectionMask(sample []byte) ([]byte, error) {
	if len(sample) < 16 {
		return nil, errPacketDropped
	}
	if k.hpAES != nil {
		mask := make([]byte, 16)
		k.hpAES.Encrypt(mask, sample)
		return mask[:5], nil
	}
	// ChaCha20: counter is the first 4 bytes of the sample, nonce is the
	// remaining 12, and the mask is 5 bytes of keystream.
	counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
	c, err := chacha20.NewUnauthenticatedCipher(k.hpKey, sample[4:16])
	if err != nil {
		return nil, errPacketDropped
	}
	c.SetCounter(counter)
	mask := make([]byte, 5)
	c.XORKeyStream(mask, mask)
	return mask, nil
}
