package transport

// applyHeaderProtection XORs the header-protection mask into the first
// byte's low bits and the packet number field, in place, after the packet
// has been fully encrypted (RFC 9001 §5.4.1). sampleOffset is the byte
// offset of the 16-byte sample, always 4 bytes after the start of the
// packet number field.
func applyHeaderProtection(k *aeadKeys, b []byte, pnOffset, pnLen int, isLong bool) error {
	sampleOffset := pnOffset + 4
	if sampleOffset+16 > len(b) {
		return errPacketDropped
	}
	mask, err := k.headerProtectionMask(b[sampleOffset : sampleOffset+16])
	if err != nil {
		return err
	}
	if isLong {
		b[0] ^= mask[0] & 0x0f
	} else {
		b[0] ^= mask[0] & 0x1f
	}
	for i := 0; i < pnLen; i++ {
		b[pnOffset+i] ^= mask[1+i]
	}
	return nil
}

// removeHeaderProtection undoes applyHeaderProtection. It needs to guess
// the packet number length from the protected first byte, then unmask,
// then re-read the now-correct length. pnOffset is the exact start of the
// packet number field; the sample is taken as if that field were 4 bytes
// long, whatever its true length.
func removeHeaderProtection(k *aeadKeys, b []byte, pnOffset int, isLong bool) (pnLen int, err error) {
	sampleOffset := pnOffset + 4
	if sampleOffset+16 > len(b) {
		return 0, errPacketDropped
	}
	mask, err := k.headerProtectionMask(b[sampleOffset : sampleOffset+16])
	if err != nil {
		return 0, err
	}
	if isLong {
		b[0] ^= mask[0] & 0x0f
	} else {
		b[0] ^= mask[0] & 0x1f
	}
	pnLen = int(b[0]&0x03) + 1
	for i := 0; i < pnLen; i++ {
		b[pnOffset+i] ^= mask[1+i]
	}
	return pnLen, nil
}
