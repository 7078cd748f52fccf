// Package payload encrypts firmware images and computes their verification digest.
//
// Encryption uses an AEAD in stream mode: the ciphertext has the same length as
// the firmware and the authentication tag is returned separately.
//
//	sealed, err := payload.Encrypt(payload.SuiteAESGCM, key, nonce, firmware)
//	digest := payload.Digest(payload.DigestSHA256, sealed.Ciphertext)
//
// The tag is not part of the wire protocol. Without a manifest signature over
// it, the digest unit proves integrity of the transfer only, not origin.
package payload
