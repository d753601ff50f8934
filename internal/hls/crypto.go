package hls

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrBadPadding is returned when a decrypted segment carries invalid
	// PKCS7 padding, which almost always means a wrong key or IV.
	ErrBadPadding = errors.New("invalid PKCS7 padding")
)

// Decrypt reverses AES-128-CBC with PKCS7 padding on a segment buffer.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("IV length %d does not match block size %d", len(iv), block.BlockSize())
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return stripPKCS7(plaintext, block.BlockSize())
}

// DeriveIV builds the IV for a segment without an explicit one: 16 zero
// bytes with the big-endian sequence number in the last four.
func DeriveIV(sequence uint32) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint32(iv[12:], sequence)
	return iv
}

func stripPKCS7(data []byte, blockSize int) ([]byte, error) {
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-padLen], nil
}
