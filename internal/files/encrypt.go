package files

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const pbkdf2Iterations = 100_000

// kdfSalt is fixed rather than per-record: the secrets fed into deriveKey
// (user and system keys) are already high-entropy, so the salt only needs
// to separate this derivation from any other use of the same secret.
var kdfSalt = []byte("cortex/internal/files/kdf/v1")

func deriveKey(secret []byte) []byte {
	return pbkdf2.Key(secret, kdfSalt, pbkdf2Iterations, 32, sha256.New)
}

// encryptLayer produces the "iv:ciphertext" hex encoding of one AES-256-CBC
// layer (§4.6).
func encryptLayer(plaintext, secret []byte) (string, error) {
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// decryptLayer inverts encryptLayer. It reports wasEncrypted=false, with no
// error, whenever payload does not have the shape of an encrypted layer
// (missing colon, non-hex halves, bad block alignment, or bad padding) so
// callers can fall back to treating it as plaintext (§4.6: "a payload
// containing colons but lacking valid IV bytes MUST be returned as-is").
func decryptLayer(payload string, secret []byte) (plaintext []byte, wasEncrypted bool, err error) {
	ivHex, ctHex, ok := strings.Cut(payload, ":")
	if !ok {
		return []byte(payload), false, nil
	}

	iv, err1 := hex.DecodeString(ivHex)
	ct, err2 := hex.DecodeString(ctHex)
	if err1 != nil || err2 != nil || len(iv) != aes.BlockSize || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return []byte(payload), false, nil
	}

	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return nil, false, err
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		// Decrypted under the wrong key or never encrypted at this layer;
		// treat the payload as plaintext pass-through rather than failing.
		return []byte(payload), false, nil
	}
	return unpadded, true, nil
}

// EncryptTwoLayer applies AES-256-CBC(payload, userKey) then
// AES-256-CBC(..., systemKey). When userKey is empty only the system layer
// is applied (§4.6); the returned bool reports whether both layers ran.
func EncryptTwoLayer(plaintext, userKey, systemKey []byte) (string, bool, error) {
	payload := plaintext
	twoLayer := false

	if len(userKey) > 0 {
		layer1, err := encryptLayer(payload, userKey)
		if err != nil {
			return "", false, fmt.Errorf("files: encrypt user layer: %w", err)
		}
		payload = []byte(layer1)
		twoLayer = true
	}

	layer2, err := encryptLayer(payload, systemKey)
	if err != nil {
		return "", false, fmt.Errorf("files: encrypt system layer: %w", err)
	}
	return layer2, twoLayer, nil
}

// DecryptTwoLayer inverts EncryptTwoLayer, peeling the system layer first
// and then the user layer, with graceful single-layer fallback for legacy
// records stored under only the system key and plaintext pass-through for
// payloads that were never encrypted (§4.6).
func DecryptTwoLayer(payload string, userKey, systemKey []byte) ([]byte, error) {
	inner, wasEncrypted, err := decryptLayer(payload, systemKey)
	if err != nil {
		return nil, err
	}
	if !wasEncrypted {
		return []byte(payload), nil
	}
	if len(userKey) == 0 {
		return inner, nil
	}

	plain, wasEncrypted2, err := decryptLayer(string(inner), userKey)
	if err != nil {
		return nil, err
	}
	if !wasEncrypted2 {
		return inner, nil
	}
	return plain, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("files: invalid padded length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("files: invalid padding byte %d", padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("files: invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}
