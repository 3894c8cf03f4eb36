package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

const (
	KeySize   = 32 // AES-256
	nonceSize = 12
	tagSize   = 16
)

// 加解密的类型化错误，调用方据此决定是否 fail closed。
var (
	ErrEncrypt    = errors.New("encryption failed")
	ErrDecrypt    = errors.New("decryption failed")
	ErrInvalidKey = errors.New("invalid key length")
)

// Envelope 是一次加密的完整输出，IV 与认证标签分开携带。
type Envelope struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// NewKey 从安全随机源生成一把对称密钥。
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt 用 AES-256-GCM 加密明文，每次调用生成新的随机 IV。
func Encrypt(plaintext, key []byte) (*Envelope, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, ErrEncrypt
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	n := len(sealed) - tagSize
	return &Envelope{
		Ciphertext: sealed[:n],
		IV:         iv,
		Tag:        sealed[n:],
	}, nil
}

// Decrypt 校验认证标签并还原明文，标签不合法时绝不返回数据。
func Decrypt(env *Envelope, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(env.IV) != nonceSize || len(env.Tag) != tagSize {
		return nil, ErrDecrypt
	}
	sealed := make([]byte, 0, len(env.Ciphertext)+tagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)
	plaintext, err := gcm.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return cipher.NewGCM(block)
}

// EncodeKey / DecodeKey 负责密钥在握手应答里的传输编码。
func EncodeKey(key []byte) string { return base64.StdEncoding.EncodeToString(key) }

func DecodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}
