// Package content вычисляет адреса содержимого и кодирует манифест сцены.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Поддерживаемые алгоритмы хеширования.
const (
	AlgorithmSHA256  = "sha256"
	AlgorithmBlake2b = "blake2b"
)

// ErrInvalidHash возвращается для строки, не похожей на адрес содержимого.
var ErrInvalidHash = errors.New("некорректный хеш содержимого")

// Addresser вычисляет хеш содержимого в виде "<алгоритм>:<hex>".
type Addresser struct {
	algorithm string
}

// NewAddresser создаёт адресатор. Пустой алгоритм означает sha256.
func NewAddresser(algorithm string) (*Addresser, error) {
	switch algorithm {
	case "", AlgorithmSHA256:
		return &Addresser{algorithm: AlgorithmSHA256}, nil
	case AlgorithmBlake2b:
		return &Addresser{algorithm: AlgorithmBlake2b}, nil
	default:
		return nil, fmt.Errorf("неизвестный алгоритм хеширования %q", algorithm)
	}
}

// Algorithm возвращает имя алгоритма.
func (a *Addresser) Algorithm() string {
	return a.algorithm
}

// Hash возвращает адрес данных.
func (a *Addresser) Hash(data []byte) string {
	h := a.newHash()
	h.Write(data)
	return a.algorithm + ":" + hex.EncodeToString(h.Sum(nil))
}

// Verify сообщает, что данные соответствуют адресу.
func (a *Addresser) Verify(hash string, data []byte) bool {
	return a.Hash(data) == hash
}

func (a *Addresser) newHash() hash.Hash {
	if a.algorithm == AlgorithmBlake2b {
		// Ошибка возможна только для ключа длиннее 64 байт.
		h, _ := blake2b.New256(nil)
		return h
	}
	return sha256.New()
}

// ParseHash разбирает адрес на алгоритм и hex-дайджест.
func ParseHash(hash string) (algorithm, digest string, err error) {
	algorithm, digest, ok := strings.Cut(hash, ":")
	if !ok || algorithm == "" || len(digest) != 64 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return algorithm, digest, nil
}

// ObjectKey возвращает ключ объекта в хранилище: objects/<алгоритм>/<2 символа>/<дайджест>.
func ObjectKey(hash string) (string, error) {
	algorithm, digest, err := ParseHash(hash)
	if err != nil {
		return "", err
	}
	return "objects/" + algorithm + "/" + digest[:2] + "/" + digest, nil
}
