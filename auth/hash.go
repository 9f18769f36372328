package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/dormoron/polyel/internal/errs"
)

// Hasher 生成并校验密码哈希
type Hasher interface {
	Hash(password string) (string, error)
	// Check 匹配返回 nil，不匹配返回 errs.ErrPasswordMismatch
	Check(password, hash string) error
}

// BcryptHasher 是默认的哈希算法
type BcryptHasher struct {
	Cost int
}

func (b BcryptHasher) Hash(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	res, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("auth: bcrypt 哈希失败: %w", err)
	}
	return string(res), nil
}

func (b BcryptHasher) Check(password, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return errs.ErrPasswordMismatch()
	default:
		return errs.ErrInvalidHash()
	}
}

// Argon2Params argon2id 参数
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher 生成 $argon2id$v=..$m=..,t=..,p=..$salt$hash 格式的哈希
type Argon2Hasher struct {
	Params Argon2Params
}

func (a Argon2Hasher) Hash(password string) (string, error) {
	p := a.Params
	if p.KeyLength == 0 {
		p = DefaultArgon2Params()
	}
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

func (a Argon2Hasher) Check(password, hash string) error {
	p, salt, key, err := decodeArgon2(hash)
	if err != nil {
		return err
	}
	other := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	if subtle.ConstantTimeCompare(key, other) == 1 {
		return nil
	}
	return errs.ErrPasswordMismatch()
}

func decodeArgon2(hash string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params
	vals := strings.Split(hash, "$")
	if len(vals) != 6 || vals[1] != "argon2id" {
		return p, nil, nil, errs.ErrInvalidHash()
	}
	var version int
	if _, err := fmt.Sscanf(vals[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, errs.ErrInvalidHash()
	}
	if _, err := fmt.Sscanf(vals[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, errs.ErrInvalidHash()
	}
	salt, err := base64.RawStdEncoding.DecodeString(vals[4])
	if err != nil {
		return p, nil, nil, errs.ErrInvalidHash()
	}
	key, err := base64.RawStdEncoding.DecodeString(vals[5])
	if err != nil {
		return p, nil, nil, errs.ErrInvalidHash()
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}

// MultiHasher 用 Primary 生成哈希，校验时按哈希前缀选择算法，便于从旧算法迁移
type MultiHasher struct {
	Primary Hasher
}

func (m MultiHasher) Hash(password string) (string, error) {
	if m.Primary == nil {
		return BcryptHasher{}.Hash(password)
	}
	return m.Primary.Hash(password)
}

func (m MultiHasher) Check(password, hash string) error {
	if strings.HasPrefix(hash, "$argon2id$") {
		return Argon2Hasher{}.Check(password, hash)
	}
	return BcryptHasher{}.Check(password, hash)
}
