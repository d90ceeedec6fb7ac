package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// AuthSize is the length of the stored authentication blob: a 32 byte
// password digest followed by the 32 byte salt it was derived with.
const AuthSize = 64

// Hash derives the stored digest for a password and salt:
// SHA256(SHA256(password) XOR salt).
func Hash(password string, salt []byte) [sha256.Size]byte {
	digest := sha256.Sum256([]byte(password))
	for i := range digest {
		digest[i] ^= salt[i]
	}
	return sha256.Sum256(digest[:])
}

// Verify checks a password against a 64 byte auth blob. An all-zero blob
// means no password is set and never verifies. Both the all-zero probe and
// the digest comparison run in constant time.
func Verify(auth []byte, password string) bool {
	if len(auth) != AuthSize {
		return false
	}
	var set byte
	for _, b := range auth {
		set |= b
	}
	if subtle.ConstantTimeByteEq(set, 0) == 1 {
		return false
	}
	digest := Hash(password, auth[sha256.Size:])
	return subtle.ConstantTimeCompare(digest[:], auth[:sha256.Size]) == 1
}

// NIST CAVP byte-oriented test vectors, messages and digests hex encoded.
var selfTestVectors = [...]struct{ message, digest string }{
	{"",
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	{"5738c929c4f4ccb6",
		"963bb88f27f512777aab6c8b1a02c70ec0ad651d428f870036e1917120fb48bf"},
	{"1b503fb9a73b16ada3fcf1042623ae7610",
		"d5c30315f72ed05fe519a1bf75ab5fd0ffec5ac1acb0daf66b6b769598594509"},
	{"09fc1accc230a205e4a208e64a8f204291f581a12756392da4b8c0cf5ef02b95",
		"4f44c1c7fbebb6f9601829f3897bfd650c56fa07844be76489076356ac1886a4"},
	{"03b264be51e4b941864f9b70b4c958f5355aac294b4b87cb037f11f85f07eb57b3f0b89550",
		"d1f8bd684001ac5a4b67bbf79f87de524d2da99ac014dec3e4187728f4557471"},
	{"d1be3f13febafefc14414d9fb7f693db16dc1ae270c5b647d80da8583587c1ad8cb8cb01824324411ca5ace3ca22e179a4ff4986f3f21190f3d7f3",
		"02804978eba6e1de65afdbc6a6091ed6b1ecee51e8bff40646a251de6678b7ef"},
}

// SelfTest verifies the SHA-256 implementation against known-answer vectors.
// It runs once at startup; a failure is fatal because every password check
// depends on the digest being right.
func SelfTest() error {
	for i, v := range selfTestVectors {
		message, err := hex.DecodeString(v.message)
		if err != nil {
			return fmt.Errorf("sha-256 vector %d: bad message encoding: %w", i, err)
		}
		want, err := hex.DecodeString(v.digest)
		if err != nil {
			return fmt.Errorf("sha-256 vector %d: bad digest encoding: %w", i, err)
		}
		got := sha256.Sum256(message)
		if subtle.ConstantTimeCompare(got[:], want) != 1 {
			return fmt.Errorf("sha-256 vector %d: digest mismatch: got %x, want %x", i, got, want)
		}
	}
	return nil
}
