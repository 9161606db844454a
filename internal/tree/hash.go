package tree

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// hashCopyBufferSize bounds the read buffer used while hashing. The value
// matches what io.Copy would allocate on its own.
const hashCopyBufferSize = 32 * 1024

// HashFile computes the SHA-1 digest of a file's contents as 40 lowercase
// hex characters. The hash is only used to detect changes, there is no
// cryptographic strength claim.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	defer f.Close()

	h := sha1.New()
	buf := make([]byte, hashCopyBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
