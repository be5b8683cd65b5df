// Package rsync exposes the three librsync whole-file operations used by the
// sync engine: signature over a base file, delta of a new file against a
// signature, and patch of a base file with a delta. All three are pure
// file-to-file transforms.
package rsync

import (
	"bufio"
	"fmt"
	"os"

	"github.com/balena-os/librsync-go"
)

const (
	// DefaultBlockLen is the signature block size (RS_DEFAULT_BLOCK_LEN).
	DefaultBlockLen = 2048
	// DefaultStrongLen is the truncated strong-sum length (RS_DEFAULT_STRONG_LEN).
	DefaultStrongLen = 8
)

// Signature writes the rsync signature of the file at basePath to sigPath.
func Signature(basePath, sigPath string) error {
	base, err := os.Open(basePath)
	if err != nil {
		return fmt.Errorf("rsync signature: %w", err)
	}
	defer base.Close()

	sig, err := os.Create(sigPath)
	if err != nil {
		return fmt.Errorf("rsync signature: %w", err)
	}
	defer sig.Close()

	out := bufio.NewWriter(sig)
	if _, err := librsync.Signature(bufio.NewReader(base), out, DefaultBlockLen, DefaultStrongLen, librsync.BLAKE2_SIG_MAGIC); err != nil {
		return fmt.Errorf("rsync signature: %w", err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("rsync signature: %w", err)
	}
	return sig.Sync()
}

// Delta computes the delta turning the version described by the signature at
// sigPath into the file at newPath, and writes it to deltaPath.
func Delta(sigPath, newPath, deltaPath string) error {
	sig, err := librsync.ReadSignatureFile(sigPath)
	if err != nil {
		return fmt.Errorf("rsync delta: load signature: %w", err)
	}

	newFile, err := os.Open(newPath)
	if err != nil {
		return fmt.Errorf("rsync delta: %w", err)
	}
	defer newFile.Close()

	delta, err := os.Create(deltaPath)
	if err != nil {
		return fmt.Errorf("rsync delta: %w", err)
	}
	defer delta.Close()

	out := bufio.NewWriter(delta)
	if err := librsync.Delta(sig, bufio.NewReader(newFile), out); err != nil {
		return fmt.Errorf("rsync delta: %w", err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("rsync delta: %w", err)
	}
	return delta.Sync()
}

// Patch applies the delta at deltaPath to the base file at basePath and
// writes the produced version to outPath.
func Patch(basePath, deltaPath, outPath string) error {
	base, err := os.Open(basePath)
	if err != nil {
		return fmt.Errorf("rsync patch: %w", err)
	}
	defer base.Close()

	delta, err := os.Open(deltaPath)
	if err != nil {
		return fmt.Errorf("rsync patch: %w", err)
	}
	defer delta.Close()

	result, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("rsync patch: %w", err)
	}
	defer result.Close()

	out := bufio.NewWriter(result)
	if err := librsync.Patch(base, bufio.NewReader(delta), out); err != nil {
		return fmt.Errorf("rsync patch: %w", err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("rsync patch: %w", err)
	}
	return result.Sync()
}
