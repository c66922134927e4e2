package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

func main() {
	version := flag.Int("version", 1, "key version to prefix the key with")
	size := flag.Int("bytes", 32, "key length in bytes")
	flag.Parse()

	if err := run(os.Stdout, rand.Reader, *version, *size); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run prints one APP_CREDENTIAL_KEYS entry.
func run(w io.Writer, random io.Reader, version, size int) error {
	if version < 1 {
		return errors.New("version must be at least 1")
	}
	if size < 16 {
		return errors.New("keys must be at least 16 bytes")
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(random, key); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	_, err := fmt.Fprintf(w, "%d:%s\n", version, base64.StdEncoding.EncodeToString(key))
	return err
}
