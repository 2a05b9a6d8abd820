package backup

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FormatVersion is the current backup file version.
const FormatVersion = 1

// Compression names the payload codec recorded in the header.
const Compression = "zstd"

// MaxDecompressedSize is the maximum allowed size of decompressed backup data (200MB).
const MaxDecompressedSize = 200 * 1024 * 1024

// Header is the plain-text first line of a backup file. The rest of the
// file is the zstd-compressed row dump.
type Header struct {
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	Checksum    string            `json:"checksum"`
	Rows        int               `json:"rows"`
	Compression string            `json:"compression"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

func compress(payload []byte) ([]byte, error) {
	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := enc.Write(payload); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing zstd writer: %w", err)
	}
	return compressed.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	limited := io.LimitReader(dec, MaxDecompressedSize+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(out)) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}
	return out, nil
}

// writeFile writes header and the compressed payload to path. The header's
// checksum and compression fields are filled in here.
func writeFile(path string, header Header, payload []byte) (*Header, error) {
	compressed, err := compress(payload)
	if err != nil {
		return nil, err
	}
	header.Version = FormatVersion
	header.Compression = Compression
	header.Checksum = checksum(compressed)

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(headerBytes, '\n')); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(compressed); err != nil {
		return nil, fmt.Errorf("writing compressed payload: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("syncing file: %w", err)
	}
	return &header, nil
}

// open reads the header of path and leaves the reader at the payload.
func open(path string) (*os.File, *bufio.Reader, *Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening file: %w", err)
	}
	reader := bufio.NewReader(f)
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("reading header line: %w", err)
	}

	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		f.Close()
		return nil, nil, nil, fmt.Errorf("unsupported backup version: %d", header.Version)
	}
	if header.Compression != Compression {
		f.Close()
		return nil, nil, nil, fmt.Errorf("unsupported backup compression: %q", header.Compression)
	}
	return f, reader, &header, nil
}

// readVerified returns the header and the compressed payload after checking
// the checksum.
func readVerified(path string) (*Header, []byte, error) {
	f, reader, header, err := open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	if actual := checksum(compressed); actual != header.Checksum {
		return nil, nil, fmt.Errorf("checksum mismatch: expected %s, got %s", header.Checksum, actual)
	}
	return header, compressed, nil
}

// ReadPayload verifies the file and returns its header and the decompressed
// row dump.
func ReadPayload(path string) (*Header, []byte, error) {
	header, compressed, err := readVerified(path)
	if err != nil {
		return nil, nil, err
	}
	payload, err := decompress(compressed)
	if err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}

// ReadHeader reads only the header line from a backup file without decompressing.
func ReadHeader(path string) (*Header, error) {
	f, _, header, err := open(path)
	if err != nil {
		return nil, err
	}
	f.Close()
	return header, nil
}

// VerifyChecksum checks the integrity of a backup file without decompressing it.
func VerifyChecksum(path string) error {
	_, _, err := readVerified(path)
	return err
}
