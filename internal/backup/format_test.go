package backup

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteFile_ReadPayload_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.wlb")
	payload := []byte(strings.Repeat(`{"table":"eternal","key":["k"],"branch":0,"tick":0,"value":1}`+"\n", 50))

	now := time.Now().UTC().Truncate(time.Millisecond)
	written, err := writeFile(path, Header{CreatedAt: now, Rows: 50}, payload)
	if err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}
	if written.Version != FormatVersion {
		t.Errorf("Version = %d, want %d", written.Version, FormatVersion)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("backup file not created: %v", err)
	}
	if info.Size() >= int64(len(payload)) {
		t.Errorf("file size %d not smaller than payload %d", info.Size(), len(payload))
	}

	header, got, err := ReadPayload(path)
	if err != nil {
		t.Fatalf("ReadPayload() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload changed in round trip")
	}
	if !header.CreatedAt.Equal(now) || header.Rows != 50 {
		t.Errorf("header = %+v", header)
	}
}

func TestReadPayload_CorruptedChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupted.wlb")
	if _, err := writeFile(path, Header{CreatedAt: time.Now()}, []byte("rows\n")); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("CORRUPTED"))
	f.Close()

	if _, _, err := ReadPayload(path); err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("ReadPayload() error = %v, want checksum mismatch", err)
	}
	if err := VerifyChecksum(path); err == nil {
		t.Error("VerifyChecksum() should fail on a tampered file")
	}
}

func TestVerifyChecksum_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "valid.wlb")
	if _, err := writeFile(path, Header{CreatedAt: time.Now()}, []byte("rows\n")); err != nil {
		t.Fatal(err)
	}
	if err := VerifyChecksum(path); err != nil {
		t.Errorf("VerifyChecksum() error = %v", err)
	}
}

func TestReadHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "header.wlb")
	if _, err := writeFile(path, Header{CreatedAt: time.Now(), Rows: 7, Metadata: map[string]string{"tables": "2"}}, []byte("x")); err != nil {
		t.Fatal(err)
	}
	header, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if header.Rows != 7 || header.Metadata["tables"] != "2" {
		t.Errorf("header = %+v", header)
	}

	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"not json", "hello\n"},
		{"future version", `{"version":9,"compression":"zstd"}` + "\n"},
		{"gzip", `{"version":1,"compression":"gzip"}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(dir, tt.name+".wlb")
			if err := os.WriteFile(p, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := ReadHeader(p); err == nil {
				t.Error("ReadHeader() should fail")
			}
		})
	}
}
