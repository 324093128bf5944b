package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCaptureFilesAppendAndReset(t *testing.T) {
	dir := t.TempDir()
	files, err := OpenCaptureFiles(dir, 10)
	if err != nil {
		t.Fatalf("OpenCaptureFiles() error = %v", err)
	}
	defer func() { _ = files.Close() }()

	if err := files.AppendConsole("[12:00:00] hello"); err != nil {
		t.Fatalf("AppendConsole() error = %v", err)
	}
	if err := files.AppendNetwork("[12:00:00] 001 GET http://example.com"); err != nil {
		t.Fatalf("AppendNetwork() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "console.log"))
	if err != nil {
		t.Fatalf("read console.log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("console.log = %q, want hello line", data)
	}

	type rec struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := files.WriteExchange("001", rec{ID: "001", URL: "http://example.com"}); err != nil {
		t.Fatalf("WriteExchange() error = %v", err)
	}
	var got rec
	if err := files.ReadExchange("001", &got); err != nil {
		t.Fatalf("ReadExchange() error = %v", err)
	}
	if got.URL != "http://example.com" {
		t.Fatalf("ReadExchange URL = %q", got.URL)
	}

	if err := files.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "console.log")); !os.IsNotExist(err) {
		t.Fatal("console.log still present after Reset")
	}
	if err := files.ReadExchange("001", &got); err == nil {
		t.Fatal("ReadExchange after Reset = nil error, want missing file")
	}

	// Appends after a reset must recreate the logs.
	if err := files.AppendConsole("[12:00:01] after reset"); err != nil {
		t.Fatalf("AppendConsole() after Reset error = %v", err)
	}
}

func TestGroupCookiesByDomain(t *testing.T) {
	cookies := []Cookie{
		{Name: "a", Domain: ".example.com"},
		{Name: "b", Domain: "example.com"},
		{Name: "c", Domain: "api.example.com"},
	}
	groups := GroupCookiesByDomain(cookies)
	if len(groups["example.com"]) != 2 {
		t.Fatalf("example.com group = %d cookies, want 2", len(groups["example.com"]))
	}
	if len(groups["api.example.com"]) != 1 {
		t.Fatalf("api.example.com group = %d cookies, want 1", len(groups["api.example.com"]))
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := WritePIDFile(dir, 4242); err != nil {
		t.Fatalf("WritePIDFile() error = %v", err)
	}
	pid, err := ReadPIDFile(dir)
	if err != nil {
		t.Fatalf("ReadPIDFile() error = %v", err)
	}
	if pid != 4242 {
		t.Fatalf("ReadPIDFile() = %d, want 4242", pid)
	}
	if err := RemovePIDFile(dir); err != nil {
		t.Fatalf("RemovePIDFile() error = %v", err)
	}
	if err := RemovePIDFile(dir); err != nil {
		t.Fatalf("RemovePIDFile() second call error = %v", err)
	}
}
