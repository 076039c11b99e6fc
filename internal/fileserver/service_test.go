package fileserver

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func newTestService(t *testing.T, limit int64) *Service {
	t.Helper()
	return New(t.TempDir(), limit)
}

func TestSaveAndServe(t *testing.T) {
	svc := newTestService(t, 5<<20)
	content := append(append([]byte(nil), pngHeader...), bytes.Repeat([]byte{0xAB}, 600)...)

	resp, err := svc.Save(context.Background(), bytes.NewReader(content), "photo.png", int64(len(content)))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if resp.FileSize != int64(len(content)) {
		t.Errorf("FileSize = %d, ожидалось %d", resp.FileSize, len(content))
	}
	if resp.ContentType != "image" {
		t.Errorf("ContentType = %q", resp.ContentType)
	}
	if !strings.HasPrefix(resp.URL, "/api/files/") || !strings.HasSuffix(resp.URL, ".png") {
		t.Errorf("URL = %q", resp.URL)
	}

	// На диске лежит gzip, раздача возвращает исходные байты.
	stored := filepath.Join(svc.UploadDir, filepath.Base(resp.URL)+".gz")
	f, err := os.Open(stored)
	if err != nil {
		t.Fatalf("сжатый файл не создан: %v", err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(gz)
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, content) {
		t.Error("содержимое на диске не совпадает с исходным")
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/files/x?name=photo.png", nil)
	svc.Serve(rec, req, filepath.Base(resp.URL))
	if rec.Code != 200 {
		t.Fatalf("Serve status = %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Error("Serve вернул не исходные байты")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "photo.png") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestSaveRejectsDeclaredOversize(t *testing.T) {
	svc := newTestService(t, 1024)
	_, err := svc.Save(context.Background(), strings.NewReader("x"), "a.txt", 2048)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ожидался ErrTooLarge, получено %v", err)
	}
}

func TestSaveRejectsActualOversize(t *testing.T) {
	// Заявленный размер врёт: лимит применяется к фактическому потоку.
	svc := newTestService(t, 1024)
	big := bytes.Repeat([]byte("a"), 4096)
	_, err := svc.Save(context.Background(), bytes.NewReader(big), "a.txt", 100)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ожидался ErrTooLarge, получено %v", err)
	}
	entries, _ := os.ReadDir(svc.UploadDir)
	if len(entries) != 0 {
		t.Errorf("частичная загрузка не удалена: %v", entries)
	}
}

func TestSaveRejectsBlockedAndSpoofed(t *testing.T) {
	svc := newTestService(t, 5<<20)
	if _, err := svc.Save(context.Background(), strings.NewReader("#!/bin/sh"), "run.sh", 9); !errors.Is(err, ErrBlockedType) {
		t.Errorf("опасное расширение пропущено: %v", err)
	}
	// Текст под видом PNG: сигнатура не совпадает.
	if _, err := svc.Save(context.Background(), strings.NewReader("definitely not a png, padded to 512+ bytes "+strings.Repeat("x", 600)), "fake.png", 650); !errors.Is(err, ErrBlockedType) {
		t.Errorf("подделанный тип пропущен: %v", err)
	}
}

func TestDeleteRemovesStoredFile(t *testing.T) {
	svc := newTestService(t, 5<<20)
	resp, err := svc.Save(context.Background(), strings.NewReader("plain text attachment"), "note.txt", 21)
	if err != nil {
		t.Fatal(err)
	}
	svc.Delete(resp.URL)
	entries, _ := os.ReadDir(svc.UploadDir)
	if len(entries) != 0 {
		t.Errorf("файл остался после Delete: %v", entries)
	}
}

func TestServeNotFound(t *testing.T) {
	svc := newTestService(t, 5<<20)
	rec := httptest.NewRecorder()
	svc.Serve(rec, httptest.NewRequest("GET", "/api/files/x", nil), "missing.png")
	if rec.Code != 404 {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSafeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"report.pdf", "report.pdf"},
		{"с пробелами.txt", "с пробелами.txt"},
		{"bad\"quote\n.txt", "badquote.txt"},
		{"../../etc/passwd", "....etcpasswd"},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := safeFilename(tt.in); got != tt.want {
			t.Errorf("safeFilename(%q) = %q, ожидалось %q", tt.in, got, tt.want)
		}
	}
}
