package model

import (
	"errors"
	"testing"
)

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		url      string
		wantKind BodyKind
		wantErr  bool
	}{
		{"только текст", "hello", "", BodyText, false},
		{"только вложение", "", "/api/files/x.png", BodyAttachment, false},
		{"текст и вложение", "look", "/api/files/x.png", BodyTextAttachment, false},
		{"ни того ни другого", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := DecodeBody(tt.text, tt.url, "image/png", "x.png")
			if tt.wantErr {
				if !errors.Is(err, ErrEmptyBody) {
					t.Fatalf("ожидался ErrEmptyBody, получено %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeBody: %v", err)
			}
			if body.Kind != tt.wantKind {
				t.Errorf("Kind = %q, ожидалось %q", body.Kind, tt.wantKind)
			}
			if (tt.url != "") != (body.Attachment != nil) {
				t.Errorf("Attachment = %v при url=%q", body.Attachment, tt.url)
			}
		})
	}
}

func TestBodyColumnsRoundTrip(t *testing.T) {
	body, err := DecodeBody("see this", "/api/files/a.pdf", "application/pdf", "report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	text, url, mime, name := body.Columns()
	back, err := DecodeBody(text, url, mime, name)
	if err != nil {
		t.Fatal(err)
	}
	if back.Kind != body.Kind || back.Text != body.Text || *back.Attachment != *body.Attachment {
		t.Errorf("round trip изменил тело: %+v -> %+v", body, back)
	}
}
