package parse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLocalParserPlaintextPassthrough(t *testing.T) {
	p := NewLocalParser()

	got, err := p.Parse(context.Background(), strings.NewReader("line one\nline two"), "notes.txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != "line one\nline two" {
		t.Errorf("Parse = %q, want passthrough", got)
	}
}

func TestLocalParserBadPDF(t *testing.T) {
	p := NewLocalParser()

	if _, err := p.Parse(context.Background(), strings.NewReader("not a pdf"), "broken.pdf"); err == nil {
		t.Fatal("expected error for malformed pdf")
	}
}

func TestOCRClientParse(t *testing.T) {
	var gotMode, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/parse" {
			t.Errorf("path = %q, want /parse", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart: %v", err)
		}
		gotMode = r.FormValue("mode")
		if fhs := r.MultipartForm.File["file"]; len(fhs) == 1 {
			gotFile = fhs[0].Filename
		}
		w.Write([]byte(`{"content":"extracted text"}`))
	}))
	defer srv.Close()

	c := NewOCRClient(srv.URL, "ocr_high_res")
	got, err := c.Parse(context.Background(), strings.NewReader("%PDF..."), "staged-1.pdf")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != "extracted text" {
		t.Errorf("Parse = %q, want %q", got, "extracted text")
	}
	if gotMode != "ocr_high_res" {
		t.Errorf("mode = %q, want ocr_high_res", gotMode)
	}
	if gotFile != "staged-1.pdf" {
		t.Errorf("file name = %q, want staged-1.pdf", gotFile)
	}
}

func TestOCRClientServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unreadable scan", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewOCRClient(srv.URL, "ocr")
	if _, err := c.Parse(context.Background(), strings.NewReader("x"), "f.pdf"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
