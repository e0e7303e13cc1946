package wa

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/wppguard/internal/content"
	"go.mau.fi/whatsmeow"
)

func TestMediaType(t *testing.T) {
	tests := []struct {
		variant content.Variant
		want    whatsmeow.MediaType
	}{
		{content.Image, whatsmeow.MediaImage},
		{content.Sticker, whatsmeow.MediaImage},
		{content.Video, whatsmeow.MediaVideo},
		{content.Audio, whatsmeow.MediaAudio},
		{content.Document, whatsmeow.MediaDocument},
	}
	for _, tt := range tests {
		if got := mediaType(tt.variant); got != tt.want {
			t.Errorf("mediaType(%s) = %q, want %q", tt.variant, got, tt.want)
		}
	}
}

func TestBuildMediaMessage(t *testing.T) {
	up := whatsmeow.UploadResponse{
		URL:        "https://mmg.whatsapp.net/x",
		DirectPath: "/v/t62/x",
		MediaKey:   []byte{1, 2, 3},
		FileLength: 42,
	}

	img, err := buildMediaMessage(content.Media{Variant: content.Image, Caption: "cap", Mimetype: "image/jpeg"}, up)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if img.GetImageMessage().GetCaption() != "cap" || img.GetImageMessage().GetFileLength() != 42 {
		t.Errorf("image message = %v", img.GetImageMessage())
	}

	voice, err := buildMediaMessage(content.Media{Variant: content.Audio, PTT: true}, up)
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	if !voice.GetAudioMessage().GetPTT() {
		t.Error("voice note lost its PTT flag")
	}

	doc, err := buildMediaMessage(content.Media{Variant: content.Document, FileName: "report.pdf"}, up)
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if doc.GetDocumentMessage().GetFileName() != "report.pdf" {
		t.Errorf("FileName = %q", doc.GetDocumentMessage().GetFileName())
	}
	if doc.GetDocumentMessage().Caption != nil {
		t.Error("empty caption should be omitted")
	}

	if _, err := buildMediaMessage(content.Media{Variant: content.Text}, up); err == nil {
		t.Error("expected error for non-media variant")
	}
}

func TestWipeCredentials(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "session.db")
	for _, p := range []string{dbPath, dbPath + "-wal"} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	a := &Adapter{dbPath: dbPath}
	if err := a.WipeCredentials(); err != nil {
		t.Fatalf("WipeCredentials: %v", err)
	}
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists", filepath.Base(p))
		}
	}

	// Wiping twice is harmless.
	if err := a.WipeCredentials(); err != nil {
		t.Errorf("second WipeCredentials: %v", err)
	}
}

func TestOwnerJIDOverride(t *testing.T) {
	a := &Adapter{opts: Options{OwnerJID: "558592403672@s.whatsapp.net"}}
	jid, err := a.OwnerJID()
	if err != nil {
		t.Fatalf("OwnerJID: %v", err)
	}
	if jid.User != "558592403672" {
		t.Errorf("User = %q", jid.User)
	}
}

func TestRenderQR(t *testing.T) {
	out, err := RenderQR("2@abcdef,ghijkl,mnopqr")
	if err != nil {
		t.Fatalf("RenderQR: %v", err)
	}
	if strings.Count(out, "\n") < 10 {
		t.Errorf("rendered QR too small:\n%s", out)
	}
}
