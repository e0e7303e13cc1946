package content

import (
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want Variant
	}{
		{"nil", nil, Empty},
		{"empty message", &waE2E.Message{}, Empty},
		{"conversation", &waE2E.Message{Conversation: proto.String("hi")}, Text},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}, Text},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, Image},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, Video},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, Audio},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, Sticker},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, Document},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, Other},
		{"contact", &waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, Other},
		{"protocol only", &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{}}, Empty},
		{"reaction", &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{}}, Empty},
		{"ephemeral text", &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{Conversation: proto.String("vanishing")},
		}}, Text},
		{"view once image", &waE2E.Message{ViewOnceMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}},
		}}, Image},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.msg); got != tt.want {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasContent(t *testing.T) {
	if HasContent(&waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{}}) {
		t.Error("protocol-only envelope should not carry content")
	}
	if !HasContent(&waE2E.Message{Conversation: proto.String("x")}) {
		t.Error("text message should carry content")
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, "look"},
		{"image (no caption)", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText(tt.msg); got != tt.want {
				t.Errorf("ExtractText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDescribeMediaDocument(t *testing.T) {
	msg := &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		Mimetype:   proto.String("application/pdf"),
		FileName:   proto.String("report.pdf"),
		Caption:    proto.String("q3"),
		FileLength: proto.Uint64(2048),
	}}

	m, ok := DescribeMedia(msg)
	if !ok {
		t.Fatal("DescribeMedia() ok = false for document")
	}
	if m.Variant != Document || m.FileName != "report.pdf" || m.Mimetype != "application/pdf" {
		t.Errorf("media = %+v", m)
	}
	if m.Caption != "q3" || m.Length != 2048 {
		t.Errorf("caption/length = %q/%d, want q3/2048", m.Caption, m.Length)
	}
}

func TestDescribeMediaRejectsText(t *testing.T) {
	if _, ok := DescribeMedia(&waE2E.Message{Conversation: proto.String("hi")}); ok {
		t.Error("DescribeMedia() ok = true for text")
	}
}
