package content

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
)

// Variant is the kind of payload a message carries.
type Variant string

const (
	Text     Variant = "text"
	Image    Variant = "image"
	Video    Variant = "video"
	Audio    Variant = "audio"
	Sticker  Variant = "sticker"
	Document Variant = "document"
	Other    Variant = "other"
	Empty    Variant = "empty"
)

// IsMedia reports whether the variant is backed by downloadable media.
func (v Variant) IsMedia() bool {
	switch v {
	case Image, Video, Audio, Sticker, Document:
		return true
	}
	return false
}

// Unwrap strips the ephemeral, view-once and document-with-caption envelopes
// so the caller sees the message that actually carries content.
func Unwrap(msg *waE2E.Message) *waE2E.Message {
	for i := 0; msg != nil && i < 4; i++ {
		switch {
		case msg.GetEphemeralMessage().GetMessage() != nil:
			msg = msg.GetEphemeralMessage().GetMessage()
		case msg.GetViewOnceMessage().GetMessage() != nil:
			msg = msg.GetViewOnceMessage().GetMessage()
		case msg.GetViewOnceMessageV2().GetMessage() != nil:
			msg = msg.GetViewOnceMessageV2().GetMessage()
		case msg.GetDocumentWithCaptionMessage().GetMessage() != nil:
			msg = msg.GetDocumentWithCaptionMessage().GetMessage()
		default:
			return msg
		}
	}
	return msg
}

// Detect returns the content variant of msg after unwrapping.
func Detect(msg *waE2E.Message) Variant {
	msg = Unwrap(msg)
	if msg == nil {
		return Empty
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage().GetText() != "":
		return Text
	case msg.GetImageMessage() != nil:
		return Image
	case msg.GetVideoMessage() != nil:
		return Video
	case msg.GetAudioMessage() != nil:
		return Audio
	case msg.GetStickerMessage() != nil:
		return Sticker
	case msg.GetDocumentMessage() != nil:
		return Document
	case msg.GetProtocolMessage() != nil, msg.GetReactionMessage() != nil:
		return Empty
	case msg.GetContactMessage() != nil,
		msg.GetContactsArrayMessage() != nil,
		msg.GetLocationMessage() != nil,
		msg.GetLiveLocationMessage() != nil,
		msg.GetPollCreationMessage() != nil:
		return Other
	}
	return Empty
}

// HasContent reports whether msg carries anything worth recovering later.
// Protocol-only envelopes, reactions and key distribution messages do not.
func HasContent(msg *waE2E.Message) bool {
	return Detect(msg) != Empty
}

// ExtractText returns the text body of a text message, or the caption of a
// media message.
func ExtractText(msg *waE2E.Message) string {
	msg = Unwrap(msg)
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return Caption(msg)
}

// Caption returns the caption of a media message, if any.
func Caption(msg *waE2E.Message) string {
	msg = Unwrap(msg)
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

// Media describes the downloadable part of a media message.
type Media struct {
	Variant  Variant
	Mimetype string
	FileName string
	Caption  string
	Length   uint64
	PTT      bool
}

// DescribeMedia returns the media metadata of msg. ok is false for
// non-media variants.
func DescribeMedia(msg *waE2E.Message) (Media, bool) {
	msg = Unwrap(msg)
	v := Detect(msg)
	m := Media{Variant: v}
	switch v {
	case Image:
		im := msg.GetImageMessage()
		m.Mimetype, m.Caption, m.Length = im.GetMimetype(), im.GetCaption(), im.GetFileLength()
	case Video:
		vm := msg.GetVideoMessage()
		m.Mimetype, m.Caption, m.Length = vm.GetMimetype(), vm.GetCaption(), vm.GetFileLength()
	case Audio:
		am := msg.GetAudioMessage()
		m.Mimetype, m.Length, m.PTT = am.GetMimetype(), am.GetFileLength(), am.GetPTT()
	case Sticker:
		sm := msg.GetStickerMessage()
		m.Mimetype, m.Length = sm.GetMimetype(), sm.GetFileLength()
	case Document:
		dm := msg.GetDocumentMessage()
		m.Mimetype, m.Caption, m.Length = dm.GetMimetype(), dm.GetCaption(), dm.GetFileLength()
		m.FileName = dm.GetFileName()
	default:
		return Media{}, false
	}
	return m, true
}
