package models

// Attachment is a tagged variant carried on user and tool entries. Exactly
// one of the Kind fields is set. The JSON shape is stable because it is
// embedded verbatim in formatted messages (see the format package).
type Attachment struct {
	Title string         `json:"title,omitempty"`
	Kind  AttachmentKind `json:"kind"`
}

// AttachmentKind holds the variant payload. The field names double as the
// wire tags, so they are serialized capitalized.
type AttachmentKind struct {
	Text  *TextAttachment  `json:"Text,omitempty"`
	Pdf   *PdfAttachment   `json:"Pdf,omitempty"`
	Image *ImageAttachment `json:"Image,omitempty"`
}

// TextAttachment is inline text content.
type TextAttachment struct {
	Content string `json:"content"`
}

// PdfAttachment is an uploaded PDF document.
type PdfAttachment struct {
	Bytes    []byte `json:"bytes"`
	Filename string `json:"filename,omitempty"`
}

// ImageAttachment references an image by URI.
type ImageAttachment struct {
	URI  string `json:"uri"`
	Mime string `json:"mime"`
}

// TextOf is a convenience constructor for a text attachment.
func TextOf(title, content string) Attachment {
	return Attachment{Title: title, Kind: AttachmentKind{Text: &TextAttachment{Content: content}}}
}
