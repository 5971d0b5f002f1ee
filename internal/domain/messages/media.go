package messages

import "github.com/gotd/td/tg"

// MediaKind — фасет медиа во внешней форме сообщения.
type MediaKind string

const (
	KindText     MediaKind = "text"
	KindPhoto    MediaKind = "photo"
	KindVideo    MediaKind = "video"
	KindDocument MediaKind = "document"
	KindAudio    MediaKind = "audio"
	KindVoice    MediaKind = "voice"
	KindSticker  MediaKind = "sticker"
	KindLink     MediaKind = "link"
	KindPoll     MediaKind = "poll"
)

// knownKinds перечисляет допустимые значения фасета для валидации фильтров.
var knownKinds = map[MediaKind]struct{}{
	KindText:     {},
	KindPhoto:    {},
	KindVideo:    {},
	KindDocument: {},
	KindAudio:    {},
	KindVoice:    {},
	KindSticker:  {},
	KindLink:     {},
	KindPoll:     {},
}

// ParseKind проверяет строку на принадлежность к известным фасетам.
func ParseKind(s string) (MediaKind, bool) {
	k := MediaKind(s)
	_, ok := knownKinds[k]
	return k, ok
}

// Attachment — метаданные вложения. Заполняются по мере того, что Telegram
// сообщил о файле; нулевые поля опускаются в JSON.
type Attachment struct {
	Kind        MediaKind `json:"kind"`
	MimeType    string    `json:"mime_type,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	DurationSec int       `json:"duration_sec,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Title       string    `json:"title,omitempty"`
	URL         string    `json:"url,omitempty"`
}

// Classify определяет фасет медиа, признак has_media и метаданные вложения.
// Правила:
//   - сообщение без медиа — "text";
//   - превью ссылки (webpage) — "link" с has_media=false: файла у сообщения нет;
//   - документы уточняются по атрибутам (sticker/voice/video/audio), иначе "document";
//   - типы вне фасетного перечня сводятся к "document" с has_media=true.
func Classify(media tg.MessageMediaClass) (MediaKind, bool, *Attachment) {
	if media == nil {
		return KindText, false, nil
	}

	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return KindPhoto, true, photoAttachment(m)
	case *tg.MessageMediaDocument:
		kind, att := classifyDocument(m)
		return kind, true, att
	case *tg.MessageMediaWebPage:
		return KindLink, false, webpageAttachment(m)
	case *tg.MessageMediaPoll:
		return KindPoll, true, nil
	default:
		return KindDocument, true, nil
	}
}

// photoAttachment достаёт габариты наибольшего размера фотографии.
func photoAttachment(m *tg.MessageMediaPhoto) *Attachment {
	att := &Attachment{Kind: KindPhoto}
	photo, ok := m.GetPhoto()
	if !ok {
		return att
	}
	p, ok := photo.(*tg.Photo)
	if !ok {
		return att
	}
	for _, size := range p.Sizes {
		var w, h int
		switch s := size.(type) {
		case *tg.PhotoSize:
			w, h = s.W, s.H
		case *tg.PhotoSizeProgressive:
			w, h = s.W, s.H
		case *tg.PhotoCachedSize:
			w, h = s.W, s.H
		default:
			continue
		}
		if w > att.Width {
			att.Width = w
			att.Height = h
		}
	}
	return att
}

// classifyDocument уточняет фасет документа по его атрибутам. При нескольких
// фасетах сразу побеждает первый в порядке video, audio, voice, sticker;
// "document" остаётся за файлами без специализированных атрибутов.
func classifyDocument(m *tg.MessageMediaDocument) (MediaKind, *Attachment) {
	doc, ok := m.Document.(*tg.Document)
	if !ok {
		return KindDocument, nil
	}

	att := &Attachment{
		Kind:      KindDocument,
		MimeType:  doc.MimeType,
		SizeBytes: doc.Size,
	}

	var isSticker, isVoice, isAudio, isVideo, isAnimated bool
	for _, a := range doc.Attributes {
		switch attr := a.(type) {
		case *tg.DocumentAttributeSticker:
			isSticker = true
		case *tg.DocumentAttributeAudio:
			if attr.Voice {
				isVoice = true
			} else {
				isAudio = true
			}
			if att.DurationSec == 0 {
				att.DurationSec = attr.Duration
			}
			if attr.Title != "" {
				att.Title = attr.Title
			}
		case *tg.DocumentAttributeVideo:
			isVideo = true
			att.DurationSec = int(attr.Duration)
			att.Width, att.Height = attr.W, attr.H
		case *tg.DocumentAttributeAnimated:
			isAnimated = true
		case *tg.DocumentAttributeFilename:
			att.FileName = attr.FileName
		case *tg.DocumentAttributeImageSize:
			if att.Width == 0 {
				att.Width, att.Height = attr.W, attr.H
			}
		}
	}

	switch {
	case isVideo || isAnimated:
		att.Kind = KindVideo
	case isAudio:
		att.Kind = KindAudio
	case isVoice:
		att.Kind = KindVoice
	case isSticker:
		att.Kind = KindSticker
	}
	return att.Kind, att
}

// webpageAttachment достаёт URL и заголовок превью, когда страница уже развёрнута.
func webpageAttachment(m *tg.MessageMediaWebPage) *Attachment {
	page, ok := m.Webpage.(*tg.WebPage)
	if !ok {
		return nil
	}
	return &Attachment{
		Kind:  KindLink,
		URL:   page.URL,
		Title: page.Title,
	}
}
