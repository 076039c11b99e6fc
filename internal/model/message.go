package model

import (
	"errors"
	"time"
)

// BodyKind — вид содержимого сообщения (tagged union вместо "может быть undefined").
type BodyKind string

const (
	BodyText           BodyKind = "text"
	BodyAttachment     BodyKind = "attachment"
	BodyTextAttachment BodyKind = "text_attachment"
)

// ErrEmptyBody возвращается при декодировании записи без текста и без вложения.
// Такие записи отбрасываются на границе хранилища, а не рендерятся пустыми.
var ErrEmptyBody = errors.New("message body: no text and no attachment")

// Attachment — загруженное вложение: публичный URL, заявленный тип и исходное имя файла.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name"`
}

// MessageBody — содержимое сообщения: текст, вложение или и то и другое.
type MessageBody struct {
	Kind       BodyKind    `json:"kind"`
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// DecodeBody собирает MessageBody из плоских колонок хранилища.
// Хотя бы одно из text/url обязано присутствовать.
func DecodeBody(text, url, mimeType, fileName string) (MessageBody, error) {
	hasText := text != ""
	hasAttachment := url != ""
	switch {
	case hasText && hasAttachment:
		return MessageBody{
			Kind:       BodyTextAttachment,
			Text:       text,
			Attachment: &Attachment{URL: url, MimeType: mimeType, FileName: fileName},
		}, nil
	case hasText:
		return MessageBody{Kind: BodyText, Text: text}, nil
	case hasAttachment:
		return MessageBody{
			Kind:       BodyAttachment,
			Attachment: &Attachment{URL: url, MimeType: mimeType, FileName: fileName},
		}, nil
	}
	return MessageBody{}, ErrEmptyBody
}

// Columns раскладывает тело обратно в плоские колонки для INSERT.
func (b MessageBody) Columns() (text, url, mimeType, fileName string) {
	text = b.Text
	if b.Attachment != nil {
		url = b.Attachment.URL
		mimeType = b.Attachment.MimeType
		fileName = b.Attachment.FileName
	}
	return text, url, mimeType, fileName
}

// Message — сообщение глобальной ленты. Неизменяемо после создания;
// SentAt назначает хранилище при записи, клиент сортирует по нему по возрастанию.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Body       MessageBody `json:"body"`
	SentAt     time.Time   `json:"sent_at"`
}
