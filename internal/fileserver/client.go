package fileserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/lifesite/internal/logger"
)

// Client — удалённое хранилище вложений: тот же контракт Save/Delete, что и
// у Service, но поверх HTTP к микросервису файлов. Используется API, когда
// задан FileServiceURL.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Save загружает файл на микросервис. Поток пишется в multipart напрямую,
// без буферизации файла в памяти целиком.
func (c *Client) Save(ctx context.Context, src io.Reader, origName string, size int64) (*UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", origName)
		if err == nil {
			_, err = io.Copy(part, src)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		return nil, fmt.Errorf("fileClient.Save: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fileClient.Save: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusRequestEntityTooLarge:
		return nil, ErrTooLarge
	case http.StatusBadRequest:
		return nil, ErrBlockedType
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fileClient.Save: status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("fileClient.Save: decode: %w", err)
	}
	return &out, nil
}

// Delete удаляет файл по его публичному URL (откат неудачной записи).
// Маршрут закрыт InternalOnly на стороне микросервиса.
func (c *Client) Delete(fileURL string) {
	name := path.Base(fileURL)
	if name == "" || name == "." || name == "/" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+url.PathEscape(name), nil)
	if err != nil {
		return
	}
	req.Header.Set("X-Internal-Secret", os.Getenv("INTERNAL_VALIDATE_SECRET"))
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Errorf("fileClient.Delete %s: %v", name, err)
		return
	}
	resp.Body.Close()
}
