package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go_relay/internal/relay/models"
	"go_relay/internal/relay/transform"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// fileClient 下载媒体所需的 Bot API 子集
type fileClient interface {
	GetFile(ctx context.Context, params *bot.GetFileParams) (*botModels.File, error)
	FileDownloadLink(f *botModels.File) string
}

// Fetcher 下载源消息中的媒体
type Fetcher struct {
	client   fileClient
	http     *http.Client
	maxBytes int64
}

// NewFetcher 创建下载器；maxBytes <= 0 表示不限制
func NewFetcher(client fileClient, maxBytes int64) *Fetcher {
	return &Fetcher{
		client:   client,
		http:     &http.Client{Timeout: 2 * time.Minute},
		maxBytes: maxBytes,
	}
}

// FetchMedia 下载媒体字节
func (f *Fetcher) FetchMedia(ctx context.Context, ref *models.MediaRef) ([]byte, error) {
	if ref == nil || ref.FileID == "" {
		return nil, fmt.Errorf("fetch media: missing file id")
	}
	if f.maxBytes > 0 && ref.FileSize > f.maxBytes {
		return nil, fmt.Errorf("fetch media: %w (%d > %d bytes)", transform.ErrMediaTooLarge, ref.FileSize, f.maxBytes)
	}

	file, err := f.client.GetFile(ctx, &bot.GetFileParams{FileID: ref.FileID})
	if err != nil {
		return nil, decodeError("getFile", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.client.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("fetch media: read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("fetch media: %w (> %d bytes)", transform.ErrMediaTooLarge, f.maxBytes)
	}
	return data, nil
}
