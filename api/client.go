package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/devmatch/chatsync/extract"
	"github.com/devmatch/chatsync/model"
	"github.com/rs/zerolog"
)

var (
	ErrRequest = errors.New("request failed")
	ErrStatus  = errors.New("unexpected response status")
	ErrDecode  = errors.New("unable to decode response")
)

type SendMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	FileURL     string `json:"file_url,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
}

// RoomRef is the room-creation answer. The backend returns the existing
// room when one is already there for the project.
type RoomRef struct {
	RoomID    int64  `json:"room_id"`
	ProjectID int64  `json:"project_id"`
	Message   string `json:"message,omitempty"`
}

type Client struct {
	httpc   *http.Client
	baseURL string
	token   string
	logger  zerolog.Logger
}

type Config struct {
	Logger     *zerolog.Logger
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewClient(cfg Config) *Client {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{
		httpc:   httpc,
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		logger:  cfg.Logger.With().Str("component", "api-client").Logger(),
	}
}

func (c *Client) Rooms(ctx context.Context) ([]model.Room, error) {
	var rooms []model.Room
	if err := c.doJSON(ctx, http.MethodGet, "/chat/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) Messages(ctx context.Context, roomID int64, limit int) ([]model.Message, error) {
	var msgs []model.Message
	path := fmt.Sprintf("/chat/rooms/%d/messages?limit=%d", roomID, limit)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) SendMessage(ctx context.Context, roomID int64, req SendMessageRequest) (*model.Message, error) {
	var msg model.Message
	path := fmt.Sprintf("/chat/rooms/%d/messages", roomID)
	if err := c.doJSON(ctx, http.MethodPost, path, &req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkRead(ctx context.Context, roomID int64) error {
	path := fmt.Sprintf("/chat/rooms/%d/read", roomID)
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) CreateRoom(ctx context.Context, projectID int64) (*RoomRef, error) {
	var ref RoomRef
	path := fmt.Sprintf("/chat/rooms/%d", projectID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (c *Client) Icebreakers(ctx context.Context) ([]string, error) {
	var lines []string
	if err := c.doJSON(ctx, http.MethodGet, "/chat/icebreakers", nil, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// ProjectSkills fetches the project document and pulls the normalized skill
// list out of it. Project documents are heterogeneous across backend
// versions, so decoding goes through the tolerant extractor instead of a
// typed schema.
func (c *Client) ProjectSkills(ctx context.Context, projectID int64) ([]string, error) {
	path := fmt.Sprintf("/projects/%d", projectID)
	raw, err := c.doRaw(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	return extract.Skills(raw), nil
}

// UploadFile posts the file as multipart form data and returns the stored
// file reference to pass into a file-message send.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (*model.FileRef, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, errors.Join(ErrRequest, err)
	}
	size, err := io.Copy(part, r)
	if err != nil {
		return nil, errors.Join(ErrRequest, err)
	}
	if err = mw.Close(); err != nil {
		return nil, errors.Join(ErrRequest, err)
	}

	raw, err := c.doRaw(ctx, http.MethodPost, "/chat/upload", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var ref model.FileRef
	if err = json.Unmarshal(raw, &ref); err != nil {
		return nil, errors.Join(ErrDecode, err)
	}
	if ref.Name == "" {
		ref.Name = name
	}
	if ref.Size == 0 {
		ref.Size = size
	}
	return &ref, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var (
		body        io.Reader
		contentType string
	)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Join(ErrRequest, err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	raw, err := c.doRaw(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err = json.Unmarshal(raw, out); err != nil {
		return errors.Join(ErrDecode, err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Join(ErrRequest, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Join(ErrRequest, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Join(ErrRequest, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Error().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("request rejected")
		return nil, errors.Join(ErrStatus, errors.New(strconv.Itoa(resp.StatusCode)))
	}
	c.logger.Trace().Str("method", method).Str("path", path).Msg("request done")
	return raw, nil
}
