package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"blockmail/internal/mail"
)

const (
	DefaultPinataTimeout = 30 * time.Second

	// Payloads are a few KB; anything far larger is not ours.
	maxPayloadSize = 1 << 20
)

// ErrPayloadTooLarge is returned by Get when the gateway serves more than
// maxPayloadSize bytes. It is not a transport failure.
var ErrPayloadTooLarge = errors.New("payload too large")

// PinataConfig configures the pinning API and the gateway used for reads.
type PinataConfig struct {
	APIURL     string
	Gateway    string
	JWT        string
	HTTPClient *http.Client
}

// PinataStore pins payloads as public JSON through the Pinata API and reads
// them back from an IPFS gateway. Content IDs are assigned by IPFS. Each
// call makes one request; failures go back to the caller unretried.
type PinataStore struct {
	apiURL     string
	gateway    string
	jwt        string
	httpClient *http.Client
}

// APIError is a non-success HTTP response from Pinata or the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("pinata: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("pinata: HTTP %d", e.StatusCode)
}

func NewPinataStore(cfg PinataConfig) (*PinataStore, error) {
	if cfg.JWT == "" {
		return nil, fmt.Errorf("pinata blob store requires a JWT")
	}
	if cfg.Gateway == "" {
		return nil, fmt.Errorf("pinata blob store requires a gateway")
	}

	p := &PinataStore{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		gateway:    normalizeGateway(cfg.Gateway),
		jwt:        cfg.JWT,
		httpClient: cfg.HTTPClient,
	}
	if p.apiURL == "" {
		p.apiURL = "https://api.pinata.cloud"
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: DefaultPinataTimeout}
	}
	return p, nil
}

// normalizeGateway accepts a bare host such as "example.mypinata.cloud".
func normalizeGateway(gw string) string {
	gw = strings.TrimRight(gw, "/")
	if !strings.HasPrefix(gw, "http://") && !strings.HasPrefix(gw, "https://") {
		gw = "https://" + gw
	}
	return gw
}

type pinRequest struct {
	Content json.RawMessage `json:"pinataContent"`
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

func (p *PinataStore) Upload(ctx context.Context, payload []byte) (string, error) {
	if !json.Valid(payload) {
		return "", fmt.Errorf("pinata upload: payload is not JSON")
	}
	body, err := json.Marshal(pinRequest{Content: payload})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/pinning/pinJSONToIPFS", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.jwt)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", mail.BlobUnavailable("upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", mail.BlobUnavailable("upload", parseErrorResponse(resp))
	}
	var out pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", mail.BlobUnavailable("upload", fmt.Errorf("failed to decode response: %w", err))
	}

	if _, err := ParseContentID(out.IpfsHash); err != nil {
		return "", mail.BlobUnavailable("upload", err)
	}
	return out.IpfsHash, nil
}

func (p *PinataStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	if _, err := ParseContentID(contentID); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.gateway+"/ipfs/"+contentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, mail.BlobUnavailable("get", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, mail.BlobUnavailable("get", parseErrorResponse(resp))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize+1))
	if err != nil {
		return nil, mail.BlobUnavailable("get", err)
	}
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("blob %s: %w (over %d bytes)", contentID, ErrPayloadTooLarge, maxPayloadSize)
	}
	return data, nil
}

func (p *PinataStore) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Message != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
		}
		var s string
		if json.Unmarshal(errResp.Error, &s) == nil && s != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: s}
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

var _ mail.BlobStore = (*PinataStore)(nil)
