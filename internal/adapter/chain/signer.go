package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
)

// SignerClient asks an external signing service to pay out from the
// platform hot wallet. Keys never enter this process.
type SignerClient struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// NewSignerClient creates a SignerClient.
func NewSignerClient(baseURL, authToken string, httpClient *http.Client) *SignerClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &SignerClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		http:      httpClient,
	}
}

type sendRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
}

type sendResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

// SendTokens broadcasts a bank send and returns its hash.
func (c *SignerClient) SendTokens(ctx context.Context, to string, amount decimal.Decimal, denom string) (string, error) {
	buf, err := json.Marshal(sendRequest{To: to, Amount: domain.FormatAmount(amount), Denom: denom})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("signer send failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("signer send failed: %s", out.Error)
	}
	if out.TxHash == "" {
		return "", errors.New("signer returned empty tx hash")
	}
	return out.TxHash, nil
}

// Client joins an LCD reader and a signer into a usecase.ChainClient.
type Client struct {
	*LCDClient
	signer *SignerClient
}

// ErrSignerNotConfigured is returned by SendTokens on a read-only client.
var ErrSignerNotConfigured = errors.New("chain signer not configured")

// NewClient creates a Client. signer may be nil for a read-only deployment.
func NewClient(lcd *LCDClient, signer *SignerClient) *Client {
	return &Client{LCDClient: lcd, signer: signer}
}

// SendTokens delegates to the signer.
func (c *Client) SendTokens(ctx context.Context, to string, amount decimal.Decimal, denom string) (string, error) {
	if c.signer == nil {
		return "", ErrSignerNotConfigured
	}
	return c.signer.SendTokens(ctx, to, amount, denom)
}
