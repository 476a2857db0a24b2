// Package chain implements usecase.ChainClient against a Cosmos SDK chain
// (LCD REST for reads, a signer service for payouts) and an in-process
// simulated chain for development and tests.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
)

const defaultHTTPTimeout = 10 * time.Second

var errNotFound = errors.New("not found")

// LCDClient reads transactions and block height from a Cosmos LCD endpoint.
type LCDClient struct {
	baseURL string
	http    *http.Client
}

// NewLCDClient creates an LCDClient. A nil httpClient gets a default with a
// 10s timeout.
func NewLCDClient(baseURL string, httpClient *http.Client) *LCDClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &LCDClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

type txResponse struct {
	TxResponse struct {
		TxHash string  `json:"txhash"`
		Height string  `json:"height"`
		Code   uint32  `json:"code"`
		RawLog string  `json:"raw_log"`
		Events []event `json:"events"`
	} `json:"tx_response"`
}

type event struct {
	Type       string      `json:"type"`
	Attributes []attribute `json:"attributes"`
}

type attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type latestBlockResponse struct {
	Block struct {
		Header struct {
			Height string `json:"height"`
		} `json:"header"`
	} `json:"block"`
}

// GetTransaction fetches a transaction and extracts its transfer events.
func (c *LCDClient) GetTransaction(ctx context.Context, hash string) (*domain.ChainTransaction, error) {
	var resp txResponse
	err := c.get(ctx, "/cosmos/tx/v1beta1/txs/"+url.PathEscape(hash), &resp)
	if errors.Is(err, errNotFound) {
		return nil, domain.ErrTxNotFound
	}
	if err != nil {
		return nil, err
	}

	height, err := strconv.ParseInt(resp.TxResponse.Height, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("lcd: invalid height %q: %w", resp.TxResponse.Height, err)
	}

	transfers, err := transfersFromEvents(resp.TxResponse.Events)
	if err != nil {
		return nil, err
	}

	txHash := resp.TxResponse.TxHash
	if txHash == "" {
		txHash = hash
	}

	return &domain.ChainTransaction{
		Hash:      txHash,
		Height:    height,
		Code:      resp.TxResponse.Code,
		Transfers: transfers,
	}, nil
}

// LatestHeight returns the height of the newest block.
func (c *LCDClient) LatestHeight(ctx context.Context) (int64, error) {
	var resp latestBlockResponse
	if err := c.get(ctx, "/cosmos/base/tendermint/v1beta1/blocks/latest", &resp); err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(resp.Block.Header.Height, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lcd: invalid latest height %q: %w", resp.Block.Header.Height, err)
	}
	return height, nil
}

func (c *LCDClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		// The LCD answers some unknown hashes with a 400/500 and a "not found" body.
		if strings.Contains(strings.ToLower(string(body)), "not found") {
			return errNotFound
		}
		return fmt.Errorf("lcd GET %s failed: status=%d body=%s", path, resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// transfersFromEvents walks bank transfer events. A single event may carry
// several recipient/sender/amount triples, and an amount may list several
// coins.
func transfersFromEvents(events []event) ([]domain.ChainTransfer, error) {
	var transfers []domain.ChainTransfer
	for _, ev := range events {
		if ev.Type != "transfer" {
			continue
		}

		var recipient, sender string
		for _, attr := range ev.Attributes {
			switch attr.Key {
			case "recipient":
				recipient = attr.Value
			case "sender":
				sender = attr.Value
			case "amount":
				coins, err := parseCoins(attr.Value)
				if err != nil {
					return nil, err
				}
				for _, coin := range coins {
					transfers = append(transfers, domain.ChainTransfer{
						Sender:    sender,
						Recipient: recipient,
						Amount:    coin.Amount,
						Denom:     coin.Denom,
					})
				}
				recipient, sender = "", ""
			}
		}
	}
	return transfers, nil
}

// Coin is an amount of one denomination.
type Coin struct {
	Amount decimal.Decimal
	Denom  string
}

var coinRegex = regexp.MustCompile(`^([0-9]+)([a-zA-Z][a-zA-Z0-9/:._-]{1,127})$`)

func parseCoins(raw string) ([]Coin, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	coins := make([]Coin, 0, len(parts))
	for _, part := range parts {
		m := coinRegex.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			return nil, fmt.Errorf("lcd: invalid coin %q", part)
		}
		amount, err := decimal.NewFromString(m[1])
		if err != nil {
			return nil, fmt.Errorf("lcd: invalid coin amount %q: %w", part, err)
		}
		coins = append(coins, Coin{Amount: amount, Denom: m[2]})
	}
	return coins, nil
}
