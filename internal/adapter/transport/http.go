package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iho/transactai/internal/infrastructure/addressbook"
	"github.com/iho/transactai/internal/protocol"
)

const defaultHTTPTimeout = 5 * time.Second

// HTTPSender POSTs envelopes to the endpoint listed in the address book.
// 5xx answers and network errors are retried with exponential backoff; 4xx
// answers are final.
type HTTPSender struct {
	book            *addressbook.Book
	client          *http.Client
	maxRetries      uint64
	initialInterval time.Duration
	maxElapsedTime  time.Duration
	logger          zerolog.Logger
}

// HTTPOption configures an HTTPSender.
type HTTPOption func(*HTTPSender)

// WithHTTPRetry overrides the retry policy.
func WithHTTPRetry(maxRetries uint64, initial, maxElapsed time.Duration) HTTPOption {
	return func(s *HTTPSender) {
		s.maxRetries = maxRetries
		s.initialInterval = initial
		s.maxElapsedTime = maxElapsed
	}
}

// NewHTTPSender creates an HTTPSender. A nil client uses http.DefaultClient.
func NewHTTPSender(book *addressbook.Book, client *http.Client, logger zerolog.Logger, opts ...HTTPOption) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	s := &HTTPSender{
		book:            book,
		client:          client,
		maxRetries:      3,
		initialInterval: 200 * time.Millisecond,
		maxElapsedTime:  15 * time.Second,
		logger:          logger.With().Str("component", "http_sender").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, env *protocol.Envelope) error {
	entry, err := s.book.Lookup(env.Target)
	if err != nil {
		if errors.Is(err, addressbook.ErrUnknownAgent) {
			return fmt.Errorf("%w: %s", ErrNoRoute, env.Target)
		}
		return err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval
	b.MaxElapsedTime = s.maxElapsedTime

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.post(ctx, entry, body)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if !errors.As(err, &perm) {
			s.logger.Warn().Err(err).
				Str("target", env.Target).
				Int("attempt", attempt).
				Msg("delivery attempt failed, retrying")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx))
}

func (s *HTTPSender) post(ctx context.Context, entry addressbook.Entry, body []byte) error {
	timeout := entry.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, entry.Endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if entry.Token != "" {
		req.Header.Set("Authorization", "Bearer "+entry.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", entry.Endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("post %s: status %d", entry.Endpoint, resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("post %s: status %d", entry.Endpoint, resp.StatusCode))
	}
}
