package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/transactai/internal/domain"
)

var errInvalidRequest = errors.New("invalid request")

type request map[string]string

func (r request) required(key string) (string, error) {
	v := strings.TrimSpace(r[key])
	if v == "" {
		return "", fmt.Errorf("%w: missing field %s", errInvalidRequest, key)
	}
	return v, nil
}

func (r request) amount(key string) (decimal.Decimal, error) {
	raw, err := r.required(key)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.ParseAmount(raw)
}

// seconds parses a positive whole number of seconds.
func (r request) seconds(key string) (time.Duration, error) {
	raw, err := r.required(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive number of seconds", domain.ErrInvalidExpiration, key)
	}
	if n > int64((1<<63-1)/int64(time.Second)) {
		return 0, fmt.Errorf("%w: %s out of range", domain.ErrInvalidExpiration, key)
	}
	return time.Duration(n) * time.Second, nil
}

func formatAmount(d decimal.Decimal) string {
	return domain.FormatAmount(d)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
