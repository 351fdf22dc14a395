package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wwnotes-sync/internal/domain"
)

type BinOptions struct {
	BaseURL    string
	BinID      string
	MasterKey  string
	AccessKey  string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	HTTPClient *http.Client
}

type remoteBinRepo struct {
	baseURL    string
	binID      string
	masterKey  string
	accessKey  string
	client     *http.Client
	validator  *snapshotValidator
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time
}

// NewRemoteBinRepository talks to a JSONBin-style endpoint:
// GET {base}/b/{id}/latest and PUT {base}/b/{id}.
func NewRemoteBinRepository(opts BinOptions) (RemoteStore, error) {
	if strings.TrimSpace(opts.BaseURL) == "" || strings.TrimSpace(opts.BinID) == "" {
		return nil, fmt.Errorf("remote bin requires a base url and bin id")
	}

	validator, err := newSnapshotValidator()
	if err != nil {
		return nil, err
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &remoteBinRepo{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		binID:      opts.BinID,
		masterKey:  opts.MasterKey,
		accessKey:  opts.AccessKey,
		client:     client,
		validator:  validator,
		maxRetries: maxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		now:        time.Now,
	}, nil
}

func (r *remoteBinRepo) FetchSnapshot(ctx context.Context) (domain.Snapshot, error) {
	const op = "fetch snapshot"
	url := fmt.Sprintf("%s/b/%s/latest", r.baseURL, r.binID)

	status, payload, err := r.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Snapshot{}, transient(op, 0, err)
	}
	if status == http.StatusNotFound {
		return domain.Snapshot{}, notFound(op)
	}
	if status < 200 || status > 299 {
		return domain.Snapshot{}, transient(op, status, nil)
	}

	snap, err := decodeSnapshot(r.validator, payload)
	if err != nil {
		return domain.Snapshot{}, transient(op, status, err)
	}
	return snap, nil
}

func (r *remoteBinRepo) ReplaceSnapshot(ctx context.Context, docs []domain.Document) error {
	const op = "replace snapshot"
	url := fmt.Sprintf("%s/b/%s", r.baseURL, r.binID)

	data, err := json.Marshal(domain.NewSnapshot(docs, r.now()))
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	status, _, err := r.do(ctx, http.MethodPut, url, data)
	if err != nil {
		return transient(op, 0, err)
	}
	if status < 200 || status > 299 {
		return transient(op, status, nil)
	}
	return nil
}

// do retries network failures, 429 and 5xx up to maxRetries times. It
// returns the last response status and body.
func (r *remoteBinRepo) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return 0, nil, err
		}
		if r.masterKey != "" {
			req.Header.Set("X-Master-Key", r.masterKey)
		}
		if r.accessKey != "" {
			req.Header.Set("X-Access-Key", r.accessKey)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		} else {
			req.Header.Set("X-Bin-Meta", "false")
		}

		resp, err := r.client.Do(req)
		if err != nil {
			if attempt < r.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, retryDelay(r.baseDelay, r.maxDelay, attempt+1)); waitErr != nil {
					return 0, nil, waitErr
				}
				continue
			}
			return 0, nil, err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.StatusCode, nil, readErr
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < r.maxRetries {
			if waitErr := waitWithContext(ctx, retryDelay(r.baseDelay, r.maxDelay, attempt+1)); waitErr != nil {
				return 0, nil, waitErr
			}
			continue
		}
		return resp.StatusCode, payload, nil
	}
}

func retryDelay(base, ceiling time.Duration, attempt int) time.Duration {
	if ceiling <= 0 {
		ceiling = 2 * time.Second
	}
	delay := base
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
