package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/EmpoweredVote/instance-registry/internal/logging"
	"github.com/go-kit/log"
)

// Reason classifies a failed metadata probe.
type Reason string

const (
	ReasonInvalidLink   Reason = "invalid-link"
	ReasonUnreachable   Reason = "unreachable"
	ReasonEmptyResponse Reason = "empty-response"
	ReasonInvalidJSON   Reason = "invalid-json"
	ReasonTimeout       Reason = "timeout"

	// ReasonInvalidMetadata marks a refresh whose document parsed but is not
	// a JSON object.
	ReasonInvalidMetadata Reason = "invalid-metadata"
)

// MetadataPath is joined onto an instance link to build the probe URL.
const MetadataPath = "/metadata"

const maxMetadataBytes = 1 << 20

// Result is the outcome of one probe. Body holds the decoded document when OK.
type Result struct {
	OK         bool
	Body       interface{}
	Reason     Reason
	StatusCode int
	Err        error
}

// Prober checks an instance's metadata endpoint.
type Prober interface {
	Verify(ctx context.Context, link string) Result
}

// Verifier probes GET <link>/metadata within a fixed time budget. It holds no
// per-call state.
type Verifier struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     log.Logger
	metrics    *Metrics
}

// NewVerifier creates a verifier with the given per-probe timeout.
func NewVerifier(timeout time.Duration, logger log.Logger, metrics *Metrics) *Verifier {
	return &Verifier{
		// The per-call context carries the deadline.
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     logging.Component(logger, "verifier"),
		metrics:    metrics,
	}
}

// ProbeURL resolves the metadata URL for link.
func ProbeURL(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("link has no host")
	}
	return u.JoinPath(MetadataPath).String(), nil
}

// Verify probes link and classifies the outcome.
func (v *Verifier) Verify(ctx context.Context, link string) Result {
	start := time.Now()
	res := v.probe(ctx, link)
	took := time.Since(start)

	logging.Probe(v.logger, link, string(res.Reason), res.StatusCode, took)
	v.metrics.observeProbe(res, took)
	return res
}

func (v *Verifier) probe(ctx context.Context, link string) Result {
	target, err := ProbeURL(link)
	if err != nil {
		return Result{Reason: ReasonInvalidLink, Err: err}
	}

	probeCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target, nil)
	if err != nil {
		return Result{Reason: ReasonInvalidLink, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Result{Reason: v.transportReason(probeCtx), Err: fmt.Errorf("metadata request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			Reason:     ReasonUnreachable,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("metadata endpoint returned HTTP %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return Result{Reason: v.transportReason(probeCtx), StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Result{Reason: ReasonEmptyResponse, StatusCode: resp.StatusCode, Err: errors.New("metadata body is empty")}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return Result{Reason: ReasonInvalidJSON, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding metadata: %w", err)}
	}
	if dec.More() {
		return Result{Reason: ReasonInvalidJSON, StatusCode: resp.StatusCode, Err: errors.New("trailing data after metadata document")}
	}

	return Result{OK: true, Body: doc, StatusCode: resp.StatusCode}
}

func (v *Verifier) transportReason(probeCtx context.Context) Reason {
	if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonUnreachable
}
