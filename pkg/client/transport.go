package client

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

	"github.com/google/uuid"

	"github.com/planpoker/backend/internal/models"
	"github.com/planpoker/backend/internal/sessions"
	"github.com/planpoker/backend/pkg/utils"
)

// HTTPBackend implements Backend against the poker service's REST API.
// Update payloads arrive in domain casing and are converted to the wire's
// underscore form at this boundary.
type HTTPBackend struct {
	baseURL string
	http    *http.Client
}

// NewHTTPBackend creates a backend client for the given base URL
// ("http://host:port", no trailing slash required).
func NewHTTPBackend(baseURL string, httpClient *http.Client) *HTTPBackend {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// envelope mirrors the server's response body with the data left raw for
// per-call decoding.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (b *HTTPBackend) do(ctx context.Context, op, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &BackendError{Op: op, StatusCode: resp.StatusCode, Message: "unreadable response body"}
	}

	if resp.StatusCode >= 400 {
		return &BackendError{Op: op, StatusCode: resp.StatusCode, Code: env.Code, Message: env.Error}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

// notFoundAs rewrites a 404 into the given sentinel so callers can dispatch
// without inspecting status codes.
func notFoundAs(err, sentinel error) error {
	var be *BackendError
	if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
		return sentinel
	}
	return err
}

func (b *HTTPBackend) CreateSession(ctx context.Context, estimateOptions string) (*models.Session, error) {
	var s models.Session
	body := map[string]any{"estimate_options": estimateOptions}
	if err := b.do(ctx, "create session", http.MethodPost, "/sessions", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *HTTPBackend) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	if err := b.do(ctx, "get session", http.MethodGet, "/sessions/"+id, nil, &s); err != nil {
		return nil, notFoundAs(err, ErrSessionNotFound)
	}
	return &s, nil
}

func (b *HTTPBackend) UpdateSession(ctx context.Context, id string, fields map[string]any) (*models.Session, error) {
	var s models.Session
	err := b.do(ctx, "update session", http.MethodPatch, "/sessions/"+id, utils.MapToSnakeCase(fields), &s)
	if err != nil {
		return nil, notFoundAs(err, ErrSessionNotFound)
	}
	return &s, nil
}

func (b *HTTPBackend) UpdateAverageEstimate(ctx context.Context, id string, average *float64, expectedVersion int64) (*models.Session, error) {
	var s models.Session
	body := map[string]any{
		"average_estimate": average,
		"expected_version": expectedVersion,
	}
	err := b.do(ctx, "update average estimate", http.MethodPut, "/sessions/"+id+"/average-estimate", body, &s)
	if err != nil {
		var be *BackendError
		if errors.As(err, &be) && be.StatusCode == http.StatusConflict && be.Code == sessions.ConflictCode {
			return nil, ErrEstimateConflict
		}
		return nil, notFoundAs(err, ErrSessionNotFound)
	}
	return &s, nil
}

func (b *HTTPBackend) ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error) {
	var out struct {
		Participants []models.Participant `json:"participants"`
	}
	err := b.do(ctx, "list participants", http.MethodGet, "/sessions/"+sessionID+"/participants", nil, &out)
	if err != nil {
		return nil, notFoundAs(err, ErrSessionNotFound)
	}
	return out.Participants, nil
}

func (b *HTTPBackend) CreateParticipant(ctx context.Context, sessionID, name string) (*models.Participant, error) {
	var p models.Participant
	body := map[string]any{"name": name}
	err := b.do(ctx, "create participant", http.MethodPost, "/sessions/"+sessionID+"/participants", body, &p)
	if err != nil {
		return nil, notFoundAs(err, ErrSessionNotFound)
	}
	return &p, nil
}

func (b *HTTPBackend) UpdateParticipant(ctx context.Context, id uuid.UUID, fields map[string]any) (*models.Participant, error) {
	var p models.Participant
	err := b.do(ctx, "update participant", http.MethodPatch, "/participants/"+id.String(), utils.MapToSnakeCase(fields), &p)
	if err != nil {
		return nil, notFoundAs(err, ErrParticipantNotFound)
	}
	return &p, nil
}

func (b *HTTPBackend) ClearEstimates(ctx context.Context, sessionID string) error {
	err := b.do(ctx, "clear estimates", http.MethodPost, "/sessions/"+sessionID+"/participants/clear-estimates", nil, nil)
	return notFoundAs(err, ErrSessionNotFound)
}

func (b *HTTPBackend) CreateResult(ctx context.Context, result *models.SessionResult) error {
	body := map[string]any{
		"average_estimate": result.AverageEstimate,
		"generated_by":     result.GeneratedBy,
		"description":      result.Description,
	}
	var created models.SessionResult
	err := b.do(ctx, "create result", http.MethodPost, "/sessions/"+result.SessionID+"/results", body, &created)
	if err != nil {
		return notFoundAs(err, ErrSessionNotFound)
	}
	*result = created
	return nil
}

func (b *HTTPBackend) ListResults(ctx context.Context, sessionID string) ([]models.SessionResult, error) {
	var out struct {
		Results []models.SessionResult `json:"results"`
	}
	err := b.do(ctx, "list results", http.MethodGet, "/sessions/"+sessionID+"/results", nil, &out)
	if err != nil {
		return nil, notFoundAs(err, ErrSessionNotFound)
	}
	return out.Results, nil
}

func (b *HTTPBackend) UpdateResultDescription(ctx context.Context, id uuid.UUID, description string) (*models.SessionResult, error) {
	var r models.SessionResult
	body := map[string]any{"description": description}
	err := b.do(ctx, "update result", http.MethodPatch, "/results/"+id.String(), body, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (b *HTTPBackend) DeleteResult(ctx context.Context, id uuid.UUID) error {
	return b.do(ctx, "delete result", http.MethodDelete, "/results/"+id.String(), nil, nil)
}
