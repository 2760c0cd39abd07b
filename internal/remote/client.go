// Package remote is the typed client for the authoritative server-side
// knowledge point store. The server owns composite-ID assignment; this
// client only ever addresses existing points by composite identifier.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/lingpoint/pkg/models"
)

// Client talks to the remote knowledge point API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

// New creates a client for the given API base URL and bearer token.
func New(baseURL, token string, log *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// CreateRequest carries the content fields of a point being finalized
// on the server. The mastery state accumulated in guest mode rides
// along so promotion does not reset progress.
type CreateRequest struct {
	Category                 string     `json:"category"`
	Subcategory              string     `json:"subcategory,omitempty"`
	CorrectPhrase            string     `json:"correct_phrase"`
	Explanation              string     `json:"explanation,omitempty"`
	UserContextSentence      string     `json:"user_context_sentence,omitempty"`
	IncorrectPhraseInContext string     `json:"incorrect_phrase_in_context,omitempty"`
	KeyPointSummary          string     `json:"key_point_summary,omitempty"`
	MasteryLevel             float64    `json:"mastery_level"`
	MistakeCount             int        `json:"mistake_count"`
	CorrectCount             int        `json:"correct_count"`
	ConsecutiveCorrect       int        `json:"consecutive_correct"`
	NextReviewDate           *time.Time `json:"next_review_date,omitempty"`
}

// CreateResponse is the server's answer to a create: the newly
// assigned composite identifier.
type CreateResponse struct {
	OwnerID    int64 `json:"owner_id"`
	SequenceID int64 `json:"sequence_id"`
}

// MasteryUpdate carries the new mastery state for an existing point.
type MasteryUpdate struct {
	MasteryLevel       float64    `json:"mastery_level"`
	MistakeCount       int        `json:"mistake_count"`
	CorrectCount       int        `json:"correct_count"`
	ConsecutiveCorrect int        `json:"consecutive_correct"`
	NextReviewDate     *time.Time `json:"next_review_date,omitempty"`
}

type listResponse struct {
	Points []models.KnowledgePoint `json:"points"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Create finalizes a point on the server and returns its new composite
// identifier. The idempotency key is derived from the point's content,
// so a promotion retried after a lost response or a failed local swap
// cannot create a second server record.
func (c *Client) Create(ctx context.Context, req CreateRequest) (models.CompositeID, error) {
	key := uuid.NewSHA1(uuid.NameSpaceOID, []byte(req.Category+"\x00"+req.CorrectPhrase)).String()

	var resp CreateResponse
	err := c.do(ctx, http.MethodPost, "/v1/knowledge-points", key, req, &resp)
	if err != nil {
		return models.CompositeID{}, err
	}
	return models.CompositeID{OwnerID: resp.OwnerID, SequenceID: resp.SequenceID}, nil
}

// FetchActive returns the user's non-archived points.
func (c *Client) FetchActive(ctx context.Context) ([]models.KnowledgePoint, error) {
	return c.fetch(ctx, false)
}

// FetchArchived returns the user's archived points.
func (c *Client) FetchArchived(ctx context.Context) ([]models.KnowledgePoint, error) {
	return c.fetch(ctx, true)
}

func (c *Client) fetch(ctx context.Context, archived bool) ([]models.KnowledgePoint, error) {
	path := "/v1/knowledge-points?archived=" + url.QueryEscape(fmt.Sprintf("%t", archived))

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}

	points := resp.Points
	for i := range points {
		points[i].Origin = models.OriginRemote
	}
	return points, nil
}

// Archive marks the identified point archived. Archiving an already
// archived point succeeds on the server as well.
func (c *Client) Archive(ctx context.Context, id models.CompositeID) error {
	return c.do(ctx, http.MethodPost, "/v1/knowledge-points/"+id.String()+"/archive", "", nil, nil)
}

// Unarchive clears the archived flag of the identified point.
func (c *Client) Unarchive(ctx context.Context, id models.CompositeID) error {
	return c.do(ctx, http.MethodPost, "/v1/knowledge-points/"+id.String()+"/unarchive", "", nil, nil)
}

// Delete removes the identified point from the server.
func (c *Client) Delete(ctx context.Context, id models.CompositeID) error {
	return c.do(ctx, http.MethodDelete, "/v1/knowledge-points/"+id.String(), "", nil, nil)
}

// UpdateMastery sends the new mastery state of the identified point.
func (c *Client) UpdateMastery(ctx context.Context, id models.CompositeID, update MasteryUpdate) error {
	return c.do(ctx, http.MethodPut, "/v1/knowledge-points/"+id.String()+"/mastery", "", update, nil)
}

// do runs one request and classifies failures per the error taxonomy:
// transport errors and 5xx are ErrRemoteUnreachable (retryable), 4xx is
// ErrRemoteRejected (not retried automatically).
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", models.ErrRemoteUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)

		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %s %s: %s", models.ErrRemoteUnreachable, method, path, msg)
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s %s: %s", models.ErrNotFound, method, path, msg)
		}
		return fmt.Errorf("%w: %s %s: %s", models.ErrRemoteRejected, method, path, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", models.ErrRemoteUnreachable, err)
		}
	}

	if c.log != nil {
		c.log.Debug("remote call", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
	}
	return nil
}
