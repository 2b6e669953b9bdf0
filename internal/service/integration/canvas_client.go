package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
)

// DirectoryClient enumerates courses, assignments and submissions and
// downloads attachments.
type DirectoryClient interface {
	ListActiveCourses(ctx context.Context) ([]models.Course, error)
	ListAssignments(ctx context.Context, courseID int64) ([]models.Assignment, error)
	ListSubmissions(ctx context.Context, courseID, assignmentID int64) ([]models.Submission, error)
	FetchBytes(ctx context.Context, rawURL string) ([]byte, error)
}

type CanvasClient interface {
	DirectoryClient
	GetAssignment(ctx context.Context, courseID, assignmentID int64) (*models.Assignment, error)
	GetSubmission(ctx context.Context, courseID, assignmentID, userID int64) (*models.Submission, error)
	GetSelf(ctx context.Context) (*models.UserProfile, error)
	PostSubmissionComment(ctx context.Context, courseID, assignmentID, userID int64, text string) error
}

type CanvasConfig struct {
	BaseURL            string
	Token              string
	Timeout            time.Duration
	RetryCount         int
	RetryDelay         time.Duration
	PerPage            int
	MaxAttachmentBytes int64
}

type canvasClient struct {
	baseURL    string
	token      string
	retryCount int
	retryDelay time.Duration
	perPage    int
	maxBytes   int64
	client     *http.Client
	logger     zerolog.Logger
}

func NewCanvasClient(cfg CanvasConfig, logger zerolog.Logger) CanvasClient {
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = 50 << 20
	}

	return &canvasClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		perPage:    cfg.PerPage,
		maxBytes:   cfg.MaxAttachmentBytes,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (c *canvasClient) ListActiveCourses(ctx context.Context) ([]models.Course, error) {
	q := url.Values{}
	q.Set("enrollment_state", "active")

	var courses []models.Course
	if err := c.getPages(ctx, "/api/v1/courses", q, func(page []byte) error {
		var batch []models.Course
		if err := json.Unmarshal(page, &batch); err != nil {
			return err
		}
		courses = append(courses, batch...)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}

	return courses, nil
}

func (c *canvasClient) ListAssignments(ctx context.Context, courseID int64) ([]models.Assignment, error) {
	path := fmt.Sprintf("/api/v1/courses/%d/assignments", courseID)

	var assignments []models.Assignment
	if err := c.getPages(ctx, path, url.Values{}, func(page []byte) error {
		var batch []models.Assignment
		if err := json.Unmarshal(page, &batch); err != nil {
			return err
		}
		assignments = append(assignments, batch...)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to list assignments for course %d: %w", courseID, err)
	}

	return assignments, nil
}

func (c *canvasClient) ListSubmissions(ctx context.Context, courseID, assignmentID int64) ([]models.Submission, error) {
	path := fmt.Sprintf("/api/v1/courses/%d/assignments/%d/submissions", courseID, assignmentID)
	q := url.Values{}
	q.Add("include[]", "submission_history")

	var submissions []models.Submission
	if err := c.getPages(ctx, path, q, func(page []byte) error {
		var batch []models.Submission
		if err := json.Unmarshal(page, &batch); err != nil {
			return err
		}
		submissions = append(submissions, batch...)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to list submissions for assignment %d: %w", assignmentID, err)
	}

	return submissions, nil
}

func (c *canvasClient) GetAssignment(ctx context.Context, courseID, assignmentID int64) (*models.Assignment, error) {
	path := fmt.Sprintf("/api/v1/courses/%d/assignments/%d", courseID, assignmentID)
	q := url.Values{}
	q.Add("include[]", "rubric")
	q.Add("include[]", "all_dates")

	var assignment models.Assignment
	if err := c.getJSON(ctx, c.baseURL+path+"?"+q.Encode(), &assignment); err != nil {
		return nil, fmt.Errorf("failed to get assignment %d: %w", assignmentID, err)
	}
	return &assignment, nil
}

func (c *canvasClient) GetSubmission(ctx context.Context, courseID, assignmentID, userID int64) (*models.Submission, error) {
	path := fmt.Sprintf("/api/v1/courses/%d/assignments/%d/submissions/%d", courseID, assignmentID, userID)
	q := url.Values{}
	q.Add("include[]", "submission_history")

	var submission models.Submission
	if err := c.getJSON(ctx, c.baseURL+path+"?"+q.Encode(), &submission); err != nil {
		return nil, fmt.Errorf("failed to get submission for user %d: %w", userID, err)
	}
	return &submission, nil
}

func (c *canvasClient) GetSelf(ctx context.Context) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/users/self/profile", &profile); err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return &profile, nil
}

func (c *canvasClient) PostSubmissionComment(ctx context.Context, courseID, assignmentID, userID int64, text string) error {
	path := fmt.Sprintf("/api/v1/courses/%d/assignments/%d/submissions/%d", courseID, assignmentID, userID)

	payload := map[string]interface{}{
		"comment": map[string]string{"text_comment": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal comment: %w", err)
	}

	_, _, err = c.do(ctx, http.MethodPut, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to post comment: %w", err)
	}

	c.logger.Info().
		Int64("course_id", courseID).
		Int64("assignment_id", assignmentID).
		Int64("user_id", userID).
		Int("comment_length", len(text)).
		Msg("Comment posted to Canvas")

	return nil
}

// FetchBytes downloads an attachment. Attachment URLs are absolute and may
// point outside the API host, so the token is still attached.
func (c *canvasClient) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("empty attachment url")
	}

	content, _, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attachment: %w", err)
	}

	c.logger.Debug().
		Int("content_size", len(content)).
		Msg("Got attachment content")

	return content, nil
}

func (c *canvasClient) getJSON(ctx context.Context, rawURL string, dst interface{}) error {
	body, _, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// getPages follows Canvas Link rel="next" pagination, handing each page body
// to visit.
func (c *canvasClient) getPages(ctx context.Context, path string, q url.Values, visit func([]byte) error) error {
	q.Set("per_page", fmt.Sprintf("%d", c.perPage))
	next := c.baseURL + path + "?" + q.Encode()

	for pages := 0; next != "" && pages < 1000; pages++ {
		body, header, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return err
		}
		if err := visit(body); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		next = nextPageURL(header.Get("Link"))
	}
	return nil
}

func (c *canvasClient) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, http.Header, error) {
	var lastErr error

	for i := 0; i <= c.retryCount; i++ {
		if i > 0 {
			c.logger.Warn().Int("attempt", i).Str("method", method).Msg("Retrying Canvas request")
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(i)):
			}
		}

		content, header, err := c.doOnce(ctx, method, rawURL, body)
		if err == nil {
			return content, header, nil
		}
		lastErr = err

		if !IsTransient(err) || ctx.Err() != nil {
			return nil, nil, err
		}
	}

	return nil, nil, fmt.Errorf("canvas request failed after %d attempts: %w", c.retryCount+1, lastErr)
}

func (c *canvasClient) doOnce(ctx context.Context, method, rawURL string, body []byte) ([]byte, http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, newHTTPStatusError(req, resp.StatusCode, content)
	}
	if int64(len(content)) > c.maxBytes {
		return nil, nil, fmt.Errorf("response from %s exceeds %d bytes", redactURL(req.URL), c.maxBytes)
	}

	return content, resp.Header, nil
}

// nextPageURL extracts the rel="next" target from a Link header.
func nextPageURL(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			param = strings.ReplaceAll(strings.TrimSpace(param), " ", "")
			if param == `rel="next"` || param == "rel=next" {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}
