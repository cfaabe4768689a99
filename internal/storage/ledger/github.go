package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/zipaJopa/capalloc/pkg/retrier"
)

const githubAPIURL = "https://api.github.com"

// GitHubStore keeps the ledger as a committed file in a GitHub repository,
// using the contents API blob SHA as the version token. Transient HTTP
// failures are retried with backoff; SHA mismatches surface as ErrConflict
// so the orchestrator can recompute against fresh state.
type GitHubStore struct {
	repo    string // owner/name
	path    string
	branch  string
	token   string
	client  *http.Client
	retrier *retrier.Retrier
	baseURL string
}

// NewGitHubStore builds a store for the given repository file.
func NewGitHubStore(repo, path, branch, token string) (*GitHubStore, error) {
	if repo == "" || path == "" {
		return nil, errors.New("github repo and file path are required")
	}
	if token == "" {
		return nil, errors.New("github token is required")
	}
	if branch == "" {
		branch = "main"
	}
	return &GitHubStore{
		repo:    repo,
		path:    path,
		branch:  branch,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		retrier: retrier.New(),
		baseURL: githubAPIURL,
	}, nil
}

type contentsResponse struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

type putResponse struct {
	Content contentsResponse `json:"content"`
}

// Load implements Store.
func (s *GitHubStore) Load(ctx context.Context) ([]byte, string, error) {
	type result struct {
		payload []byte
		sha     string
	}

	res, err := retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) (result, error) {
		req, err := s.newRequest(ctx, http.MethodGet, s.contentsURL()+"?ref="+url.QueryEscape(s.branch), nil)
		if err != nil {
			return result{}, retrier.Permanent(err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return result{}, errors.Wrap(err, "github contents request")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return result{}, errors.Wrap(err, "read github response")
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return result{}, retrier.Permanent(ErrNotFound)
		case resp.StatusCode >= 500:
			return result{}, errors.Errorf("github contents request failed: %s", resp.Status)
		case resp.StatusCode != http.StatusOK:
			return result{}, retrier.Permanent(errors.Errorf("github contents request failed: %s", resp.Status))
		}

		var contents contentsResponse
		if err := json.Unmarshal(body, &contents); err != nil {
			return result{}, retrier.Permanent(errors.Wrap(err, "decode github contents"))
		}

		payload, err := base64.StdEncoding.DecodeString(contents.Content)
		if err != nil {
			// The API wraps base64 at 60 columns.
			payload, err = base64.StdEncoding.DecodeString(stripNewlines(contents.Content))
			if err != nil {
				return result{}, retrier.Permanent(errors.Wrap(err, "decode ledger blob"))
			}
		}
		return result{payload: payload, sha: contents.SHA}, nil
	})
	if err != nil {
		return nil, "", err
	}
	return res.payload, res.sha, nil
}

// Save implements Store.
func (s *GitHubStore) Save(ctx context.Context, payload []byte, token string) (string, error) {
	body := map[string]string{
		"message": fmt.Sprintf("Update budget allocation state - %s", time.Now().UTC().Format("2006-01-02 15:04")),
		"content": base64.StdEncoding.EncodeToString(payload),
		"branch":  s.branch,
	}
	if token != "" {
		body["sha"] = token
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", errors.Wrap(err, "encode github payload")
	}

	return retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) (string, error) {
		req, err := s.newRequest(ctx, http.MethodPut, s.contentsURL(), bytes.NewReader(encoded))
		if err != nil {
			return "", retrier.Permanent(err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return "", errors.Wrap(err, "github update request")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", errors.Wrap(err, "read github response")
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		case resp.StatusCode == http.StatusConflict:
			return "", retrier.Permanent(ErrConflict)
		case resp.StatusCode == http.StatusUnprocessableEntity && bytes.Contains(respBody, []byte("sha")):
			// Contents API reports a stale blob SHA as 422.
			return "", retrier.Permanent(ErrConflict)
		case resp.StatusCode >= 500:
			return "", errors.Errorf("github update failed: %s", resp.Status)
		default:
			return "", retrier.Permanent(errors.Errorf("github update failed: %s", resp.Status))
		}

		var put putResponse
		if err := json.Unmarshal(respBody, &put); err != nil {
			return "", retrier.Permanent(errors.Wrap(err, "decode github update response"))
		}
		return put.Content.SHA, nil
	})
}

func (s *GitHubStore) contentsURL() string {
	return fmt.Sprintf("%s/repos/%s/contents/%s", s.baseURL, s.repo, s.path)
}

func (s *GitHubStore) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.Wrap(err, "build github request")
	}
	req.Header.Set("Authorization", "token "+s.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return req, nil
}

func stripNewlines(s string) string {
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			continue
		}
		buf = append(buf, s[i])
	}
	return string(buf)
}
