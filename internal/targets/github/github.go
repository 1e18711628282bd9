package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	appcfg "github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/targets"
)

const defaultAPIBaseURL = "https://api.github.com"

// Target commits summaries through the GitHub contents API, without cloning the repository.
type Target struct {
	name string
	cfg  appcfg.GitHubTargetConfig
	http *http.Client
}

var _ targets.Target = (*Target)(nil)

// New creates a GitHub Target with the provided config.
// Uses http.DefaultClient unless a custom client is provided via WithHTTPClient.
func New(name string, cfg appcfg.GitHubTargetConfig) (*Target, error) {
	if strings.TrimSpace(cfg.Auth.Token) == "" {
		return nil, fmt.Errorf("github token must not be empty")
	}
	if strings.TrimSpace(cfg.RepoOwner) == "" || strings.TrimSpace(cfg.RepoName) == "" {
		return nil, fmt.Errorf("repo owner/name must not be empty")
	}
	if strings.TrimSpace(cfg.Branch) == "" {
		return nil, fmt.Errorf("branch must not be empty")
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return &Target{
		name: name,
		cfg:  cfg,
		http: http.DefaultClient,
	}, nil
}

// WithHTTPClient allows tests to inject a custom HTTP client (e.g., pointing to httptest.Server).
func (t *Target) WithHTTPClient(c *http.Client) *Target {
	t.http = c
	return t
}

func (t *Target) Name() string { return t.name }

// Post creates or updates the summary file. An existing file is updated in place, so re-publishing an item
// does not fail.
func (t *Target) Post(ctx context.Context, req targets.TargetRequest) (targets.TargetResult, error) {
	path, err := targets.ObjectPath(t.cfg.BasePath, t.cfg.FilenameTemplate, req)
	if err != nil {
		return targets.TargetResult{}, err
	}
	commitMsg, err := targets.CommitMessage(t.cfg.CommitMessageTemplate, req)
	if err != nil {
		return targets.TargetResult{}, err
	}

	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", strings.TrimRight(t.cfg.APIBaseURL, "/"), t.cfg.RepoOwner, t.cfg.RepoName, path)

	sha, err := t.existingSHA(ctx, url)
	if err != nil {
		return targets.TargetResult{}, err
	}

	// https://docs.github.com/en/rest/repos/contents#create-or-update-file-contents
	payload := createFilePayload{
		Message: commitMsg,
		Content: base64.StdEncoding.EncodeToString([]byte(req.Markdown)),
		Branch:  t.cfg.Branch,
		SHA:     sha,
	}
	if t.cfg.AuthorName != "" || t.cfg.AuthorEmail != "" {
		id := &gitIdentity{Name: t.cfg.AuthorName, Email: t.cfg.AuthorEmail}
		payload.Committer, payload.Author = id, id
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return targets.TargetResult{}, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return targets.TargetResult{}, fmt.Errorf("new request: %w", err)
	}
	t.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return targets.TargetResult{}, fmt.Errorf("github request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 201 on create, 200 on update
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return targets.TargetResult{}, apiFailure(resp)
	}

	var out createFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return targets.TargetResult{}, fmt.Errorf("decode response: %w", err)
	}

	loc := fmt.Sprintf("github:%s/%s@%s:%s", t.cfg.RepoOwner, t.cfg.RepoName, t.cfg.Branch, path)
	return targets.TargetResult{
		TargetName: t.name,
		Location:   loc,
		Commit:     out.Commit.SHA,
	}, nil
}

// existingSHA returns the blob sha of the file on the branch, "" if it does not exist yet.
func (t *Target) existingSHA(ctx context.Context, url string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"?ref="+t.cfg.Branch, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	t.setHeaders(httpReq)
	resp, err := t.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("github request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return "", nil
	case http.StatusOK:
		var existing struct {
			SHA string `json:"sha"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&existing); err != nil {
			return "", fmt.Errorf("decode contents: %w", err)
		}
		return existing.SHA, nil
	default:
		return "", apiFailure(resp)
	}
}

func (t *Target) setHeaders(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+t.cfg.Auth.Token)
	r.Header.Set("Accept", "application/vnd.github+json")
	r.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

func apiFailure(resp *http.Response) error {
	var apiErr apiError
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Message != "" {
		return fmt.Errorf("github api: status %d: %s", resp.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("github api: status %d", resp.StatusCode)
}

type gitIdentity struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type createFilePayload struct {
	Message   string       `json:"message"`
	Content   string       `json:"content"` // base64
	Branch    string       `json:"branch,omitempty"`
	SHA       string       `json:"sha,omitempty"`
	Committer *gitIdentity `json:"committer,omitempty"`
	Author    *gitIdentity `json:"author,omitempty"`
}

type createFileResponse struct {
	Content struct {
		Path string `json:"path"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type apiError struct {
	Message string `json:"message"`
}
