// Package githubapi implements the engine's remote store contract on the
// GitHub git-data API (blobs, trees, commits, refs) without a local clone.
package githubapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"github.com/vaultsync/vaultsync/internal/sync"
	"github.com/vaultsync/vaultsync/internal/version"
)

const defaultBaseURL = "https://api.github.com"

// compareFilesCap is the maximum file count the compare endpoint returns; it
// carries no truncation flag, so a response at the cap may be incomplete.
const compareFilesCap = 300

// Client talks to one repository branch. Transient failures (rate limits,
// 5xx, network) are retried with a fixed interval inside the client; a
// 409/422 from a guarded write is terminal and surfaces immediately as
// sync.ErrRemoteConflict.
type Client struct {
	http   *req.Client
	owner  string
	repo   string
	branch string
}

var _ sync.RemoteStore = (*Client)(nil)

type Options struct {
	BaseURL string // defaults to the public API
	Owner   string
	Repo    string
	Branch  string
	Token   string
}

func New(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetUserAgent("vaultsync/"+version.Version).
		SetCommonHeader("Accept", "application/vnd.github+json").
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1*time.Second).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return true
			}
			// Optimistic-concurrency failures are a planning-input problem,
			// never retried.
			code := resp.StatusCode
			return code == http.StatusTooManyRequests || code >= 500
		})
	if opts.Token != "" {
		client.SetCommonBearerAuthToken(opts.Token)
	}

	return &Client{
		http:   client,
		owner:  opts.Owner,
		repo:   opts.Repo,
		branch: opts.Branch,
	}
}

// handleAPIError folds the transport error and the API error state into one
// error, mapping guard failures and missing paths to their sentinels.
func handleAPIError(resp *req.Response, requestErr error, op string) error {
	if requestErr != nil {
		return fmt.Errorf("http request: %s: %w", op, requestErr)
	}
	if !resp.IsErrorState() {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, sync.ErrRemoteNotFound)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w", op, sync.ErrRemoteConflict)
	}
	if apiErr, ok := resp.ErrorResult().(*apiErrorResponse); ok && apiErr.Message != "" {
		return fmt.Errorf("api error: %s: %s (%s)", op, apiErr.Message, resp.Status)
	}
	return fmt.Errorf("api error: %s: %s", op, resp.Status)
}

func (c *Client) repoPath(format string, args ...any) string {
	return fmt.Sprintf("/repos/%s/%s", c.owner, c.repo) + fmt.Sprintf(format, args...)
}

func (c *Client) Info(ctx context.Context) (*sync.RepoInfo, error) {
	var out repoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		SetErrorResult(&apiErrorResponse{}).
		Get(c.repoPath(""))
	if err := handleAPIError(resp, err, "repo info"); err != nil {
		return nil, err
	}
	return &sync.RepoInfo{
		DefaultBranch: out.DefaultBranch,
		CanRead:       out.Permissions.Pull,
		CanPush:       out.Permissions.Push,
	}, nil
}

func (c *Client) branchHead(ctx context.Context) (*branchResponse, error) {
	var out branchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		SetErrorResult(&apiErrorResponse{}).
		Get(c.repoPath("/branches/%s", c.branch))
	if err := handleAPIError(resp, err, "branch head"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Snapshot lists the branch tree. With an anchor whose commit still exists it
// patches the anchor's entries from a commit compare instead of listing the
// whole tree. Entries carry no per-path commit times; change detection rides
// on object ids.
func (c *Client) Snapshot(ctx context.Context, anchor *sync.RemoteSnapshot) (*sync.RemoteSnapshot, error) {
	head, err := c.branchHead(ctx)
	if err != nil {
		return nil, err
	}
	headSHA := head.Commit.SHA

	if anchor != nil && anchor.CommitID != "" {
		return c.incrementalSnapshot(ctx, anchor, headSHA)
	}
	return c.fullSnapshot(ctx, headSHA)
}

func (c *Client) fullSnapshot(ctx context.Context, headSHA string) (*sync.RemoteSnapshot, error) {
	var out treeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		SetErrorResult(&apiErrorResponse{}).
		SetQueryParam("recursive", "1").
		Get(c.repoPath("/git/trees/%s", headSHA))
	if err := handleAPIError(resp, err, "tree listing"); err != nil {
		return nil, err
	}
	if out.Truncated {
		return nil, fmt.Errorf("tree listing for %s truncated by the API", headSHA)
	}

	snap := &sync.RemoteSnapshot{
		CommitID: headSHA,
		Entries:  make(map[string]*sync.RemoteEntry),
	}
	for _, item := range out.Tree {
		if item.Type != "blob" {
			continue
		}
		snap.Entries[item.Path] = &sync.RemoteEntry{
			Path:     item.Path,
			ObjectID: item.SHA,
			Size:     item.Size,
		}
	}
	return snap, nil
}

func (c *Client) incrementalSnapshot(ctx context.Context, anchor *sync.RemoteSnapshot, headSHA string) (*sync.RemoteSnapshot, error) {
	snap := &sync.RemoteSnapshot{
		CommitID: headSHA,
		Entries:  make(map[string]*sync.RemoteEntry, len(anchor.Entries)),
	}
	for path, entry := range anchor.Entries {
		copied := *entry
		snap.Entries[path] = &copied
	}
	if headSHA == anchor.CommitID {
		return snap, nil
	}

	var out compareResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		SetErrorResult(&apiErrorResponse{}).
		Get(c.repoPath("/compare/%s...%s", anchor.CommitID, headSHA))
	if err := handleAPIError(resp, err, "commit compare"); err != nil {
		return nil, err
	}
	if len(out.Files) >= compareFilesCap {
		// The diff may have been cut off; an unseen remote change would keep
		// the anchor's stale object id and read as unchanged.
		return c.fullSnapshot(ctx, headSHA)
	}

	for _, file := range out.Files {
		switch file.Status {
		case "removed":
			delete(snap.Entries, file.Filename)
		case "renamed":
			delete(snap.Entries, file.PreviousFilename)
			snap.Entries[file.Filename] = &sync.RemoteEntry{Path: file.Filename, ObjectID: file.SHA}
		default: // added, modified, changed, copied
			snap.Entries[file.Filename] = &sync.RemoteEntry{Path: file.Filename, ObjectID: file.SHA}
		}
	}
	return snap, nil
}

func (c *Client) Fetch(ctx context.Context, path string) ([]byte, string, error) {
	var out contentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		SetErrorResult(&apiErrorResponse{}).
		SetQueryParam("ref", c.branch).
		Get(c.repoPath("/contents/%s", path))
	if err := handleAPIError(resp, err, "fetch "+path); err != nil {
		return nil, "", err
	}

	if out.Encoding != "base64" {
		// The contents API omits inline content for blobs over its size cap;
		// read the raw blob by the object id it still reports.
		data, err := c.fetchBlob(ctx, out.SHA)
		if err != nil {
			return nil, "", fmt.Errorf("fetch %s: %w", path, err)
		}
		return data, out.SHA, nil
	}
	data, err := decodeContent(out.Content)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: decode content: %w", path, err)
	}
	return data, out.SHA, nil
}

func (c *Client) fetchBlob(ctx context.Context, sha string) ([]byte, error) {
	var out contentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		SetErrorResult(&apiErrorResponse{}).
		Get(c.repoPath("/git/blobs/%s", sha))
	if err := handleAPIError(resp, err, "fetch blob "+sha); err != nil {
		return nil, err
	}
	if out.Encoding != "base64" {
		return nil, fmt.Errorf("blob %s: unexpected content encoding %q", sha, out.Encoding)
	}
	data, err := decodeContent(out.Content)
	if err != nil {
		return nil, fmt.Errorf("blob %s: decode content: %w", sha, err)
	}
	return data, nil
}

func decodeContent(content string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
}

// Commit bundles all writes and deletes into one blob/tree/commit/ref
// transaction: one blob per written path, one tree layered on the previous
// commit's tree, one commit, one atomic ref fast-forward.
func (c *Client) Commit(ctx context.Context, message string, writes map[string][]byte, deletes []string) (string, error) {
	head, err := c.branchHead(ctx)
	if err != nil {
		return "", err
	}
	headSHA := head.Commit.SHA
	baseTree := head.Commit.Commit.Tree.SHA
	if baseTree == "" {
		// The branch listing does not always carry the tree sha; resolve it
		// from the commit object.
		var commit commitObjectResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetSuccessResult(&commit).
			SetErrorResult(&apiErrorResponse{}).
			Get(c.repoPath("/git/commits/%s", headSHA))
		if err := handleAPIError(resp, err, "resolve base tree"); err != nil {
			return "", err
		}
		baseTree = commit.Tree.SHA
	}

	var entries []treeEntryRequest
	paths := make([]string, 0, len(writes))
	for path := range writes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		blobSHA, err := c.createBlob(ctx, writes[path])
		if err != nil {
			return "", err
		}
		sha := blobSHA
		entries = append(entries, treeEntryRequest{Path: path, Mode: "100644", Type: "blob", SHA: &sha})
	}
	for _, path := range deletes {
		entries = append(entries, treeEntryRequest{Path: path, Mode: "100644", Type: "blob", SHA: nil})
	}

	var tree shaResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&treeCreateRequest{BaseTree: baseTree, Tree: entries}).
		SetSuccessResult(&tree).
		SetErrorResult(&apiErrorResponse{}).
		Post(c.repoPath("/git/trees"))
	if err := handleAPIError(resp, err, "create tree"); err != nil {
		return "", err
	}

	var commit shaResponse
	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(&commitCreateRequest{Message: message, Tree: tree.SHA, Parents: []string{headSHA}}).
		SetSuccessResult(&commit).
		SetErrorResult(&apiErrorResponse{}).
		Post(c.repoPath("/git/commits"))
	if err := handleAPIError(resp, err, "create commit"); err != nil {
		return "", err
	}

	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(&refUpdateRequest{SHA: commit.SHA, Force: false}).
		SetSuccessResult(&shaResponse{}).
		SetErrorResult(&apiErrorResponse{}).
		Patch(c.repoPath("/git/refs/heads/%s", c.branch))
	if err := handleAPIError(resp, err, "advance branch ref"); err != nil {
		return "", err
	}

	return commit.SHA, nil
}

func (c *Client) createBlob(ctx context.Context, data []byte) (string, error) {
	var out shaResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&blobCreateRequest{
			Content:  base64.StdEncoding.EncodeToString(data),
			Encoding: "base64",
		}).
		SetSuccessResult(&out).
		SetErrorResult(&apiErrorResponse{}).
		Post(c.repoPath("/git/blobs"))
	if err := handleAPIError(resp, err, "create blob"); err != nil {
		return "", err
	}
	return out.SHA, nil
}

func (c *Client) PutFile(ctx context.Context, path string, data []byte, expectedID string) (string, error) {
	var out struct {
		Content shaResponse `json:"content"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&contentPutRequest{
			Message: fmt.Sprintf("vaultsync: update %s", path),
			Content: base64.StdEncoding.EncodeToString(data),
			Branch:  c.branch,
			SHA:     expectedID,
		}).
		SetSuccessResult(&out).
		SetErrorResult(&apiErrorResponse{}).
		Put(c.repoPath("/contents/%s", path))
	if err := handleAPIError(resp, err, "put "+path); err != nil {
		return "", err
	}
	return out.Content.SHA, nil
}

func (c *Client) DeleteFile(ctx context.Context, path, expectedID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&contentDeleteRequest{
			Message: fmt.Sprintf("vaultsync: delete %s", path),
			Branch:  c.branch,
			SHA:     expectedID,
		}).
		SetErrorResult(&apiErrorResponse{}).
		Delete(c.repoPath("/contents/%s", path))
	return handleAPIError(resp, err, "delete "+path)
}
