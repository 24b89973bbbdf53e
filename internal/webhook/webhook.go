// Package webhook parses inbound provider push payloads (GitHub, GitLab,
// and a generic fallback) and maps them to a redeploy of the matching
// git-backed App.
package webhook

import (
	"encoding/json"
	"errors"
	"strings"
)

// Payload is a normalised push event, regardless of provider.
type Payload struct {
	Repo      string // e.g. "user/repo" or a full clone URL
	Branch    string
	CommitSHA string
	Provider  string // "github" | "gitlab" | "generic"
}

// ErrEmptyBody is returned when the request body is empty.
var ErrEmptyBody = errors.New("empty request body")

// Parse detects and parses a push payload for the named provider. An
// unrecognised provider falls back to the generic format.
func Parse(provider string, body []byte) (*Payload, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	switch provider {
	case "github":
		return parseGitHub(body)
	case "gitlab":
		return parseGitLab(body)
	default:
		return parseGeneric(body)
	}
}

// parseGitHub handles a GitHub "push" webhook event.
//
//	{
//	    "ref": "refs/heads/main",
//	    "after": "<sha>",
//	    "repository": {"full_name": "user/repo", "clone_url": "..."}
//	}
func parseGitHub(body []byte) (*Payload, error) {
	var gh struct {
		Ref        string `json:"ref"`
		After      string `json:"after"`
		Repository struct {
			FullName string `json:"full_name"`
			CloneURL string `json:"clone_url"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &gh); err != nil {
		return nil, err
	}
	repo := gh.Repository.FullName
	if repo == "" {
		repo = gh.Repository.CloneURL
	}
	if repo == "" {
		return nil, errors.New("github: missing repository")
	}
	return &Payload{
		Repo:      repo,
		Branch:    branchFromRef(gh.Ref),
		CommitSHA: gh.After,
		Provider:  "github",
	}, nil
}

// parseGitLab handles a GitLab "Push Hook" event.
//
//	{
//	    "ref": "refs/heads/main",
//	    "checkout_sha": "<sha>",
//	    "project": {"path_with_namespace": "user/repo", "git_http_url": "..."}
//	}
func parseGitLab(body []byte) (*Payload, error) {
	var gl struct {
		Ref         string `json:"ref"`
		CheckoutSHA string `json:"checkout_sha"`
		Project     struct {
			PathWithNamespace string `json:"path_with_namespace"`
			GitHTTPURL        string `json:"git_http_url"`
		} `json:"project"`
	}
	if err := json.Unmarshal(body, &gl); err != nil {
		return nil, err
	}
	repo := gl.Project.PathWithNamespace
	if repo == "" {
		repo = gl.Project.GitHTTPURL
	}
	if repo == "" {
		return nil, errors.New("gitlab: missing project")
	}
	return &Payload{
		Repo:      repo,
		Branch:    branchFromRef(gl.Ref),
		CommitSHA: gl.CheckoutSHA,
		Provider:  "gitlab",
	}, nil
}

// parseGeneric handles a minimal CI/CD-agnostic payload.
//
//	{"repo": "user/repo", "branch": "main", "commit": "<sha>"}
func parseGeneric(body []byte) (*Payload, error) {
	var gen struct {
		Repo   string `json:"repo"`
		Branch string `json:"branch"`
		Commit string `json:"commit"`
	}
	if err := json.Unmarshal(body, &gen); err != nil {
		return nil, err
	}
	if gen.Repo == "" {
		return nil, errors.New("generic: missing repo field")
	}
	return &Payload{
		Repo:      gen.Repo,
		Branch:    gen.Branch,
		CommitSHA: gen.Commit,
		Provider:  "generic",
	}, nil
}

// branchFromRef extracts a branch name out of a "refs/heads/<branch>" ref,
// returning the ref unchanged if it doesn't match that shape.
func branchFromRef(ref string) string {
	const prefix = "refs/heads/"
	if strings.HasPrefix(ref, prefix) {
		return strings.TrimPrefix(ref, prefix)
	}
	return ref
}
