package webhook

import "testing"

func TestParseGitHubPush(t *testing.T) {
	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "abc123",
		"repository": {"full_name": "acme/blog", "clone_url": "https://github.com/acme/blog.git"}
	}`)
	p, err := Parse("github", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Repo != "acme/blog" {
		t.Errorf("repo = %q, want %q", p.Repo, "acme/blog")
	}
	if p.Branch != "main" {
		t.Errorf("branch = %q, want %q", p.Branch, "main")
	}
	if p.CommitSHA != "abc123" {
		t.Errorf("commit = %q, want %q", p.CommitSHA, "abc123")
	}
	if p.Provider != "github" {
		t.Errorf("provider = %q, want %q", p.Provider, "github")
	}
}

func TestParseGitHubPushCloneURLFallback(t *testing.T) {
	body := []byte(`{
		"ref": "refs/heads/dev",
		"after": "sha1",
		"repository": {"clone_url": "https://github.com/acme/blog.git"}
	}`)
	p, err := Parse("github", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Repo != "https://github.com/acme/blog.git" {
		t.Errorf("repo = %q", p.Repo)
	}
}

func TestParseGitHubPushMissingRepository(t *testing.T) {
	body := []byte(`{"ref": "refs/heads/main", "after": "abc"}`)
	if _, err := Parse("github", body); err == nil {
		t.Error("expected error for missing repository")
	}
}

func TestParseGitLabPush(t *testing.T) {
	body := []byte(`{
		"ref": "refs/heads/main",
		"checkout_sha": "def456",
		"project": {"path_with_namespace": "acme/blog"}
	}`)
	p, err := Parse("gitlab", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Repo != "acme/blog" {
		t.Errorf("repo = %q, want %q", p.Repo, "acme/blog")
	}
	if p.CommitSHA != "def456" {
		t.Errorf("commit = %q, want %q", p.CommitSHA, "def456")
	}
	if p.Provider != "gitlab" {
		t.Errorf("provider = %q, want %q", p.Provider, "gitlab")
	}
}

func TestParseGitLabPushMissingProject(t *testing.T) {
	body := []byte(`{"ref": "refs/heads/main", "checkout_sha": "x"}`)
	if _, err := Parse("gitlab", body); err == nil {
		t.Error("expected error for missing project")
	}
}

func TestParseGenericPush(t *testing.T) {
	body := []byte(`{"repo": "acme/blog", "branch": "main", "commit": "xyz"}`)
	p, err := Parse("generic", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Repo != "acme/blog" || p.Branch != "main" || p.CommitSHA != "xyz" {
		t.Errorf("p = %+v", p)
	}
	if p.Provider != "generic" {
		t.Errorf("provider = %q, want %q", p.Provider, "generic")
	}
}

func TestParseGenericPushMissingRepo(t *testing.T) {
	body := []byte(`{"branch": "main"}`)
	if _, err := Parse("generic", body); err == nil {
		t.Error("expected error for missing repo")
	}
}

func TestParseUnknownProviderFallsBackToGeneric(t *testing.T) {
	body := []byte(`{"repo": "acme/blog"}`)
	p, err := Parse("bitbucket", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Provider != "generic" {
		t.Errorf("provider = %q, want %q", p.Provider, "generic")
	}
}

func TestParseEmptyBody(t *testing.T) {
	if _, err := Parse("github", nil); err != ErrEmptyBody {
		t.Errorf("error = %v, want ErrEmptyBody", err)
	}
	if _, err := Parse("github", []byte{}); err != ErrEmptyBody {
		t.Errorf("error = %v, want ErrEmptyBody", err)
	}
}

func TestParseMalformedJSON(t *testing.T) {
	if _, err := Parse("github", []byte(`{not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestBranchFromRef(t *testing.T) {
	cases := map[string]string{
		"refs/heads/main":    "main",
		"refs/heads/feat/x":  "feat/x",
		"refs/tags/v1.0.0":   "refs/tags/v1.0.0",
		"main":               "main",
	}
	for ref, want := range cases {
		if got := branchFromRef(ref); got != want {
			t.Errorf("branchFromRef(%q) = %q, want %q", ref, got, want)
		}
	}
}
