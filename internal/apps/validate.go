package apps

import (
	"fmt"
	"regexp"
	"strings"
)

// shellMeta matches the shell metacharacters a git URL must never contain,
// since the URL flows into an exec.Command argument list.
var shellMeta = regexp.MustCompile(`[;&|` + "`" + `$(){}<>]`)

var gitURLScheme = regexp.MustCompile(`^(https?|git|ssh|ftps?|rsync)://`)
var gitScpLike = regexp.MustCompile(`^[\w.-]+@[\w.-]+:[\w./-]+$`)

var branchInvalid = regexp.MustCompile(`[;&|` + "`" + `$(){}<>\s]`)

var commitSHA = regexp.MustCompile(`^[a-f0-9]{6,40}$`)

// validateGitURL rejects shell metacharacters and requires either a
// recognised URL scheme or an scp-like "user@host:path" form.
func validateGitURL(url string) error {
	if shellMeta.MatchString(url) {
		return fmt.Errorf("git url contains disallowed characters")
	}
	if gitURLScheme.MatchString(url) || gitScpLike.MatchString(url) {
		return nil
	}
	return fmt.Errorf("git url must use https/git/ssh/ftp(s)/rsync scheme or user@host:path form")
}

// validateBranch rejects a leading '-' (option injection) and shell
// metacharacters.
func validateBranch(branch string) error {
	if branch == "" {
		return nil
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch must not start with '-'")
	}
	if branchInvalid.MatchString(branch) {
		return fmt.Errorf("branch contains disallowed characters")
	}
	return nil
}

// validateCommitSHA requires a 6-40 character lowercase hex string, if one
// is supplied.
func validateCommitSHA(sha string) error {
	if sha == "" {
		return nil
	}
	if !commitSHA.MatchString(sha) {
		return fmt.Errorf("commit sha must be 6-40 lowercase hex characters")
	}
	return nil
}
