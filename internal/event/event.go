// Package event reads the payload of the workflow event that triggered a run.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// PullRequestEvent is the only supported event name.
const PullRequestEvent = "pull_request"

// ErrUnsupportedEvent is returned for events other than pull_request.
var ErrUnsupportedEvent = errors.New("unsupported event")

// GitHubPullRequestEvent represents the parts of a GitHub pull_request payload cishim reads
type GitHubPullRequestEvent struct {
	Number      int `json:"number"`
	PullRequest struct {
		Number int `json:"number"`
		Head   Ref `json:"head"`
		Base   Ref `json:"base"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Ref is one side of a pull request.
type Ref struct {
	SHA string `json:"sha"`
	Ref string `json:"ref"`
}

// PullRequest is the decoded pull request.
type PullRequest struct {
	Number     int
	Head       Ref
	Base       Ref
	Repository string
}

// Load reads the payload of the named event from path.
func Load(name, path string) (*PullRequest, error) {
	if name != PullRequestEvent {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, name)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event payload: %w", err)
	}
	var ev GitHubPullRequestEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse event payload: %w", err)
	}
	if ev.PullRequest.Head.SHA == "" {
		return nil, fmt.Errorf("event payload has no pull_request.head.sha")
	}

	number := ev.PullRequest.Number
	if number == 0 {
		number = ev.Number
	}
	return &PullRequest{
		Number:     number,
		Head:       ev.PullRequest.Head,
		Base:       ev.PullRequest.Base,
		Repository: ev.Repository.FullName,
	}, nil
}
