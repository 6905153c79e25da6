package github

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gitmem/internal/model"

	githubv53 "github.com/google/go-github/v53/github"
)

// Outcome is the classification result for one validated payload. A nil
// Processed with a non-empty Reason means the event was filtered by rule,
// which is an expected success outcome, not a fault.
type Outcome struct {
	Processed *model.ProcessedEvent
	Reason    string
}

func processed(eventType, action string, data map[string]interface{}) Outcome {
	return Outcome{Processed: &model.ProcessedEvent{Type: eventType, Action: action, Data: data}}
}

func filtered(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Classify runs the per-kind rules over a payload that already passed Parse
// and Validate. It is a pure function of (kind, body); callers handle ping
// and unknown kinds before reaching it.
func Classify(kind EventKind, body []byte) (Outcome, error) {
	switch kind {
	case KindRelease:
		return classifyRelease(body)
	case KindPush:
		return classifyPush(body)
	case KindStar:
		return classifyStar(body)
	default:
		return Outcome{}, fmt.Errorf("kind %s has no classifier", kind)
	}
}

func classifyRelease(body []byte) (Outcome, error) {
	var ev githubv53.ReleaseEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Outcome{}, &ParseError{err: err}
	}
	action := strings.ToLower(ev.GetAction())
	switch action {
	case "published", "created", "edited", "prereleased":
	default:
		return filtered("release action " + action + " not processed"), nil
	}
	rel := ev.GetRelease()
	if rel == nil {
		return filtered("release payload missing"), nil
	}
	// Draft releases are only visible at creation; a later edit of a draft
	// carries no publishable content.
	if rel.GetDraft() && action != "created" {
		return filtered("draft release only processed on created"), nil
	}
	data := map[string]interface{}{
		"tag":        rel.GetTagName(),
		"title":      rel.GetName(),
		"body":       rel.GetBody(),
		"prerelease": rel.GetPrerelease(),
		"draft":      rel.GetDraft(),
		"url":        rel.GetHTMLURL(),
	}
	if ts := rel.GetPublishedAt(); ts.GetTime() != nil {
		data["published_at"] = ts.GetTime().UTC().Format(time.RFC3339)
	}
	return processed("release", action, data), nil
}

func classifyPush(body []byte) (Outcome, error) {
	var ev githubv53.PushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Outcome{}, &ParseError{err: err}
	}
	ref := ev.GetRef()
	defaultBranch := ev.GetRepo().GetDefaultBranch()
	if ref == "" || defaultBranch == "" {
		return filtered("push missing ref or default branch"), nil
	}
	if ref != "refs/heads/"+defaultBranch {
		return filtered("push to non-default branch"), nil
	}
	if len(ev.Commits) == 0 {
		return filtered("push with no commits"), nil
	}
	commits := make([]map[string]interface{}, 0, len(ev.Commits))
	for _, c := range ev.Commits {
		if c == nil {
			continue
		}
		commits = append(commits, commitSummary(c))
	}
	if len(commits) == 0 {
		return filtered("push with no commits"), nil
	}
	data := map[string]interface{}{
		"ref":     ref,
		"branch":  defaultBranch,
		"commits": commits,
	}
	if hc := ev.GetHeadCommit(); hc != nil {
		data["head_commit"] = commitSummary(hc)
	}
	return processed("push", "pushed", data), nil
}

func commitSummary(c *githubv53.HeadCommit) map[string]interface{} {
	out := map[string]interface{}{
		"id":      c.GetID(),
		"message": c.GetMessage(),
		"author":  c.GetAuthor().GetName(),
		"url":     c.GetURL(),
	}
	if ts := c.GetTimestamp(); ts.GetTime() != nil {
		out["timestamp"] = ts.GetTime().UTC().Format(time.RFC3339)
	}
	return out
}

func classifyStar(body []byte) (Outcome, error) {
	var ev githubv53.StarEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Outcome{}, &ParseError{err: err}
	}
	action := strings.ToLower(ev.GetAction())
	if action != "created" {
		return filtered("un-star not processed"), nil
	}
	count := ev.GetRepo().GetStargazersCount()
	data := map[string]interface{}{
		"stargazers": count,
		"milestone":  IsStarMilestone(count),
		"repository": ev.GetRepo().GetFullName(),
	}
	return processed("star", action, data), nil
}
