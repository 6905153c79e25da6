// Package enrich turns normalized webhook events into short narratives and
// persists them to the external memory store. The whole step is best effort:
// its failure never alters the delivery's audit log entry or result.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"gitmem/internal/model"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Generator is the opaque text-generation capability. An empty string result
// means there is nothing worth remembering and the write is skipped.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// MemoryWriter persists narrative entries; writes are idempotent on CustomID.
type MemoryWriter interface {
	Upsert(ctx context.Context, entry model.MemoryEntry) error
}

type Enricher struct {
	generator Generator
	memory    MemoryWriter
	logger    logr.Logger
}

func New(generator Generator, memory MemoryWriter, logger logr.Logger) *Enricher {
	return &Enricher{generator: generator, memory: memory, logger: logger}
}

// ShouldEnrich gates the side effect: releases and default-branch pushes are
// always worth a narrative, stars only at milestone totals.
func (e *Enricher) ShouldEnrich(ev model.ProcessedEvent) bool {
	switch ev.Type {
	case "release", "push":
		return true
	case "star":
		milestone, _ := ev.Data["milestone"].(bool)
		return milestone
	default:
		return false
	}
}

// Enrich generates and upserts one memory entry for the event. The customId
// is stable per delivery so a replayed delivery that slips past dedup cannot
// create a duplicate knowledge entry.
func (e *Enricher) Enrich(ctx context.Context, ev model.ProcessedEvent, rctx model.RepositoryContext, repositoryName, deliveryID string) error {
	prompt := BuildPrompt(ev, repositoryName)
	text, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate narrative: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		e.logger.V(1).Info("generator returned empty narrative, skipping memory write",
			"event_type", ev.Type, "repository", repositoryName)
		return nil
	}
	entry := model.MemoryEntry{
		Content:      text,
		ContainerTag: rctx.OrganizationID,
		CustomID:     CustomID(rctx.RepositoryID, deliveryID),
		Metadata: model.MemoryMetadata{
			Source:     "github",
			EventType:  ev.Type,
			Repository: repositoryName,
		},
	}
	if err := e.memory.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("upsert memory entry: %w", err)
	}
	return nil
}

// CustomID derives the idempotency key for a memory write. A missing delivery
// id falls back to a random uuid, which sacrifices replay protection for that
// one delivery but keeps the key shape uniform.
func CustomID(repositoryID, deliveryID string) string {
	if strings.TrimSpace(deliveryID) == "" {
		deliveryID = uuid.NewString()
	}
	return "github:" + repositoryID + ":" + deliveryID
}

// BuildPrompt renders the generation request from the canonical event shape
// only; no provider payload details leak in here.
func BuildPrompt(ev model.ProcessedEvent, repositoryName string) string {
	b := strings.Builder{}
	b.WriteString("Write a short factual narrative (2-3 sentences) about the following ")
	b.WriteString(ev.Type)
	b.WriteString(" event in the repository ")
	b.WriteString(repositoryName)
	b.WriteString(".\n")
	if ev.Action != "" {
		b.WriteString("Action: " + ev.Action + "\n")
	}
	switch ev.Type {
	case "release":
		writeField(&b, "Tag", ev.Data["tag"])
		writeField(&b, "Title", ev.Data["title"])
		writeField(&b, "Notes", ev.Data["body"])
	case "push":
		writeField(&b, "Branch", ev.Data["branch"])
		if commits, ok := ev.Data["commits"].([]map[string]interface{}); ok {
			b.WriteString(fmt.Sprintf("Commits: %d\n", len(commits)))
			for _, c := range commits {
				writeField(&b, "- ", c["message"])
			}
		}
	case "star":
		writeField(&b, "Stargazers", ev.Data["stargazers"])
	}
	b.WriteString("Respond with the narrative only.")
	return b.String()
}

func writeField(b *strings.Builder, label string, v interface{}) {
	if v == nil {
		return
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if s == "" {
		return
	}
	if strings.HasSuffix(label, " ") {
		b.WriteString(label + s + "\n")
		return
	}
	b.WriteString(label + ": " + s + "\n")
}
