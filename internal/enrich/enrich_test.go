package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gitmem/internal/model"

	"github.com/go-logr/logr"
)

type stubGenerator struct {
	text   string
	err    error
	prompt string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.text, g.err
}

type stubMemory struct {
	entries []model.MemoryEntry
	err     error
}

func (m *stubMemory) Upsert(_ context.Context, entry model.MemoryEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func releaseEvent() model.ProcessedEvent {
	return model.ProcessedEvent{
		Type:   "release",
		Action: "published",
		Data:   map[string]interface{}{"tag": "v1.2.0", "title": "v1.2.0", "body": "notes"},
	}
}

func TestShouldEnrich(t *testing.T) {
	e := New(&stubGenerator{}, &stubMemory{}, logr.Discard())
	cases := []struct {
		name string
		ev   model.ProcessedEvent
		want bool
	}{
		{"release", releaseEvent(), true},
		{"push", model.ProcessedEvent{Type: "push"}, true},
		{"star milestone", model.ProcessedEvent{Type: "star", Data: map[string]interface{}{"milestone": true}}, true},
		{"star non-milestone", model.ProcessedEvent{Type: "star", Data: map[string]interface{}{"milestone": false}}, false},
		{"star missing flag", model.ProcessedEvent{Type: "star", Data: map[string]interface{}{}}, false},
		{"other type", model.ProcessedEvent{Type: "ping"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.ShouldEnrich(tc.ev); got != tc.want {
				t.Fatalf("ShouldEnrich=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestEnrichWritesEntry(t *testing.T) {
	gen := &stubGenerator{text: "  Release v1.2.0 published.  "}
	mem := &stubMemory{}
	e := New(gen, mem, logr.Discard())
	rctx := model.RepositoryContext{RepositoryID: "r1", OrganizationID: "org_1", IntegrationID: "int_1"}

	if err := e.Enrich(context.Background(), releaseEvent(), rctx, "acme/api", "del_1"); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if len(mem.entries) != 1 {
		t.Fatalf("entries=%d", len(mem.entries))
	}
	entry := mem.entries[0]
	if entry.Content != "Release v1.2.0 published." {
		t.Fatalf("content=%q", entry.Content)
	}
	if entry.CustomID != "github:r1:del_1" {
		t.Fatalf("custom id=%q", entry.CustomID)
	}
	if entry.ContainerTag != "org_1" || entry.Metadata.Repository != "acme/api" {
		t.Fatalf("entry=%+v", entry)
	}
	if !strings.Contains(gen.prompt, "acme/api") || !strings.Contains(gen.prompt, "v1.2.0") {
		t.Fatalf("prompt %q", gen.prompt)
	}
}

func TestEnrichSkipsEmptyNarrative(t *testing.T) {
	mem := &stubMemory{}
	e := New(&stubGenerator{text: "   "}, mem, logr.Discard())
	err := e.Enrich(context.Background(), releaseEvent(), model.RepositoryContext{RepositoryID: "r1"}, "acme/api", "del_1")
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if len(mem.entries) != 0 {
		t.Fatalf("empty narrative must not be written")
	}
}

func TestEnrichPropagatesErrors(t *testing.T) {
	genErr := errors.New("generator down")
	e := New(&stubGenerator{err: genErr}, &stubMemory{}, logr.Discard())
	err := e.Enrich(context.Background(), releaseEvent(), model.RepositoryContext{}, "acme/api", "del_1")
	if !errors.Is(err, genErr) {
		t.Fatalf("expected generator error, got %v", err)
	}

	memErr := errors.New("store down")
	e = New(&stubGenerator{text: "narrative"}, &stubMemory{err: memErr}, logr.Discard())
	err = e.Enrich(context.Background(), releaseEvent(), model.RepositoryContext{}, "acme/api", "del_1")
	if !errors.Is(err, memErr) {
		t.Fatalf("expected memory error, got %v", err)
	}
}

func TestCustomID(t *testing.T) {
	if got := CustomID("r1", "del_1"); got != "github:r1:del_1" {
		t.Fatalf("got %q", got)
	}
	// Missing delivery id falls back to a random component; the shape stays.
	got := CustomID("r1", "")
	if !strings.HasPrefix(got, "github:r1:") || got == "github:r1:" {
		t.Fatalf("got %q", got)
	}
	if CustomID("r1", "") == CustomID("r1", "") {
		t.Fatalf("fallback ids should not collide")
	}
}

func TestBuildPromptPush(t *testing.T) {
	ev := model.ProcessedEvent{
		Type:   "push",
		Action: "pushed",
		Data: map[string]interface{}{
			"branch": "main",
			"commits": []map[string]interface{}{
				{"message": "fix parser"},
				{"message": "add cache"},
			},
		},
	}
	prompt := BuildPrompt(ev, "acme/api")
	for _, want := range []string{"push", "main", "Commits: 2", "fix parser", "add cache"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
