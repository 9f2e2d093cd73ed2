package tui

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/whistler-io/whistler/internal/store"
)

type fakeBackend struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	appMode int
}

func (b *fakeBackend) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *fakeBackend) EnterAppMode() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appMode++
	return nil
}

func (b *fakeBackend) LeaveAppMode() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appMode--
	return nil
}

func (b *fakeBackend) output() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeCatalog struct {
	mu        sync.Mutex
	templates []store.Template
	instances []store.Instance
	created   []store.ShortName
	deleted   []store.ShortName
}

func (c *fakeCatalog) ListTemplates(context.Context, string) ([]store.Template, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.templates, nil
}

func (c *fakeCatalog) ListInstances(context.Context, string) ([]store.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instances, nil
}

func (c *fakeCatalog) CreateInstance(_ context.Context, _ string, _ store.FullName, name store.ShortName, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, name)
	return nil
}

func (c *fakeCatalog) DeleteInstance(_ context.Context, _ string, name store.ShortName) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, name)
	return nil
}

func (c *fakeCatalog) SaveTemplate(context.Context, string, store.Template) error {
	return nil
}

func newTestCatalog() *fakeCatalog {
	return &fakeCatalog{
		templates: []store.Template{
			{Name: "small", FullName: "small", Source: store.SourceSystem, Image: "ubuntu:22.04"},
		},
		instances: []store.Instance{
			{Name: "dev1", TemplateRef: "small", Status: store.StatusRunning, IP: "10.0.0.7"},
		},
	}
}

func runMenu(t *testing.T, menu *Menu) <-chan Outcome {
	t.Helper()
	out := make(chan Outcome, 1)
	go func() {
		outcome, _ := menu.Run(context.Background())
		out <- outcome
	}()
	return out
}

func waitOutcome(t *testing.T, out <-chan Outcome) Outcome {
	t.Helper()
	select {
	case outcome := <-out:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatal("menu did not finish")
		return Outcome{}
	}
}

func TestMenuQuit(t *testing.T) {
	backend := &fakeBackend{}
	menu := NewMenu(backend, newTestCatalog(), "alice")
	out := runMenu(t, menu)

	menu.FeedInput([]byte("q"))

	if outcome := waitOutcome(t, out); outcome.Action != ActionQuit {
		t.Errorf("action = %v, want quit", outcome.Action)
	}
	if got := backend.appMode; got != 0 {
		t.Errorf("app mode not restored, depth = %d", got)
	}
}

func TestMenuRendersTables(t *testing.T) {
	backend := &fakeBackend{}
	menu := NewMenu(backend, newTestCatalog(), "alice")
	out := runMenu(t, menu)

	menu.FeedInput([]byte("q"))
	waitOutcome(t, out)

	output := backend.output()
	for _, want := range []string{"whistler - alice", "small", "ubuntu:22.04", "dev1", "Running", "10.0.0.7"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if !strings.Contains(output, "\r\n") {
		t.Error("output must use CRLF line endings")
	}
}

func TestMenuConnect(t *testing.T) {
	menu := NewMenu(&fakeBackend{}, newTestCatalog(), "alice")
	out := runMenu(t, menu)

	// Focus the instances table, then connect.
	menu.FeedInput([]byte("\tc"))

	outcome := waitOutcome(t, out)
	if outcome.Action != ActionConnect || outcome.Instance != "dev1" {
		t.Errorf("outcome = %+v, want connect dev1", outcome)
	}
}

func TestMenuInstantiatePrompt(t *testing.T) {
	catalog := newTestCatalog()
	menu := NewMenu(&fakeBackend{}, catalog, "alice")
	out := runMenu(t, menu)

	menu.FeedInput([]byte("i"))
	menu.FeedInput([]byte("dev2\r"))
	menu.FeedInput([]byte("q"))
	waitOutcome(t, out)

	catalog.mu.Lock()
	defer catalog.mu.Unlock()
	if len(catalog.created) != 1 || catalog.created[0] != "dev2" {
		t.Errorf("created = %v, want [dev2]", catalog.created)
	}
}

func TestMenuDelete(t *testing.T) {
	catalog := newTestCatalog()
	menu := NewMenu(&fakeBackend{}, catalog, "alice")
	out := runMenu(t, menu)

	menu.FeedInput([]byte("\tD"))
	menu.FeedInput([]byte("q"))
	waitOutcome(t, out)

	catalog.mu.Lock()
	defer catalog.mu.Unlock()
	if len(catalog.deleted) != 1 || catalog.deleted[0] != "dev1" {
		t.Errorf("deleted = %v, want [dev1]", catalog.deleted)
	}
}
