package tui

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/whistler-io/whistler/internal/store"
)

// refreshInterval is how often the menu re-reads the cluster in the
// background.
const refreshInterval = 5 * time.Second

// Catalog is the slice of the store the menu needs.
type Catalog interface {
	ListTemplates(ctx context.Context, owner string) ([]store.Template, error)
	ListInstances(ctx context.Context, owner string) ([]store.Instance, error)
	CreateInstance(ctx context.Context, owner string, templateRef store.FullName, name store.ShortName, preemptible bool) error
	DeleteInstance(ctx context.Context, owner string, name store.ShortName) error
	SaveTemplate(ctx context.Context, owner string, tpl store.Template) error
}

// Action is what the user chose to do on leaving the menu.
type Action int

const (
	ActionQuit Action = iota
	ActionConnect
)

// Outcome carries the menu result back to the session coordinator.
type Outcome struct {
	Action   Action
	Instance store.ShortName
}

// focus selects which table the cursor lives in.
type focus int

const (
	focusTemplates focus = iota
	focusInstances
)

// Menu is the two-table instance/template picker. Input arrives via
// FeedInput, resizes via PostResize; both are safe from other
// goroutines.
type Menu struct {
	backend Backend
	catalog Catalog
	owner   string

	input  chan []byte
	resize chan struct{}

	mu        sync.Mutex
	templates []store.Template
	instances []store.Instance

	focus    focus
	cursor   int
	status   string
	prompt   bool
	promptBuf []byte
	escape    []byte
}

// NewMenu builds a menu for owner over the given terminal backend.
func NewMenu(backend Backend, catalog Catalog, owner string) *Menu {
	return &Menu{
		backend: backend,
		catalog: catalog,
		owner:   owner,
		input:   make(chan []byte, 16),
		resize:  make(chan struct{}, 1),
	}
}

// FeedInput hands client keystrokes to the menu. Input arriving faster
// than the menu consumes it is dropped.
func (m *Menu) FeedInput(p []byte) {
	data := make([]byte, len(p))
	copy(data, p)
	select {
	case m.input <- data:
	default:
	}
}

// PostResize schedules a redraw for the new terminal size.
func (m *Menu) PostResize(width, height uint16) {
	select {
	case m.resize <- struct{}{}:
	default:
	}
}

// Run drives the menu until the user connects, quits, or the context
// is cancelled. It owns the alternate screen for its whole lifetime.
func (m *Menu) Run(ctx context.Context) (Outcome, error) {
	if err := m.backend.EnterAppMode(); err != nil {
		return Outcome{Action: ActionQuit}, err
	}
	defer m.backend.LeaveAppMode()

	m.refresh(ctx)
	m.render()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Outcome{Action: ActionQuit}, ctx.Err()
		case <-ticker.C:
			m.refresh(ctx)
			m.render()
		case <-m.resize:
			m.render()
		case data := <-m.input:
			for _, b := range data {
				if outcome, done := m.handleByte(ctx, b); done {
					return outcome, nil
				}
			}
			m.render()
		}
	}
}

// refresh re-reads both tables; errors leave the previous snapshot in
// place and surface in the status line.
func (m *Menu) refresh(ctx context.Context) {
	templates, err := m.catalog.ListTemplates(ctx, m.owner)
	if err != nil {
		m.setStatus(fmt.Sprintf("refresh failed: %v", err))
		return
	}
	instances, err := m.catalog.ListInstances(ctx, m.owner)
	if err != nil {
		m.setStatus(fmt.Sprintf("refresh failed: %v", err))
		return
	}

	m.mu.Lock()
	m.templates = templates
	m.instances = instances
	m.clampCursorLocked()
	m.mu.Unlock()
}

func (m *Menu) setStatus(s string) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Menu) clampCursorLocked() {
	rows := len(m.templates)
	if m.focus == focusInstances {
		rows = len(m.instances)
	}
	if m.cursor >= rows {
		m.cursor = rows - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// handleByte consumes one input byte. The bool result reports that the
// menu is done and the outcome is final.
func (m *Menu) handleByte(ctx context.Context, b byte) (Outcome, bool) {
	// Arrow keys arrive as CSI sequences.
	if len(m.escape) > 0 {
		m.escape = append(m.escape, b)
		switch {
		case bytes.Equal(m.escape, []byte{0x1b, '['}):
			return Outcome{}, false
		case bytes.Equal(m.escape, []byte{0x1b, '[', 'A'}):
			m.moveCursor(-1)
		case bytes.Equal(m.escape, []byte{0x1b, '[', 'B'}):
			m.moveCursor(1)
		}
		m.escape = nil
		return Outcome{}, false
	}

	if m.prompt {
		return m.handlePromptByte(ctx, b)
	}

	switch b {
	case 0x1b:
		m.escape = []byte{b}
	case 'q', 0x03, 0x04: // q, ^C, ^D
		return Outcome{Action: ActionQuit}, true
	case 'r':
		m.refresh(ctx)
	case 'j':
		m.moveCursor(1)
	case 'k':
		m.moveCursor(-1)
	case '\t':
		m.mu.Lock()
		if m.focus == focusTemplates {
			m.focus = focusInstances
		} else {
			m.focus = focusTemplates
		}
		m.cursor = 0
		m.mu.Unlock()
	case 'c':
		if inst := m.selectedInstance(); inst != nil {
			return Outcome{Action: ActionConnect, Instance: inst.Name}, true
		}
		m.setStatus("Select an instance first.")
	case 'i':
		if m.selectedTemplate() == nil {
			m.setStatus("Select a template first.")
			break
		}
		m.mu.Lock()
		m.prompt = true
		m.promptBuf = nil
		m.mu.Unlock()
	case 'D':
		m.deleteSelected(ctx)
	case 'n':
		m.cloneSelectedTemplate(ctx)
	}
	return Outcome{}, false
}

// handlePromptByte accumulates the new-instance name prompt.
func (m *Menu) handlePromptByte(ctx context.Context, b byte) (Outcome, bool) {
	switch b {
	case 0x1b: // cancel
		m.mu.Lock()
		m.prompt = false
		m.mu.Unlock()
	case '\r', '\n':
		name := string(m.promptBuf)
		m.mu.Lock()
		m.prompt = false
		m.mu.Unlock()
		if name != "" {
			m.instantiate(ctx, store.ShortName(name))
		}
	case 0x7f, 0x08: // backspace
		if len(m.promptBuf) > 0 {
			m.promptBuf = m.promptBuf[:len(m.promptBuf)-1]
		}
	default:
		if b >= 0x20 && b < 0x7f {
			m.promptBuf = append(m.promptBuf, b)
		}
	}
	return Outcome{}, false
}

func (m *Menu) moveCursor(delta int) {
	m.mu.Lock()
	m.cursor += delta
	m.clampCursorLocked()
	m.mu.Unlock()
}

func (m *Menu) selectedTemplate() *store.Template {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.focus != focusTemplates || m.cursor >= len(m.templates) {
		return nil
	}
	return &m.templates[m.cursor]
}

func (m *Menu) selectedInstance() *store.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.focus != focusInstances || m.cursor >= len(m.instances) {
		return nil
	}
	return &m.instances[m.cursor]
}

func (m *Menu) instantiate(ctx context.Context, name store.ShortName) {
	tpl := m.selectedTemplate()
	if tpl == nil {
		m.setStatus("Select a template first.")
		return
	}
	if err := m.catalog.CreateInstance(ctx, m.owner, tpl.FullName, name, false); err != nil {
		m.setStatus(fmt.Sprintf("Failed to create instance (name might exist): %v", err))
		return
	}
	m.setStatus(fmt.Sprintf("Instance %s created.", name))
	m.refresh(ctx)
}

func (m *Menu) deleteSelected(ctx context.Context) {
	inst := m.selectedInstance()
	if inst == nil {
		m.setStatus("Select an instance first.")
		return
	}
	if err := m.catalog.DeleteInstance(ctx, m.owner, inst.Name); err != nil {
		m.setStatus(fmt.Sprintf("Failed to delete %s: %v", inst.Name, err))
		return
	}
	m.setStatus(fmt.Sprintf("Instance %s deleted.", inst.Name))
	m.refresh(ctx)
}

// cloneSelectedTemplate saves an editable copy of the selected
// template under the user's namespace.
func (m *Menu) cloneSelectedTemplate(ctx context.Context) {
	tpl := m.selectedTemplate()
	if tpl == nil {
		m.setStatus("Select a template first.")
		return
	}
	clone := *tpl
	clone.Name = store.ShortName(fmt.Sprintf("%s-%s", tpl.Name, uuid.New().String()[:8]))
	if err := m.catalog.SaveTemplate(ctx, m.owner, clone); err != nil {
		m.setStatus(fmt.Sprintf("Failed to save template: %v", err))
		return
	}
	m.setStatus(fmt.Sprintf("Template %s saved.", clone.Name))
	m.refresh(ctx)
}

// render draws the full frame. Plain text, CRLF line endings.
func (m *Menu) render() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body strings.Builder
	body.WriteString(fmt.Sprintf("whistler - %s\n\n", m.owner))

	body.WriteString("Templates\n")
	tw := tabwriter.NewWriter(&body, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tIMAGE\tCPU\tMEMORY\tSOURCE")
	for i, tpl := range m.templates {
		marker := "  "
		if m.focus == focusTemplates && i == m.cursor {
			marker = "> "
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t%s\n", marker,
			tpl.Name, tpl.Image, orDash(tpl.Resources.CPU), orDash(tpl.Resources.Memory), tpl.Source)
	}
	tw.Flush()

	body.WriteString("\nInstances\n")
	tw = tabwriter.NewWriter(&body, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tTEMPLATE\tSTATUS\tIP")
	for i, inst := range m.instances {
		marker := "  "
		if m.focus == focusInstances && i == m.cursor {
			marker = "> "
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\n", marker,
			inst.Name, inst.TemplateRef, inst.Status, orDash(inst.IP))
	}
	tw.Flush()

	body.WriteString("\n[c] connect  [i] create instance  [D] delete  [n] copy template  [r] refresh  [Tab] switch  [q] quit\n")
	if m.prompt {
		body.WriteString(fmt.Sprintf("Instance name: %s_\n", m.promptBuf))
	} else if m.status != "" {
		body.WriteString(m.status + "\n")
	}

	// Clear, home, then the frame with CRLF endings.
	frame := "\x1b[2J\x1b[H" + strings.ReplaceAll(body.String(), "\n", "\r\n")
	m.backend.Write([]byte(frame))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
