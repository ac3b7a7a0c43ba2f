package human

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	promptBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FFB86C")).
			Padding(0, 1)
	promptTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFB86C"))
	promptHintStyle  = lipgloss.NewStyle().Faint(true)
)

type terminalEntry struct {
	complete func() error
	id       string
}

// Terminal presents requests on a line-oriented console. Each line read
// from the input completes the oldest presented request; lines arriving
// while nothing is waiting are discarded.
type Terminal struct {
	in        io.Reader
	out       io.Writer
	queue     []terminalEntry
	mu        sync.Mutex
	startOnce sync.Once
}

// NewTerminal creates a terminal presenter reading acknowledgments from in.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

// Present implements Presenter.
func (t *Terminal) Present(_ context.Context, req Request, complete func() error) (Presentation, error) {
	t.startOnce.Do(func() { go t.readLoop() })

	t.mu.Lock()
	t.queue = append(t.queue, terminalEntry{id: req.ID, complete: complete})
	waiting := len(t.queue)
	t.mu.Unlock()

	t.render(req, waiting)

	return Presentation{Stop: func() { t.drop(req.ID) }}, nil
}

func (t *Terminal) render(req Request, waiting int) {
	body := promptTitleStyle.Render("Action needed: "+req.AdapterID) + "\n" + req.Prompt
	if req.PageURL != "" {
		body += "\n" + promptHintStyle.Render(req.PageURL)
	}
	hint := fmt.Sprintf("Press Enter when done (expires %s)", req.Deadline.Format(time.Kitchen))
	if waiting > 1 {
		hint += fmt.Sprintf(", %d waiting", waiting)
	}
	body += "\n" + promptHintStyle.Render(hint)
	fmt.Fprintln(t.out, promptBoxStyle.Render(body))
}

func (t *Terminal) readLoop() {
	scanner := bufio.NewScanner(t.in)
	for scanner.Scan() {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()
			continue
		}
		entry := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		if err := entry.complete(); err != nil {
			fmt.Fprintf(t.out, "%s\n", promptHintStyle.Render("request already closed: "+err.Error()))
		}
	}
}

func (t *Terminal) drop(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.queue {
		if e.id == id {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			return
		}
	}
}
