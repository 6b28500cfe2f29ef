package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "warning"
)

type JobOutput struct {
	ID          int
	URL         string
	Status      string
	Message     string
	StreamLines []string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	URL   string
	Error error
	Time  time.Time
}

type Counts struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

// Manager tracks one entry per download and optionally redraws them in
// place on a terminal.
type Manager struct {
	outputs     map[int]*JobOutput
	mutex       sync.RWMutex
	out         io.Writer
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	jobCount    int
	displayWg   sync.WaitGroup
	stopOnce    sync.Once
}

func NewManager() *Manager {
	return NewManagerWithWriter(os.Stdout)
}

func NewManagerWithWriter(w io.Writer) *Manager {
	return &Manager{
		outputs:     make(map[int]*JobOutput),
		out:         w,
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

// IsTerminal reports whether live redraws make sense on stdout.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func (m *Manager) RegisterJob(url string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobCount++
	now := time.Now()
	m.outputs[m.jobCount] = &JobOutput{
		ID:          m.jobCount,
		URL:         url,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
	}
	return m.jobCount
}

func (m *Manager) update(id int, fn func(info *JobOutput)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		fn(info)
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetMessage(id int, message string) {
	m.update(id, func(info *JobOutput) { info.Message = message })
}

func (m *Manager) GetStatus(id int) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info, exists := m.outputs[id]; exists {
		return info.Status
	}
	return "unknown"
}

func (m *Manager) Complete(id int, message string) {
	m.update(id, func(info *JobOutput) {
		info.StreamLines = nil
		if message == "" {
			message = fmt.Sprintf("Completed %s", info.URL)
		}
		info.Message = message
		info.Complete = true
		info.Status = StatusSuccess
	})
}

func (m *Manager) Skip(id int, message string) {
	m.update(id, func(info *JobOutput) {
		info.StreamLines = nil
		info.Message = message
		info.Complete = true
		info.Status = StatusSkipped
	})
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.StreamLines = nil
		info.Message = fmt.Sprintf("Failed %s", info.URL)
		info.Complete = true
		info.Status = StatusError
		info.Error = err
		info.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{URL: info.URL, Error: err, Time: time.Now()})
	}
}

func (m *Manager) AddProgressBarToStream(id int, outof, final int64, text string) {
	m.update(id, func(info *JobOutput) {
		elapsed := time.Since(info.StartTime).Seconds()
		var bar string
		if final > 0 {
			bar = PrintProgressBar(max(0, outof), final, 30)
		}
		display := fmt.Sprintf("%s%s %s %s", bar, debugStyle.Render(text), StyleSymbols["bullet"], debugStyle.Render(FormatSpeed(outof, elapsed)))
		info.StreamLines = []string{display}
	})
}

func (m *Manager) Counts() Counts {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	c := Counts{Total: len(m.outputs)}
	for _, info := range m.outputs {
		switch info.Status {
		case StatusSuccess:
			c.Succeeded++
		case StatusError:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
		}
	}
	return c
}

func (m *Manager) Errors() []ErrorReport {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]ErrorReport(nil), m.errors...)
}

func (m *Manager) GetStatusIndicator(status string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusSkipped:
		return warningStyle.Render(StyleSymbols["warning"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(message)
	case StatusError:
		return errorStyle.Render(message)
	case StatusSkipped:
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) sortJobs() (active, completed []*JobOutput) {
	var all []*JobOutput
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID < all[j].ID
	})
	for _, j := range all {
		if j.Complete {
			completed = append(completed, j)
		} else {
			active = append(active, j)
		}
	}
	return active, completed
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	availableLines := getTerminalHeight() - 3
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}

	active, completed := m.sortJobs()
	needed := len(completed)
	for _, j := range active {
		needed += 1 + len(j.StreamLines)
	}
	// completed entries give way first when the screen is short
	if needed > availableLines {
		keep := max(availableLines-(needed-len(completed)), 0)
		if len(completed) > keep {
			completed = completed[len(completed)-keep:]
		}
	}

	lineCount := 0
	for _, j := range active {
		lineCount = m.renderJob(j, lineCount, availableLines)
	}
	if len(completed) > 10 && lineCount < availableLines {
		fmt.Fprintln(m.out, infoStyle.Render(fmt.Sprintf("%s%d images finished with varying hidden status ...", strings.Repeat(" ", 2), len(completed)-8)))
		completed = completed[len(completed)-8:]
		lineCount++
	}
	for _, j := range completed {
		lineCount = m.renderJob(j, lineCount, availableLines)
	}
	m.numLines = lineCount
}

func (m *Manager) renderJob(info *JobOutput, lineCount, availableLines int) int {
	if lineCount >= availableLines {
		return lineCount
	}
	elapsed := time.Since(info.StartTime).Round(time.Second)
	if info.Complete {
		elapsed = info.LastUpdated.Sub(info.StartTime).Round(time.Second)
	}
	message := info.Message
	if message == "" {
		message = "Waiting..."
	}
	fmt.Fprintf(m.out, "%s%s %s %s\n", strings.Repeat(" ", 2), m.GetStatusIndicator(info.Status), debugStyle.Render(elapsed.String()), styleMessage(info.Status, message))
	lineCount++
	indent := strings.Repeat(" ", 2+4)
	for _, line := range info.StreamLines {
		if lineCount >= availableLines {
			break
		}
		fmt.Fprintf(m.out, "%s%s\n", indent, streamStyle.Render(line))
		lineCount++
	}
	return lineCount
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay draws the final frame. It is safe to call without StartDisplay.
func (m *Manager) StopDisplay() {
	m.stopOnce.Do(func() { close(m.doneCh) })
	m.displayWg.Wait()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("Image: %s", err.URL)))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", err.Error)))
	}
}

func (m *Manager) ShowSummary() {
	c := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", c.Succeeded, c.Total)))
	if c.Skipped > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+warningStyle.Render(fmt.Sprintf("Skipped %d of %d", c.Skipped, c.Total)))
	}
	if c.Failed > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", c.Failed, c.Total)))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
