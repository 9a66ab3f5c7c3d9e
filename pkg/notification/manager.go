package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/logging"
	"github.com/core-tools/hsu-pilot/pkg/machine"
)

const (
	symbolRocket    = "🚀"
	symbolCheckMark = "✅"
	symbolCross     = "❌"
	symbolBlue      = "🔵"
	symbolForbidden = "🚫"
	symbolWarning   = "⚠️"
	symbolStop      = "🛑"
	symbolHourglass = "⏳"

	dateLayout = "02-Jan-2006"
	timeLayout = "15:04:05"
)

var digitSymbols = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

type notifierEntry struct {
	notifier Notifier
	message  Message
}

// Manager builds the progress report in every notifier's own message and
// sends them at the end of the run
type Manager struct {
	mutex       sync.Mutex
	entries     []notifierEntry
	statusCount int
	logger      logging.Logger
	now         func() time.Time
}

func NewManager(notifiers []Notifier, logger logging.Logger) *Manager {
	entries := make([]notifierEntry, 0, len(notifiers))
	for _, notifier := range notifiers {
		entries = append(entries, notifierEntry{notifier: notifier, message: notifier.NewMessage()})
	}
	return &Manager{
		entries: entries,
		logger:  logger,
		now:     time.Now,
	}
}

// Start resets the report and writes the summary header
func (m *Manager) Start(startTime time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.statusCount = 0
	header := fmt.Sprintf("%s *Proxmox VMs Startup Summary*\nDate: _%s_\nTime: _%s_\n\n",
		symbolRocket, startTime.Format(dateLayout), startTime.Format(timeLayout))
	for _, entry := range m.entries {
		entry.message.Clear()
		entry.message.Append(header)
	}
}

// AppendStatus adds the next numbered machine line
func (m *Manager) AppendStatus(event machine.StatusEvent) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.statusCount++
	line := formatStatus(m.statusCount, event)
	for _, entry := range m.entries {
		entry.message.Append(line)
	}
}

// AppendError adds a failure line without discarding the report
func (m *Manager) AppendError(text string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	line := fmt.Sprintf("%s *Failed*: %s\n", symbolStop, text)
	for _, entry := range m.entries {
		entry.message.Append(line)
	}
}

// Fatal replaces the whole report with a failure summary
func (m *Manager) Fatal(text string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	summary := fmt.Sprintf("%s *Proxmox VMs Startup Failed*\nDate: _%s_\nTime: _%s_\n\n%s",
		symbolStop, now.Format(dateLayout), now.Format(timeLayout), text)
	for _, entry := range m.entries {
		entry.message.Clear()
		entry.message.Append(summary)
	}
}

// Send delivers every message through its notifier; failures of one
// notifier do not stop the others
func (m *Manager) Send(ctx context.Context) error {
	m.mutex.Lock()
	entries := append([]notifierEntry(nil), m.entries...)
	m.mutex.Unlock()

	collection := errors.NewErrorCollection()
	for _, entry := range entries {
		m.logger.Debugf("Sending notification, kind: %s", entry.notifier.Kind())
		if err := entry.notifier.Send(ctx, entry.message); err != nil {
			m.logger.Errorf("Failed to send notification, kind: %s, error: %v", entry.notifier.Kind(), err)
			collection.Add(err)
		}
	}
	return collection.ToError()
}

// Report returns the current text of the i-th notifier's message
func (m *Manager) Report(i int) string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if i < 0 || i >= len(m.entries) {
		return ""
	}
	return m.entries[i].message.String()
}

func (m *Manager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.entries)
}

func statusNumber(n int) string {
	if n >= 1 && n <= len(digitSymbols) {
		return digitSymbols[n-1]
	}
	return fmt.Sprintf("#%d", n)
}

// describeOutcome returns the glyph, status label and duration text of an outcome
func describeOutcome(event machine.StatusEvent) (string, string, string) {
	switch event.Outcome {
	case machine.OutcomeStarted:
		return symbolCheckMark, "Successfully started", formatSeconds(event.Duration)
	case machine.OutcomeTimeout:
		return symbolCross, "Timeout", formatSeconds(event.Duration)
	case machine.OutcomeAlreadyStarted:
		return symbolBlue, "No action needed", "Already running"
	case machine.OutcomeDependencyFailed:
		return symbolForbidden, "Not started", "Dependency is not running"
	case machine.OutcomeDisabled:
		return symbolWarning, "No action needed", "Disabled in settings"
	default:
		return symbolHourglass, "unknown", "unknown"
	}
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int(d/time.Second))
}

func formatStatus(n int, event machine.StatusEvent) string {
	icon, status, duration := describeOutcome(event)
	spec := event.Machine
	return fmt.Sprintf("%s *%s*:\n    - ID: %d (%s)\n    - Start time: _%s_\n    - Duration: _%s_\n    - Status: %s %s\n\n",
		statusNumber(n), spec.DisplayName(), spec.ID, spec.Type, event.StartTime.Format(timeLayout), duration, icon, status)
}
