// Package notify provides notification delivery for status transitions.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"thesis-tracker/internal/models"
)

// StatusNotification represents one thesis status transition.
type StatusNotification struct {
	Symbol       string
	OldStatus    models.Status
	NewStatus    models.Status
	CurrentPrice *float64
	Message      string
	Timestamp    time.Time
	Priority     int // Higher = more important
}

// NotificationHandler is a function that handles status notifications.
type NotificationHandler func(n StatusNotification)

// TerminalNotifier handles real-time terminal notifications for status
// transitions.
type TerminalNotifier struct {
	notifications chan StatusNotification
	handlers      []NotificationHandler
	mu            sync.RWMutex
	enabled       bool
	bellEnabled   bool
	colorEnabled  bool
	last          map[string]models.Status
}

// NewTerminalNotifier creates a new TerminalNotifier.
func NewTerminalNotifier(bufferSize int) *TerminalNotifier {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &TerminalNotifier{
		notifications: make(chan StatusNotification, bufferSize),
		handlers:      make([]NotificationHandler, 0),
		enabled:       true,
		bellEnabled:   true,
		colorEnabled:  true,
		last:          make(map[string]models.Status),
	}
}

// SetBellEnabled enables or disables the terminal bell.
func (tn *TerminalNotifier) SetBellEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bellEnabled = enabled
}

// SetColorEnabled enables or disables colored output.
func (tn *TerminalNotifier) SetColorEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.colorEnabled = enabled
}

// SetEnabled enables or disables the notifier.
func (tn *TerminalNotifier) SetEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.enabled = enabled
}

// AddHandler adds a notification handler.
func (tn *TerminalNotifier) AddHandler(handler NotificationHandler) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.handlers = append(tn.handlers, handler)
}

// Observe inspects an evaluated thesis and emits a notification when its
// status changed since the last observation. First observations seed the
// baseline without notifying.
func (tn *TerminalNotifier) Observe(t models.Thesis, price *float64) {
	tn.mu.Lock()
	old, seen := tn.last[t.Symbol]
	tn.last[t.Symbol] = t.Status
	tn.mu.Unlock()

	if !seen || old == t.Status {
		return
	}

	tn.Notify(StatusNotification{
		Symbol:       t.Symbol,
		OldStatus:    old,
		NewStatus:    t.Status,
		CurrentPrice: price,
		Message:      fmt.Sprintf("%s moved from %s to %s", t.Symbol, old, t.Status),
		Priority:     priorityFor(t.Status),
	})
}

func priorityFor(s models.Status) int {
	switch s {
	case models.StatusBreached:
		return 3
	case models.StatusAchieved:
		return 2
	case models.StatusNeedsReview:
		return 1
	}
	return 0
}

// Notify sends a notification to the terminal.
func (tn *TerminalNotifier) Notify(n StatusNotification) {
	tn.mu.RLock()
	enabled := tn.enabled
	tn.mu.RUnlock()

	if !enabled {
		return
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	select {
	case tn.notifications <- n:
	default:
		// Buffer full, drop oldest notification
		select {
		case <-tn.notifications:
		default:
		}
		tn.notifications <- n
	}
}

// Start starts processing notifications.
func (tn *TerminalNotifier) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-tn.notifications:
				tn.processNotification(n)
			}
		}
	}()
}

// processNotification processes a single notification.
func (tn *TerminalNotifier) processNotification(n StatusNotification) {
	tn.mu.RLock()
	handlers := tn.handlers
	bellEnabled := tn.bellEnabled
	tn.mu.RUnlock()

	if bellEnabled && n.Priority >= 2 {
		fmt.Print("\a")
	}

	for _, handler := range handlers {
		handler(n)
	}
}
