// Package notify carries user-facing success/failure notices from the
// session layer to whatever surface renders them. Delivery is
// fire-and-forget: senders never block on, or learn about, the outcome.
package notify

import (
	"log/slog"
	"sync"
)

// Variant selects how a notice is rendered.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notice is one user-facing notification.
type Notice struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(n Notice)
}

// Func adapts a function to the Notifier interface.
type Func func(n Notice)

func (f Func) Notify(n Notice) { f(n) }

// SlogNotifier writes notices to a structured logger.
type SlogNotifier struct {
	Logger *slog.Logger
}

func (s *SlogNotifier) Notify(n Notice) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if n.Variant == VariantDestructive {
		logger.Warn("notice", "title", n.Title, "description", n.Description)
		return
	}
	logger.Info("notice", "title", n.Title, "description", n.Description)
}

// defaultFeedCapacity bounds how many undelivered notices a feed retains.
const defaultFeedCapacity = 32

// Feed buffers notices so a polling client can drain them in order. When
// the buffer is full the oldest notice is dropped.
type Feed struct {
	mu       sync.Mutex
	notices  []Notice
	capacity int
}

// NewFeed creates a Feed with the default capacity.
func NewFeed() *Feed {
	return &Feed{capacity: defaultFeedCapacity}
}

// Notify implements Notifier.
func (f *Feed) Notify(n Notice) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.notices) >= f.capacity {
		f.notices = f.notices[1:]
	}
	f.notices = append(f.notices, n)
}

// Drain returns all buffered notices and empties the feed.
func (f *Feed) Drain() []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.notices
	f.notices = nil
	return out
}

// Tee fans a notice out to several notifiers.
func Tee(notifiers ...Notifier) Notifier {
	return Func(func(n Notice) {
		for _, t := range notifiers {
			if t != nil {
				t.Notify(n)
			}
		}
	})
}
