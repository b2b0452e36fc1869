package turn

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/luna/internal/conversation"
)

// DefaultResponses is the built-in reply table.
var DefaultResponses = []string{
	"Hi there! I'm Luna. That's really interesting - tell me more!",
	"Great question! Let me think about that for a moment...",
	"I see what you mean. That's a fascinating perspective, isn't it?",
	"Thanks for sharing that with me. How can I help you further today?",
	"Absolutely! Luna is here to assist you with anything you need.",
	"That's a wonderful point. I appreciate you bringing that up!",
	"I'm listening. Please continue...",
	"Interesting! What else would you like to discuss with me?",
}

// Default simulated thinking time range.
const (
	DefaultMinDelay = time.Second
	DefaultMaxDelay = 2 * time.Second
)

// CannedOption configures a [Canned] responder.
type CannedOption func(*Canned)

// WithResponses replaces the reply table. An empty table keeps the default.
func WithResponses(r []string) CannedOption {
	return func(c *Canned) {
		if len(r) > 0 {
			c.responses = append([]string(nil), r...)
		}
	}
}

// WithDelay sets the simulated latency range [min, max].
func WithDelay(min, max time.Duration) CannedOption {
	return func(c *Canned) {
		c.minDelay, c.maxDelay = min, max
	}
}

// WithSeed makes the reply and delay choices deterministic.
func WithSeed(seed uint64) CannedOption {
	return func(c *Canned) {
		c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// Canned answers with a random entry of a fixed table after a random delay.
// It ignores the input and history.
type Canned struct {
	responses []string
	minDelay  time.Duration
	maxDelay  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

var _ Responder = (*Canned)(nil)

// NewCanned returns a Canned responder using [DefaultResponses].
func NewCanned(opts ...CannedOption) *Canned {
	c := &Canned{
		responses: DefaultResponses,
		minDelay:  DefaultMinDelay,
		maxDelay:  DefaultMaxDelay,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(c)
	}
	if c.maxDelay < c.minDelay {
		c.maxDelay = c.minDelay
	}
	return c
}

// Respond implements [Responder].
func (c *Canned) Respond(ctx context.Context, _ string, _ []conversation.Message) (string, error) {
	c.mu.Lock()
	delay := c.minDelay
	if span := c.maxDelay - c.minDelay; span > 0 {
		delay += time.Duration(c.rng.Int64N(int64(span) + 1))
	}
	reply := c.responses[c.rng.IntN(len(c.responses))]
	c.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, nil
}
