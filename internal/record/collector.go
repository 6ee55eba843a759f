package record

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// NoPassword is rendered for records whose password search space was
// exhausted without a match.
const NoPassword = "<none>"

// Summary is the final outcome of one record.
type Summary struct {
	Name            string   `json:"name"`
	ReducedAlphabet string   `json:"reduced_alphabet"`
	Password        string   `json:"password,omitempty"`
	Hints           []string `json:"hints"`
	ID              int      `json:"id"`
	Found           bool     `json:"found"`
}

// String renders the summary the way Flush prints it.
func (s Summary) String() string {
	password := s.Password
	if !s.Found {
		password = NoPassword
	}
	return fmt.Sprintf("Password of %s: %s", s.Name, password)
}

// Collector is the result sink. Submitted summaries are kept in memory until
// Flush renders them.
type Collector struct {
	out       io.Writer
	summaries []Summary
	mu        sync.Mutex
}

// NewCollector renders results to out.
func NewCollector(out io.Writer) *Collector {
	return &Collector{out: out}
}

// Submit records one final summary.
func (c *Collector) Submit(s Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, s)
}

// Summaries returns a copy of everything submitted so far, ordered by id.
func (c *Collector) Summaries() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := slices.Clone(c.summaries)
	slices.SortFunc(out, func(a, b Summary) int { return a.ID - b.ID })
	return out
}

// Flush writes every submitted summary, ordered by record id.
func (c *Collector) Flush() error {
	for _, s := range c.Summaries() {
		line := s.String()
		if len(s.Hints) > 0 {
			line += fmt.Sprintf(" (hints: %s)", strings.Join(s.Hints, ", "))
		}
		if _, err := fmt.Fprintln(c.out, line); err != nil {
			return fmt.Errorf("flush results: %w", err)
		}
	}
	return nil
}
