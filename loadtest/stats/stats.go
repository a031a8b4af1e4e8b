// Package stats aggregates measurements from many load test clients and
// prints a summary report with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates client measurements. All methods are goroutine-safe.
type Collector struct {
	mu                sync.Mutex
	connectLatencies  []time.Duration
	deliveryLatencies []time.Duration
	receiptLatencies  []time.Duration
	connections       int
	sent              int
	delivered         int
	rateLimited       int
	errors            int
	startTime         time.Time
	scraper           *Scraper
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetScraper attaches a server metrics scraper whose report is appended to
// Report.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddConnect records an admitted connection.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddSent records a sendMessage written to the wire.
func (c *Collector) AddSent() {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
}

// AddDelivery records a message received by its addressee d after it was
// sent.
func (c *Collector) AddDelivery(d time.Duration) {
	c.mu.Lock()
	c.deliveryLatencies = append(c.deliveryLatencies, d)
	c.delivered++
	c.mu.Unlock()
}

// AddReceipt records a messagesRead notification d after markAsRead.
func (c *Collector) AddReceipt(d time.Duration) {
	c.mu.Lock()
	c.receiptLatencies = append(c.receiptLatencies, d)
	c.mu.Unlock()
}

// AddRateLimited records a rateLimited rejection.
func (c *Collector) AddRateLimited() {
	c.mu.Lock()
	c.rateLimited++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the number of admitted connections so far.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the number of errors so far.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// DeliveredCount returns the number of messages delivered so far.
func (c *Collector) DeliveredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

// Report prints a summary of everything collected.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:      %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Printf("Connections:   %d\n", c.connections)
	fmt.Printf("Sent:          %d\n", c.sent)
	fmt.Printf("Delivered:     %d\n", c.delivered)
	fmt.Printf("Rate limited:  %d\n", c.rateLimited)
	fmt.Printf("Errors:        %d\n", c.errors)
	if c.sent > 0 {
		fmt.Printf("Delivery rate: %.2f%%\n", float64(c.delivered)/float64(c.sent)*100)
	}

	if len(c.connectLatencies) > 0 {
		fmt.Println("\n--- Connect Latency ---")
		fmt.Println(Summarize(c.connectLatencies))
	}
	if len(c.deliveryLatencies) > 0 {
		fmt.Println("\n--- Delivery Latency ---")
		fmt.Println(Summarize(c.deliveryLatencies))
	}
	if len(c.receiptLatencies) > 0 {
		fmt.Println("\n--- Read Receipt Latency ---")
		fmt.Println(Summarize(c.receiptLatencies))
	}

	if c.scraper != nil {
		c.scraper.Report()
	}
	fmt.Println()
}

// Summarize formats avg, p50, p95, p99 and max of durations. It sorts
// durations in place.
func Summarize(durations []time.Duration) string {
	n := len(durations)
	if n == 0 {
		return "  (no samples)"
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return fmt.Sprintf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		(sum / time.Duration(n)).Round(time.Microsecond),
		percentile(durations, 0.50).Round(time.Microsecond),
		percentile(durations, 0.95).Round(time.Microsecond),
		percentile(durations, 0.99).Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}

// percentile returns the nearest-rank percentile of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	i := int(math.Ceil(float64(len(sorted))*p)) - 1
	if i < 0 {
		i = 0
	}
	return sorted[i]
}
