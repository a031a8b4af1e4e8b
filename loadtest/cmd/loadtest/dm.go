package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/whisper/dm-gateway/loadtest/client"
	"github.com/whisper/dm-gateway/loadtest/stats"
)

// pair is two sessions messaging each other. readAt holds when each side
// last sent markAsRead, in unix nanoseconds.
type pair struct {
	a, b   *client.Client
	readAt [2]atomic.Int64
}

// runDM connects user pairs, has both sides send at a fixed interval, marks
// incoming messages read every few deliveries, and reports delivery and
// receipt latency.
func runDM(args []string) {
	fs := pflag.NewFlagSet("dm", pflag.ExitOnError)
	tgt := targetFlags(fs)
	pairs := fs.Int("pairs", 100, "number of user pairs")
	duration := fs.Duration("duration", 30*time.Second, "how long the pairs exchange messages")
	msgInterval := fs.Duration("msg-interval", time.Second, "interval between messages per user")
	msgSize := fs.Int("msg-size", 128, "message size in bytes")
	readEvery := fs.Int("read-every", 5, "send markAsRead after this many deliveries")
	concurrency := fs.Int("concurrency", 50, "maximum simultaneous connection attempts")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "gateway Prometheus endpoint")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "interval between metrics scrapes")
	_ = fs.Parse(args)

	fmt.Printf("DM test: %d pairs to %s (duration=%s, interval=%s, size=%d)\n",
		*pairs, *tgt.url, *duration, *msgInterval, *msgSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)
	defer scraper.Stop()

	fmt.Println("\n--- Phase 1: connect pairs ---")
	ready := make([]*pair, 0, *pairs)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, *concurrency)
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			a, err := tgt.connect(connCtx, collector)
			if err != nil {
				return
			}
			b, err := tgt.connect(connCtx, collector)
			if err != nil {
				_ = a.Close()
				return
			}
			mu.Lock()
			ready = append(ready, &pair{a: a, b: b})
			mu.Unlock()
		}()
	}
	wg.Wait()
	fmt.Printf("Connected %d/%d pairs (%d errors)\n", len(ready), *pairs, collector.ErrorCount())

	fmt.Println("\n--- Phase 2: exchange messages ---")
	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	padding := strings.Repeat("x", max(*msgSize-20, 0))
	for _, p := range ready {
		p.wire(0, p.a, p.b, collector, *readEvery)
		p.wire(1, p.b, p.a, collector, *readEvery)
	}
	for _, p := range ready {
		for _, pc := range [][2]*client.Client{{p.a, p.b}, {p.b, p.a}} {
			wg.Add(1)
			go func(from, to *client.Client) {
				defer wg.Done()
				sendLoop(runCtx, from, to.UserID(), padding, *msgInterval, collector)
			}(pc[0], pc[1])
		}
	}

	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()
wait:
	for {
		select {
		case <-runCtx.Done():
			break wait
		case <-progress.C:
			fmt.Printf("  [dm] delivered: %d  errors: %d\n", collector.DeliveredCount(), collector.ErrorCount())
		}
	}
	wg.Wait()

	// Let in-flight deliveries land.
	time.Sleep(time.Second)

	fmt.Println("\n--- Cleanup ---")
	for _, p := range ready {
		_ = p.a.Close()
		_ = p.b.Close()
	}
	collector.Report()
}

// wire installs the handlers of self, the side with index idx, whose
// counterpart is peer.
func (p *pair) wire(idx int, self, peer *client.Client, collector *stats.Collector, readEvery int) {
	var received atomic.Int64
	self.On(client.TypeReceiveMessage, func(raw json.RawMessage) {
		var ev struct {
			Message client.Message `json:"message"`
		}
		if json.Unmarshal(raw, &ev) != nil || ev.Message.ReceiverID != self.UserID() {
			return
		}
		sentAt, err := strconv.ParseInt(strings.SplitN(ev.Message.Content, "|", 2)[0], 10, 64)
		if err == nil {
			collector.AddDelivery(time.Since(time.Unix(0, sentAt)))
		}
		if received.Add(1)%int64(readEvery) == 0 {
			p.readAt[idx].Store(time.Now().UnixNano())
			if self.MarkAsRead(peer.UserID()) != nil {
				collector.AddError()
			}
		}
	})
	self.On(client.TypeMessagesRead, func(json.RawMessage) {
		if at := p.readAt[1-idx].Load(); at != 0 {
			collector.AddReceipt(time.Since(time.Unix(0, at)))
		}
	})
	self.On(client.TypeRateLimited, func(json.RawMessage) { collector.AddRateLimited() })
	self.On(client.TypeError, func(json.RawMessage) { collector.AddError() })
}

func sendLoop(ctx context.Context, from *client.Client, to, padding string, interval time.Duration, collector *stats.Collector) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-from.Done():
			return
		case <-ticker.C:
		}
		content := fmt.Sprintf("%d|%s", time.Now().UnixNano(), padding)
		if err := from.SendMessage(to, content); err != nil {
			collector.AddError()
			return
		}
		collector.AddSent()
	}
}
