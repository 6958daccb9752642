// Package feedsim publishes recorded events onto the feed for local runs.
package feedsim

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, name, txHash string, args map[string]any) error
}

// Line is one record of a JSON-lines event file.
type Line struct {
	Name   string         `json:"name"`
	TxHash string         `json:"txHash"`
	Args   map[string]any `json:"args"`
}

type Options struct {
	Delay  time.Duration // pause between events
	Logger *slog.Logger
}

// Replay publishes every line of r in order and returns how many events were
// sent. Blank lines and lines starting with # are ignored.
func Replay(ctx context.Context, r io.Reader, pub Publisher, opts Options) (int, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	sent := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		var line Line
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&line); err != nil {
			return sent, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if strings.TrimSpace(line.Name) == "" {
			return sent, fmt.Errorf("line %d: event name is required", lineNo)
		}
		if line.Args == nil {
			line.Args = map[string]any{}
		}

		if sent > 0 && opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
		if err := pub.Publish(ctx, line.Name, line.TxHash, line.Args); err != nil {
			return sent, fmt.Errorf("publish line %d (%s): %w", lineNo, line.Name, err)
		}
		sent++
		logger.Debug("event published", "event", line.Name, "tx_hash", line.TxHash, "line", lineNo)
	}
	if err := scanner.Err(); err != nil {
		return sent, fmt.Errorf("read events: %w", err)
	}
	return sent, nil
}
