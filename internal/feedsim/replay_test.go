package feedsim

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdao/lm-indexer/internal/infrastructure/memory"
)

type recordingPublisher struct {
	names []string
	args  []map[string]any
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, name, _ string, args map[string]any) error {
	if p.err != nil {
		return p.err
	}
	p.names = append(p.names, name)
	p.args = append(p.args, args)
	return nil
}

const events = `
# local demo
{"name":"LaborMarketConfigured","txHash":"0x01","args":{"marketAddress":"0xaa","submitRepMin":1}}

{"name":"RequestCreated","txHash":"0x02","args":{"marketAddress":"0xaa","requestId":"1"}}
{"name":"RequestFulfilled","txHash":"0x03"}
`

func TestReplayPublishesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	n, err := Replay(context.Background(), strings.NewReader(events), pub, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"LaborMarketConfigured", "RequestCreated", "RequestFulfilled"}, pub.names)
	assert.Equal(t, json.Number("1"), pub.args[0]["submitRepMin"])
	assert.NotNil(t, pub.args[2])
}

func TestReplayReportsBadLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		sent  int
		want  string
	}{
		{name: "malformed json", input: "{\"name\":\"A\"}\n{oops}\n", sent: 1, want: "line 2"},
		{name: "missing name", input: "{\"txHash\":\"0x01\"}\n", sent: 0, want: "event name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Replay(context.Background(), strings.NewReader(tt.input), &recordingPublisher{}, Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, tt.sent, n)
		})
	}
}

func TestReplayStopsOnPublishError(t *testing.T) {
	boom := errors.New("broker down")
	_, err := Replay(context.Background(), strings.NewReader(events), &recordingPublisher{err: boom}, Options{})
	assert.ErrorIs(t, err, boom)
}

func TestReplayHonoursContextBetweenEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := &recordingPublisher{}
	n, err := Replay(ctx, strings.NewReader(events), pub, Options{Delay: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
}

func TestReplayIntoMemoryFeed(t *testing.T) {
	f := memory.NewFeed()
	n, err := Replay(context.Background(), strings.NewReader(events), FeedPublisher{Feed: f}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, f.Len())
}

func TestDryRunIndexesEvents(t *testing.T) {
	input := strings.Join([]string{
		`{"name":"LaborMarketConfigured","txHash":"0x01","args":{"marketAddress":"0x00000000000000000000000000000000000000aa","title":"Wallets"}}`,
		`{"name":"RequestCreated","txHash":"0x02","args":{"laborMarketAddress":"0x00000000000000000000000000000000000000aa","requestId":"1","title":"Whales"}}`,
		`{"name":"Transfer","txHash":"0x03","args":{}}`,
	}, "\n")

	stats, err := DryRun(context.Background(), strings.NewReader(input), Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.LaborMarkets)
	assert.Equal(t, int64(1), stats.ServiceRequests)
}
