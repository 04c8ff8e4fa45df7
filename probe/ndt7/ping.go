package ndt7

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/go/warnonerror"

	"github.com/gaugelab/speedboard/probe"
)

// pingProbeCount is how many round trips we try to observe before settling
// on a figure.
const pingProbeCount = 5

// Poisson pacing for ping probes, so probes do not synchronize with any
// periodic behavior on the path.
const (
	minPingInterval      = 50 * time.Millisecond
	expectedPingInterval = 100 * time.Millisecond
	maxPingInterval      = 250 * time.Millisecond
)

// sendTicks sends the elapsed run time in nanoseconds as a ping message.
func sendTicks(conn *websocket.Conn, start time.Time, deadline time.Time) error {
	data, err := json.Marshal(time.Since(start).Nanoseconds())
	if err == nil {
		err = conn.WriteControl(websocket.PingMessage, data, deadline)
	}
	return err
}

// parseTicks recovers the round-trip time from a pong payload produced by
// sendTicks.
func parseTicks(s string, start time.Time) (time.Duration, error) {
	elapsed := time.Since(start).Nanoseconds()
	var prev int64
	if err := json.Unmarshal([]byte(s), &prev); err != nil {
		return 0, err
	}
	if prev > elapsed {
		return 0, errors.New("pong claims a send time in the future")
	}
	return time.Duration(elapsed - prev), nil
}

// Ping measures the WebSocket-level round-trip time to srv. It connects to
// the download endpoint, sends a short burst of pings paced by a memoryless
// ticker, and returns the minimum RTT observed. The inbound download frames
// are read and discarded; reading is what lets the pong handler run.
func (p *Provider) Ping(ctx context.Context, srv probe.ServerInfo) (time.Duration, error) {
	conn, err := p.dial(ctx, srv.DownloadURL)
	if err != nil {
		return 0, probe.Classify("ping", err)
	}
	defer warnonerror.Close(conn, "Could not close ping connection")

	pingctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	best := time.Duration(-1)
	count := 0
	// The pong handler runs on this goroutine, inside ReadMessage, so best
	// and count need no locking.
	conn.SetPongHandler(func(appData string) error {
		rtt, err := parseTicks(appData, start)
		if err != nil {
			return nil
		}
		count++
		if best < 0 || rtt < best {
			best = rtt
		}
		return nil
	})

	go func() {
		// Implementation note: the ticker closes its output channel after
		// pingctx expires, which ends this goroutine.
		ticker, err := memoryless.NewTicker(pingctx, memoryless.Config{
			Min:      minPingInterval,
			Expected: expectedPingInterval,
			Max:      maxPingInterval,
		})
		if err != nil {
			return
		}
		defer ticker.Stop()
		if err := sendTicks(conn, start, time.Now().Add(p.timeout())); err != nil {
			return
		}
		for range ticker.C {
			if err := sendTicks(conn, start, time.Now().Add(p.timeout())); err != nil {
				return
			}
		}
	}()

	deadline := time.Now().Add(p.timeout())
	for count < pingProbeCount && time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		conn.SetReadDeadline(time.Now().Add(p.timeout()))
		if _, _, err := conn.ReadMessage(); err != nil {
			if best >= 0 {
				break
			}
			return 0, probe.Classify("ping", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if best < 0 {
		return 0, &probe.Error{Kind: probe.Timeout, Op: "ping", Err: errors.New("no pong received")}
	}
	return best, nil
}
