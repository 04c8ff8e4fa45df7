package ndt7

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/go/warnonerror"

	"github.com/gaugelab/speedboard/probe"
)

// Download runs the ndt7 download subtest against srv. It counts every
// byte the server sends and reports the running mean rate through
// onProgress once per MeasurementInterval. The return value is the mean
// throughput in Mbps over the whole subtest.
func (p *Provider) Download(ctx context.Context, srv probe.ServerInfo, onProgress func(mbps float64)) (float64, error) {
	conn, err := p.dial(ctx, srv.DownloadURL)
	if err != nil {
		return 0, probe.Classify("download", err)
	}
	defer warnonerror.Close(conn, "Could not close download connection")

	t0 := time.Now()
	deadline := t0.Add(p.duration())
	var total int64
	ticker := time.NewTicker(MeasurementInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		select {
		case <-ticker.C:
			if onProgress != nil {
				onProgress(rate(total, time.Since(t0)))
			}
		default:
			// Just fallthrough
		}
		conn.SetReadDeadline(time.Now().Add(p.timeout()))
		mtype, mdata, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return 0, probe.Classify("download", err)
		}
		total += int64(len(mdata))
		if mtype == websocket.TextMessage {
			// Counterflow measurement from the server. Verify that it is
			// well-formed JSON but take no values from it; the client does
			// its own accounting.
			var m measurement
			if err := json.Unmarshal(mdata, &m); err != nil {
				return 0, probe.Classify("download", err)
			}
		}
	}
	elapsed := time.Since(t0)
	if total == 0 {
		return 0, &probe.Error{
			Kind: probe.NetworkFailure,
			Op:   "download",
			Err:  errors.New("no data received"),
		}
	}
	return rate(total, elapsed), nil
}
