package ndt7

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/go/warnonerror"

	"github.com/gaugelab/speedboard/probe"
)

// bulkMessageSize is the size of the load-generating messages.
const bulkMessageSize = 1 << 13

// makePreparedMessage generates a prepared message that should be sent
// over the network for generating network load. Random printable bytes are
// good enough; compression is off.
func makePreparedMessage(size int) (*websocket.PreparedMessage, error) {
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	data := make([]byte, size)
	for i := range data {
		data[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return websocket.NewPreparedMessage(websocket.BinaryMessage, data)
}

// Upload runs the ndt7 upload subtest against srv. It writes prepared bulk
// messages for the subtest duration, reporting the running mean rate
// through onProgress once per MeasurementInterval, and returns the mean
// throughput in Mbps.
func (p *Provider) Upload(ctx context.Context, srv probe.ServerInfo, onProgress func(mbps float64)) (float64, error) {
	conn, err := p.dial(ctx, srv.UploadURL)
	if err != nil {
		return 0, probe.Classify("upload", err)
	}
	defer warnonerror.Close(conn, "Could not close upload connection")

	preparedMessage, err := makePreparedMessage(bulkMessageSize)
	if err != nil {
		return 0, probe.Classify("upload", err)
	}
	t0 := time.Now()
	timer := time.NewTimer(p.duration())
	defer timer.Stop()
	ticker := time.NewTicker(MeasurementInterval)
	defer ticker.Stop()
	var total int64
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
			if total == 0 {
				return 0, &probe.Error{
					Kind: probe.NetworkFailure,
					Op:   "upload",
					Err:  errors.New("no data sent"),
				}
			}
			return rate(total, time.Since(t0)), nil
		case <-ticker.C:
			if onProgress != nil {
				onProgress(rate(total, time.Since(t0)))
			}
		default:
			// nothing
		}
		conn.SetWriteDeadline(time.Now().Add(p.timeout()))
		if err := conn.WritePreparedMessage(preparedMessage); err != nil {
			return 0, probe.Classify("upload", err)
		}
		total += bulkMessageSize
	}
}
