// Package ndt7 implements the measurement provider over the ndt7 protocol:
// server discovery through a Locate-style HTTP API and ping, download and
// upload subtests over WebSocket.
package ndt7

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/go/warnonerror"

	"github.com/gaugelab/speedboard/logging"
	"github.com/gaugelab/speedboard/probe"
)

// DownloadURLPath selects the download subtest.
const DownloadURLPath = "/ndt/v7/download"

// UploadURLPath selects the upload subtest.
const UploadURLPath = "/ndt/v7/upload"

// SecWebSocketProtocol is the WebSocket subprotocol used by ndt7.
const SecWebSocketProtocol = "net.measurementlab.ndt.v7"

// MinMaxMessageSize is the minimum value of the maximum message size
// that an implementation MAY want to configure. Messages smaller than this
// threshold MUST always be accepted by an implementation.
const MinMaxMessageSize = 1 << 17

// MeasurementInterval is the interval between two consecutive progress
// reports emitted during a throughput subtest.
const MeasurementInterval = 250 * time.Millisecond

// DefaultLocateURL is the public discovery endpoint used when no other is
// configured.
const DefaultLocateURL = "https://locate.measurementlab.net/v2/nearest/ndt/ndt7"

// defaultTimeout is the default I/O timeout.
const defaultTimeout = 7 * time.Second

// defaultDuration is the default duration of a throughput subtest.
const defaultDuration = 10 * time.Second

// Provider measures against ndt7 servers.
type Provider struct {
	// LocateURL is the discovery endpoint. Empty means DefaultLocateURL.
	// Ignored when ServerURL is set.
	LocateURL string

	// ServerURL pins a specific server (a ws:// or wss:// base URL) and
	// bypasses discovery entirely.
	ServerURL string

	// Dialer is the WebSocket dialer. The zero value works.
	Dialer websocket.Dialer

	// Client is the HTTP client used for discovery. Nil means
	// http.DefaultClient.
	Client *http.Client

	// Duration bounds each throughput subtest. Zero means ten seconds.
	Duration time.Duration

	// Timeout bounds individual I/O operations. Zero means seven seconds.
	Timeout time.Duration
}

// locateResult mirrors the Locate API v2 response shape. Only the fields
// the provider reads are declared.
type locateResult struct {
	Results []struct {
		Machine  string `json:"machine"`
		Location struct {
			City    string `json:"city"`
			Country string `json:"country"`
		} `json:"location"`
		URLs map[string]string `json:"urls"`
	} `json:"results"`
}

// SelectServer discovers the nearest ndt7 server. The first result with
// usable subtest URLs wins; the Locate API orders results by proximity.
func (p *Provider) SelectServer(ctx context.Context) (probe.ServerInfo, error) {
	if p.ServerURL != "" {
		return p.pinnedServer()
	}
	locate := p.LocateURL
	if locate == "" {
		locate = DefaultLocateURL
	}
	logging.Logger.WithField("url", locate).Debug("ndt7: discovering servers")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locate, nil)
	if err != nil {
		return probe.ServerInfo{}, probe.Classify("select", err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return probe.ServerInfo{}, probe.Classify("select", err)
	}
	defer warnonerror.Close(resp.Body, "Could not close discovery response body")
	if resp.StatusCode != http.StatusOK {
		return probe.ServerInfo{}, &probe.Error{
			Kind: probe.NoServer,
			Op:   "select",
			Err:  fmt.Errorf("locate returned status %d", resp.StatusCode),
		}
	}
	var reply locateResult
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return probe.ServerInfo{}, probe.Classify("select", err)
	}
	for _, r := range reply.Results {
		down := r.URLs["wss://"+DownloadURLPath]
		up := r.URLs["wss://"+UploadURLPath]
		if down == "" || up == "" {
			down = r.URLs["ws://"+DownloadURLPath]
			up = r.URLs["ws://"+UploadURLPath]
		}
		if down == "" || up == "" {
			continue
		}
		label := r.Machine
		if r.Location.City != "" {
			label = fmt.Sprintf("%s (%s, %s)", r.Machine, r.Location.City, r.Location.Country)
		}
		return probe.ServerInfo{
			ID:          r.Machine,
			Label:       label,
			Host:        hostOf(down),
			DownloadURL: down,
			UploadURL:   up,
		}, nil
	}
	return probe.ServerInfo{}, &probe.Error{
		Kind: probe.NoServer,
		Op:   "select",
		Err:  errors.New("no usable servers in discovery reply"),
	}
}

// pinnedServer builds the subtest URLs for an explicitly configured server.
func (p *Provider) pinnedServer() (probe.ServerInfo, error) {
	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return probe.ServerInfo{}, &probe.Error{Kind: probe.NoServer, Op: "select", Err: err}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return probe.ServerInfo{}, &probe.Error{
			Kind: probe.NoServer,
			Op:   "select",
			Err:  fmt.Errorf("server URL scheme must be ws or wss, got %q", u.Scheme),
		}
	}
	down := *u
	down.Path = DownloadURLPath
	up := *u
	up.Path = UploadURLPath
	return probe.ServerInfo{
		ID:          u.Host,
		Label:       u.Host,
		Host:        u.Host,
		DownloadURL: down.String(),
		UploadURL:   up.String(),
	}, nil
}

func hostOf(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	return u.Host
}

// dial opens a WebSocket connection speaking the ndt7 subprotocol.
func (p *Provider) dial(ctx context.Context, rawurl string) (*websocket.Conn, error) {
	logging.Logger.WithField("url", rawurl).Debug("ndt7: dialing")
	headers := http.Header{}
	headers.Add("Sec-WebSocket-Protocol", SecWebSocketProtocol)
	dialer := p.Dialer
	dialer.HandshakeTimeout = p.timeout()
	conn, _, err := dialer.DialContext(ctx, rawurl, headers)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(MinMaxMessageSize)
	return conn, nil
}

func (p *Provider) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return defaultTimeout
}

func (p *Provider) duration() time.Duration {
	if p.Duration > 0 {
		return p.Duration
	}
	return defaultDuration
}

// rate converts a byte count and elapsed time to Mbps.
func rate(total int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return 8.0 * float64(total) / 1000.0 / 1000.0 / elapsed.Seconds()
}

// measurement is the ndt7 counterflow message. Only the fields the provider
// reads are declared.
type measurement struct {
	Elapsed float64  `json:"elapsed,omitempty"`
	AppInfo *appInfo `json:"app_info,omitempty"`
}

// appInfo carries the sender's application-level byte counter.
type appInfo struct {
	NumBytes    int64 `json:"num_bytes"`
	ElapsedTime int64 `json:"elapsed_time,omitempty"`
}
