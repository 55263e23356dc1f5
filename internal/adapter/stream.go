package adapter

import (
	"context"
	"encoding/json"
	"time"

	pipelineerrors "github.com/confluence-watch/internal/errors"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/types"
	"github.com/gorilla/websocket"
)

// StreamTransferFeed is an optional low-latency transport for C8's
// high-frequency wallet-monitor path: a long-lived websocket connection
// that pushes Transfer events as they're indexed, instead of C8 polling
// FetchWalletTransfers every tick. It is additive — C8 still polls via
// the configured TransferSource; this feed, when configured, lets
// newly-seen transfers reach the confluence detector between ticks.
type StreamTransferFeed struct {
	url    string
	conn   *websocket.Conn
	events chan Transfer
}

// streamMessage is the wire shape pushed by the upstream feed.
type streamMessage struct {
	TxHash      string  `json:"tx_hash"`
	BlockNumber uint64  `json:"block_number"`
	TimestampMS int64   `json:"ts_ms"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Token       string  `json:"token"`
	Quantity    float64 `json:"quantity"`
	Venue       string  `json:"venue"`
}

// Connect dials url and starts the background read loop. Call Events()
// to consume decoded transfers; call Close to stop.
func Connect(ctx context.Context, url string, chain types.ChainID) (*StreamTransferFeed, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, pipelineerrors.NewTransientUpstream("stream.Connect", err)
	}

	f := &StreamTransferFeed{
		url:    url,
		conn:   conn,
		events: make(chan Transfer, 256),
	}
	go f.readLoop(chain)
	return f, nil
}

func (f *StreamTransferFeed) readLoop(chain types.ChainID) {
	defer close(f.events)
	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			logging.WithError(err).Warn("stream transfer feed read loop exiting")
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.WithError(err).Debug("stream transfer feed: malformed message, skipping")
			continue
		}

		tr := Transfer{
			TxHash:      msg.TxHash,
			BlockNumber: msg.BlockNumber,
			Timestamp:   time.UnixMilli(msg.TimestampMS),
			From:        types.NormalizeAddress(chain, msg.From),
			To:          types.NormalizeAddress(chain, msg.To),
			Token:       types.NormalizeAddress(chain, msg.Token),
			Quantity:    msg.Quantity,
			Venue:       msg.Venue,
		}

		select {
		case f.events <- tr:
		default:
			logging.Warn("stream transfer feed: event buffer full, dropping message")
		}
	}
}

// Events returns the channel of decoded transfers; closed when the
// connection drops.
func (f *StreamTransferFeed) Events() <-chan Transfer {
	return f.events
}

func (f *StreamTransferFeed) Close() error {
	return f.conn.Close()
}
