package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebsocketOptions parameterise the websocket tick source.
type WebsocketOptions struct {
	URL           string
	RedialBackoff time.Duration
	ReadDeadline  time.Duration
}

// Websocket streams JSON tick frames from a push feed, redialling with a
// fixed backoff whenever the connection drops.
type Websocket struct {
	opts   WebsocketOptions
	logger zerolog.Logger
}

// NewWebsocket builds a websocket source.
func NewWebsocket(opts WebsocketOptions, logger zerolog.Logger) (*Websocket, error) {
	if opts.URL == "" {
		return nil, errors.New("websocket url is required")
	}
	if opts.RedialBackoff <= 0 {
		opts.RedialBackoff = 5 * time.Second
	}
	return &Websocket{
		opts:   opts,
		logger: logger.With().Str("component", "websocket_source").Logger(),
	}, nil
}

// Run streams until ctx is cancelled. Malformed frames are skipped; handler
// errors terminate the source.
func (w *Websocket) Run(ctx context.Context, handle Handler) error {
	for {
		if err := w.stream(ctx, handle); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var fatal *handlerError
			if errors.As(err, &fatal) {
				return fatal.err
			}
			w.logger.Warn().Err(err).Dur("backoff", w.opts.RedialBackoff).Msg("stream dropped; redialling")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.opts.RedialBackoff):
		}
	}
}

type handlerError struct{ err error }

func (h *handlerError) Error() string { return h.err.Error() }

func (w *Websocket) stream(ctx context.Context, handle Handler) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.opts.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	w.logger.Info().Str("url", w.opts.URL).Msg("websocket connected")

	// Unblocks ReadMessage when ctx is cancelled.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		if w.opts.ReadDeadline > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(w.opts.ReadDeadline))
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		obs, err := DecodeTick(payload)
		if err != nil {
			w.logger.Warn().Err(err).Msg("malformed frame skipped")
			continue
		}

		if err := handle(ctx, obs); err != nil {
			return &handlerError{err: err}
		}
	}
}

var _ Source = (*Websocket)(nil)
