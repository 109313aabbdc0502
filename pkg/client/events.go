package client

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/caffeinator/caffeinator/pkg/events"
)

const reconnectDelay = 2 * time.Second

// SubscribeEvents streams daemon events until ctx is done, reconnecting
// when the connection drops. The returned channel is closed on return.
func (c *Client) SubscribeEvents(ctx context.Context) <-chan events.Event {
	ch := make(chan events.Event, 16)

	go func() {
		defer close(ch)

		for {
			if err := c.streamEvents(ctx, ch); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Debug("event stream ended")
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}()

	return ch
}

func (c *Client) streamEvents(ctx context.Context, ch chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ResponseError{StatusCode: resp.StatusCode, Body: resp.Status}
	}

	return readEvents(ctx, bufio.NewScanner(resp.Body), ch)
}

// readEvents parses a text/event-stream body. Only the event and data
// fields are used.
func readEvents(ctx context.Context, sc *bufio.Scanner, ch chan<- events.Event) error {
	var name string
	var data []string

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if name != "" || len(data) > 0 {
				ev := events.Event{Name: name, Data: []byte(strings.Join(data, "\n"))}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}
