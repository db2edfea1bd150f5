package scoreclient

import (
	"context"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

// FeedCallback receives every leaderboard event. Returning false stops the watch.
type FeedCallback func(ev scoredto.FeedEvent) bool

// WatchFeed connects to the live feed at wsURL and delivers events until ctx is done,
// the callback returns false, or the connection drops.
func WatchFeed(ctx context.Context, wsURL string, fn FeedCallback) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	for {
		var ev scoredto.FeedEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !fn(ev) {
			_ = conn.Close(websocket.StatusNormalClosure, "done")
			return nil
		}
	}
}
