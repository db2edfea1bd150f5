package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/park285/cheese-scoreboard/internal/scoreclient"
	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

func main() {
	baseURL := os.Getenv("SCORE_BASE_URL")
	feedURL := os.Getenv("SCORE_FEED_URL")
	secret := os.Getenv("SCORE_SECRET")
	runMS, _ := strconv.ParseInt(os.Getenv("SCORECHECK_RUN_MS"), 10, 64)

	if baseURL == "" {
		log.Fatal("SCORE_BASE_URL is required")
	}

	client := scoreclient.NewClient(baseURL, scoreclient.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := client.Health(ctx)
	if err != nil {
		log.Printf("/api/health error: %v", err)
	} else {
		log.Printf("/api/health ok: status=%s sessions=%d scores=%d", h.Status, h.Sessions, h.Scores)
	}

	rows, err := client.Leaderboard(ctx, 5)
	if err != nil {
		log.Printf("/api/leaderboard error: %v", err)
	} else {
		for _, r := range rows {
			fmt.Printf("#%d %s %dms (misses %d)\n", r.Rank, r.PlayerName, r.FinalTime, r.MissCount)
		}
	}

	// a full round trip needs a real wait of at least the minimum run time
	if secret != "" && runMS > 0 {
		sess, err := client.StartSession(context.Background())
		if err != nil {
			log.Fatalf("start-session error: %v", err)
		}
		log.Printf("session started; waiting %dms", runMS)
		time.Sleep(time.Duration(runMS) * time.Millisecond)
		res, err := client.SubmitSigned(context.Background(), []byte(secret), scoreclient.Run{
			SessionToken: sess.SessionToken,
			PlayerName:   "scorecheck",
			FinalTime:    runMS,
		})
		if err != nil {
			log.Printf("submit-score error: %v", err)
		} else {
			log.Printf("submit-score ok: rank=%d of %d", res.Rank, res.TotalPlayers)
		}
	}

	if feedURL == "" {
		log.Println("SCORE_FEED_URL not set; skipping feed check")
		return
	}

	// observe the feed for a short window
	wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer wcancel()
	err = scoreclient.WatchFeed(wctx, feedURL, func(ev scoredto.FeedEvent) bool {
		log.Printf("feed %s: %d rows", ev.Type, len(ev.Rows))
		return true
	})
	if err != nil {
		log.Printf("feed error: %v", err)
	}
}
