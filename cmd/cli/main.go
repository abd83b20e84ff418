// Package main provides the command line client.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/osa030/cuelist/internal/app/jukebox"
	"github.com/osa030/cuelist/internal/app/notification"
	"github.com/osa030/cuelist/internal/domain/track"
)

var (
	app     = kingpin.New("cuelist", "cuelist command line client")
	server  = app.Flag("server", "Server address").Default("http://localhost:8080").Envar("CUELIST_SERVER").String()
	token   = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()
	timeout = app.Flag("timeout", "Request timeout").Default("10s").Duration()

	listCmd = app.Command("list", "List the playlist").Alias("ls")

	addCmd = app.Command("add", "Add a track by ID, URL or URI")
	addRef = addCmd.Arg("track", "Spotify track ID, URL or URI").Required().String()

	removeCmd = app.Command("remove", "Remove an entry").Alias("rm")
	removeID  = removeCmd.Arg("id", "Entry ID").Required().String()

	playCmd = app.Command("play", "Play or resume an entry")
	playID  = playCmd.Arg("id", "Entry ID").Required().String()

	pauseCmd = app.Command("pause", "Pause an entry")
	pauseID  = pauseCmd.Arg("id", "Entry ID").Required().String()

	stopCmd = app.Command("stop", "Stop playback")

	upCmd = app.Command("up", "Move an entry up")
	upID  = upCmd.Arg("id", "Entry ID").Required().String()

	downCmd = app.Command("down", "Move an entry down")
	downID  = downCmd.Arg("id", "Entry ID").Required().String()

	searchCmd   = app.Command("search", "Search the catalogue and print the results")
	searchQuery = searchCmd.Arg("query", "Search words").Strings()

	subscribeCmd = app.Command("subscribe", "Print notifications as they arrive").Alias("watch")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	c := newClient(*server, *token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case listCmd.FullCommand():
		err = list(ctx, c, os.Stdout)
	case addCmd.FullCommand():
		err = withTimeout(ctx, func(ctx context.Context) error { return c.add(ctx, *addRef) })
	case removeCmd.FullCommand():
		err = withTimeout(ctx, func(ctx context.Context) error { return c.remove(ctx, *removeID) })
	case playCmd.FullCommand():
		err = withTimeout(ctx, func(ctx context.Context) error { return c.entryCommand(ctx, *playID, "play") })
	case pauseCmd.FullCommand():
		err = withTimeout(ctx, func(ctx context.Context) error { return c.entryCommand(ctx, *pauseID, "pause") })
	case stopCmd.FullCommand():
		err = withTimeout(ctx, c.stop)
	case upCmd.FullCommand():
		err = withTimeout(ctx, func(ctx context.Context) error { return c.entryCommand(ctx, *upID, "up") })
	case downCmd.FullCommand():
		err = withTimeout(ctx, func(ctx context.Context) error { return c.entryCommand(ctx, *downID, "down") })
	case searchCmd.FullCommand():
		err = search(ctx, c, strings.Join(*searchQuery, " "), os.Stdout)
	case subscribeCmd.FullCommand():
		err = c.subscribe(ctx, func(e notification.Event) { printEvent(os.Stdout, e) })
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	return fn(ctx)
}

func list(ctx context.Context, c *client, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	entries, err := c.entries(ctx)
	if err != nil {
		return err
	}
	pb, err := c.playback(ctx)
	if err != nil {
		return err
	}
	printEntries(w, entries, time.Now())
	fmt.Fprintf(w, "\nPlayback: %s", pb.State)
	if pb.EntryID != "" {
		fmt.Fprintf(w, " (%s)", pb.EntryID)
	}
	fmt.Fprintln(w)
	return nil
}

func printEntries(w io.Writer, entries []jukebox.EntryView, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Playlist is empty")
		return
	}
	var total time.Duration
	for i, e := range entries {
		marker := " "
		if e.Current {
			marker = ">"
		}
		fmt.Fprintf(w, "%s %3d. %-8s %s - %s [%s] %s, added %s\n",
			marker, i+1, e.State, e.Track.Name, e.Track.ArtistLine(), e.Track.DurationText(),
			e.ID, humanize.RelTime(e.AddedAt, now, "ago", "from now"))
		total += e.Track.Duration
	}
	fmt.Fprintf(w, "\n%s tracks, %s\n", humanize.Comma(int64(len(entries))), track.HumanDuration(total))
}

// search starts a query and waits for its results on the notification
// stream.
func search(ctx context.Context, c *client, query string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	query = strings.TrimSpace(query)
	done := make(chan error, 1)
	go func() {
		done <- c.subscribe(ctx, func(e notification.Event) {
			switch e.Type {
			case notification.TypeSearchCompleted, notification.TypeSearchFailed:
				if e.Query == query {
					cancel()
				}
			}
		})
	}()

	// Give the subscription a moment to register before the query goes out
	time.Sleep(100 * time.Millisecond)
	if err := c.search(ctx, query); err != nil {
		return err
	}
	if err := <-done; err != nil {
		return err
	}

	rctx, rcancel := context.WithTimeout(context.Background(), *timeout)
	defer rcancel()
	view, err := c.searchResults(rctx)
	if err != nil {
		return err
	}
	if len(view.Results) == 0 {
		fmt.Fprintln(w, "No results")
		return nil
	}
	for i, t := range view.Results {
		fmt.Fprintf(w, "%2d. %s - %s [%s] %s\n", i+1, t.Name, t.ArtistLine(), t.DurationText(), t.ID)
	}
	return nil
}

func printEvent(w io.Writer, e notification.Event) {
	fmt.Fprintf(w, "#%d %s %s", e.SequenceNo, e.Time.Format(time.TimeOnly), e.Type)
	if e.EntryID != "" {
		fmt.Fprintf(w, " entry=%s", e.EntryID)
	}
	switch {
	case e.Status != nil:
		fmt.Fprintf(w, " status=%s expanded=%v", e.Status.Label(), e.Status.Expanded)
	case e.State != "":
		fmt.Fprintf(w, " state=%s", e.State)
	case e.Progress != nil:
		fmt.Fprintf(w, " position=%s/%s",
			time.Duration(e.Progress.PositionMs)*time.Millisecond,
			time.Duration(e.Progress.DurationMs)*time.Millisecond)
	case e.Reorder != nil:
		fmt.Fprintf(w, " moved=%v neighbor=%s", e.Reorder.Moved, e.Reorder.Neighbor)
	case e.Entry != nil:
		fmt.Fprintf(w, " track=%q", e.Entry.Track.Name)
	case e.Type == notification.TypeSearchCompleted:
		fmt.Fprintf(w, " query=%q results=%d", e.Query, len(e.Results))
	}
	if e.Code != "" {
		fmt.Fprintf(w, " code=%s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(w, " message=%q", e.Message)
	}
	fmt.Fprintln(w)
}
