package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seismicdash/event"
	"seismicdash/feed"

	"github.com/dustin/go-humanize"
)

// quakeprobe connects to the seismic feed once and prints what arrives, so a
// feed URL or broker can be checked without starting the dashboard.
func main() {
	var (
		url     = flag.String("url", feed.DefaultFeedURL, "websocket feed URL")
		broker  = flag.String("mqtt-broker", "", "MQTT broker (tcp://host:1883); overrides -url when set")
		topic   = flag.String("topic", "seismic/events", "MQTT topic carrying feed frames")
		count   = flag.Int("count", 5, "exit after this many accepted events (0 = no limit)")
		timeout = flag.Duration("timeout", 10*time.Minute, "give up after this long")
		raw     = flag.Bool("raw", false, "print raw frames instead of normalized events")
	)
	flag.Parse()

	var transport feed.Transport
	source := *url
	if *broker != "" {
		transport = feed.NewMQTTTransport(*broker, *topic)
		source = *broker + " " + *topic
	} else {
		transport = feed.NewWebSocketTransport(*url)
	}
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	start := time.Now()
	var accepted, ignored, rejected int
	cb := feed.Callbacks{
		OnOpen: func() {
			fmt.Fprintf(os.Stdout, "connected to %s\n", source)
		},
		OnMessage: func(frame []byte) {
			if *raw {
				fmt.Fprintf(os.Stdout, "%s\n", frame)
			}
			ev, err := event.Normalize(frame)
			switch {
			case event.IsIgnored(err):
				ignored++
				return
			case err != nil:
				rejected++
				fmt.Fprintf(os.Stderr, "rejected frame: %v\n", err)
				return
			}
			accepted++
			if !*raw {
				fmt.Fprintf(os.Stdout, "%s  M%-4.1f %-3s depth %6.1f km  %-32s %s (%s)\n",
					ev.Time.UTC().Format("2006-01-02 15:04:05"), ev.Mag, ev.MagType, ev.Depth,
					ev.Region, ev.Auth, humanize.Time(ev.Time))
			}
			if *count > 0 && accepted >= *count {
				cancel()
			}
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "feed error: %v\n", err)
		},
		OnClose: func(err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "connection closed: %v\n", err)
			}
		},
	}

	err := transport.Run(ctx, cb)
	fmt.Fprintf(os.Stdout, "%d accepted, %d ignored, %d rejected in %s\n",
		accepted, ignored, rejected, time.Since(start).Round(time.Second))
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintf(os.Stderr, "quakeprobe: %v\n", err)
		os.Exit(1)
	}
}
