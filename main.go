package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/pborman/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/broker"
	"github.com/mqy/minichat/config"
	"github.com/mqy/minichat/history"
	"github.com/mqy/minichat/model"
	"github.com/mqy/minichat/render"
	"github.com/mqy/minichat/router"
	"github.com/mqy/minichat/session"
)

const clientIdPrefix = "minichat-"

var (
	cfg    config.Config
	envErr error

	flagWidth    = flag.Int("width", render.DefaultWidth, "terminal width for rendering")
	flagPprofDir = flag.String("pprof-dir", "", "dir to save pprof data files, SIGUSR1/SIGUSR2 are ignored if empty")
)

func main() {
	// .env first: flag defaults come from the environment.
	envErr = godotenv.Load()
	cfg = config.Load()
	registerFlags(&cfg)
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func registerFlags(c *config.Config) {
	flag.StringVar(&c.BrokerURL, "broker-url", c.BrokerURL, "broker url: tcp|ssl|mqtt|mqtts|ws|wss://host:port[/path] or kafka://host1:9092,host2:9092")
	flag.StringVar(&c.Username, "username", c.Username, "broker username")
	flag.StringVar(&c.Password, "password", c.Password, "broker password")
	flag.IntVar(&c.ReconnectMaxAttempts, "reconnect-max-attempts", c.ReconnectMaxAttempts, "reconnect attempts before giving up, 0 disables reconnect, negative for unlimited")
	flag.StringVar(&c.SelfTopic, "self-topic", c.SelfTopic, "topic to publish own messages on")
	flag.StringVar(&c.HostTopic, "host-topic", c.HostTopic, "topic of host messages")
	flag.StringVar(&c.GuestTopic, "guest-topic", c.GuestTopic, "topic of guest messages")
	flag.StringVar(&c.HistoryURL, "history-url", c.HistoryURL, "history endpoint base url, empty to disable")
	flag.DurationVar(&c.HistoryTimeout, "history-timeout", c.HistoryTimeout, "history load timeout")
	flag.BoolVar(&c.OfflineQueue, "offline-queue", c.OfflineQueue, "queue messages sent while disconnected instead of dropping them")
	flag.IntVar(&c.OutboxSize, "outbox-size", c.OutboxSize, "max queued messages with --offline-queue")
	flag.StringVar(&c.Color, "color", c.Color, "initial color of own messages")
	flag.BoolVar(&c.TagOwnEcho, "tag-own-echo", c.TagOwnEcho, "show inbound messages whose sender is this client as own messages, origin otherwise follows the topic")
	flag.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve prometheus metrics on ip:port, empty to disable")
}

func run() int {
	defer glog.Flush()

	if envErr != nil {
		glog.Warningf(".env not loaded, using environment and defaults: %v", envErr)
	}
	if v := validateFlags(); v > 0 {
		return v
	}

	clientId := clientIdPrefix + uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := broker.NewManager(&broker.Config{
		URL:         cfg.BrokerURL,
		ClientId:    clientId,
		Credentials: auth.Credentials{Username: cfg.Username, Password: cfg.Password},
		Reconnect:   reconnectPolicy(cfg.ReconnectMaxAttempts),
	}, nil)

	var store history.IHistoryStore = history.NopStore{}
	if cfg.HistoryURL != "" {
		store = history.NewHTTPStore(cfg.HistoryURL, &http.Client{Timeout: cfg.HistoryTimeout})
	}

	offline := session.OfflineDrop
	if cfg.OfflineQueue {
		offline = session.OfflineQueue
	}

	sess := session.New(&session.Config{
		Routes:     router.DefaultRoutes(cfg.HostTopic, cfg.GuestTopic),
		SelfTopic:  cfg.SelfTopic,
		ClientId:   clientId,
		TagOwnEcho: cfg.TagOwnEcho,
		Offline:    offline,
		OutboxSize: cfg.OutboxSize,
	}, manager, history.NewLoader(store, cfg.HistoryTimeout))

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr)
		defer func() {
			ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
	}

	glog.Infof("minichat is starting, client id: %s, broker: %s", clientId, cfg.BrokerURL)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			glog.Errorf("session: %v", err)
		}
	}()

	if err := sess.Connect(ctx); err != nil {
		glog.Errorf("connect: %v", err)
	}

	go draw(ctx, sess, render.New(*flagWidth, nil), os.Stdout)

	quit := make(chan struct{})
	go func() {
		defer close(quit)
		readInput(ctx, sess, os.Stdin, model.CoerceColor(cfg.Color))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var prof *profiler
	defer func() {
		if prof != nil {
			prof.stop()
		}
	}()

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				if *flagPprofDir != "" {
					dumpGoroutines(*flagPprofDir)
				}
				continue
			case syscall.SIGUSR2:
				if *flagPprofDir == "" {
					continue
				}
				if prof == nil {
					prof = startProfiler(*flagPprofDir)
				} else {
					prof.stop()
					prof = nil
				}
				continue
			}
			glog.Infof("received signal `%s` stopping", sig.String())
		case <-quit:
		case <-stopped:
		}
		break
	}

	cancel()
	<-stopped
	glog.Info("minichat exited")
	return 0
}

func reconnectPolicy(maxAttempts int) broker.ReconnectPolicy {
	p := broker.DefaultReconnectPolicy()
	switch {
	case maxAttempts == 0:
		p.Enabled = false
	case maxAttempts < 0:
		p.MaxAttempts = 0
	default:
		p.MaxAttempts = maxAttempts
	}
	return p
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{},
	))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("metrics: %v", err)
		}
	}()
	return srv
}

// draw redraws the screen on every session update.
func draw(ctx context.Context, sess *session.Session, r *render.Renderer, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Updates():
		}
		// clear screen, cursor home.
		fmt.Fprint(w, "\033[H\033[2J")
		fmt.Fprintln(w, r.Status(sess.Status()))
		fmt.Fprint(w, r.Timeline(sess.Groups()))
		fmt.Fprint(w, "> ")
	}
}

// readInput sends every line typed. Commands: /color <name>, /connect, /quit.
func readInput(ctx context.Context, sess *session.Session, in io.Reader, color model.Color) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch cmd, arg, _ := strings.Cut(line, " "); cmd {
		case "":
			continue
		case "/quit":
			return
		case "/connect":
			if err := sess.Connect(ctx); err != nil {
				glog.Errorf("connect: %v", err)
			}
			continue
		case "/color":
			if c, ok := model.ParseColor(strings.TrimSpace(arg)); ok {
				color = c
			} else {
				glog.Warningf("unknown color `%s`, expect one of %v", arg, model.Colors)
			}
			continue
		}

		if err := sess.Send(ctx, line, color); err != nil {
			glog.Warningf("send: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		glog.Errorf("read input: %v", err)
	}
}

func validateFlags() int {
	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return errorf("--broker-url: %v", err)
	}
	if u.Host == "" {
		return errorf("--broker-url: host is required, got `%s`", cfg.BrokerURL)
	}

	if cfg.HostTopic == "" || cfg.GuestTopic == "" {
		return errorf("--host-topic and --guest-topic are required")
	}
	if cfg.HostTopic == cfg.GuestTopic {
		return errorf("--host-topic and --guest-topic MUST differ")
	}
	if cfg.SelfTopic == "" {
		return errorf("--self-topic is required")
	}

	if cfg.HistoryURL != "" {
		if u, err := url.Parse(cfg.HistoryURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return errorf("--history-url: expect http(s) url, got `%s`", cfg.HistoryURL)
		}
	}
	if cfg.HistoryTimeout <= 0 {
		return errorf("--history-timeout MUST be positive")
	}
	if cfg.OutboxSize <= 0 {
		return errorf("--outbox-size MUST be positive")
	}
	if _, ok := model.ParseColor(cfg.Color); !ok {
		return errorf("--color: expect one of %v", model.Colors)
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			return errorf("--metrics-addr: %v", err)
		}
	}
	if *flagPprofDir != "" {
		if err := os.MkdirAll(*flagPprofDir, 0750); err != nil {
			return errorf("--pprof-dir: error create dir `%s`: %v", *flagPprofDir, err)
		}
	}
	return 0
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}
