package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/encoding/json"

	"z4-server/quadtree"
	"z4-server/server"
	"z4-server/sim"
)

var (
	// Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "z4_info",
		Help:        "Z4 server information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

type config struct {
	Addr           string  `cli:"" env:"Z4_ADDR"            help:"Listening address for client connections."`
	AdminAddr      string  `cli:"" env:"Z4_ADMIN_ADDR"      help:"Admin listening address."`
	LogLevel       string  `cli:"" env:"Z4_LOG_LEVEL"       help:"Log level (debug|info|warning|error)."`
	LogIndent      bool    `cli:"" env:"Z4_LOG_INDENT"      help:"Indent logs."`
	WorldWidth     float64 `cli:"" env:"Z4_WORLD_WIDTH"     help:"Width of every game world."`
	WorldHeight    float64 `cli:"" env:"Z4_WORLD_HEIGHT"    help:"Height of every game world."`
	SplitThreshold int     `cli:"" env:"Z4_SPLIT_THRESHOLD" help:"Objects a world region holds before it splits."`
	MergeThreshold int     `cli:"" env:"Z4_MERGE_THRESHOLD" help:"Objects below which split regions merge back (-1: half of the split threshold)."`
	MaxDepth       int     `cli:"" env:"Z4_MAX_DEPTH"       help:"Maximum depth of the world index."`
	TickRate       int     `cli:"" env:"Z4_TICK_RATE"       help:"Game ticks per second."`
	BroadcastRate  int     `cli:"" env:"Z4_BROADCAST_RATE"  help:"State snapshots per second."`
	Version        bool    `cli:"" env:"-"                  help:"Show version."`
	Help           bool    `cli:"" env:"-"                  help:"Show help."`
}

func main() {
	simConf := sim.DefaultConfig()
	conf := config{
		Addr:           ":8080",
		AdminAddr:      ":18080",
		LogLevel:       logs.InfoLevel.String(),
		WorldWidth:     simConf.Width,
		WorldHeight:    simConf.Height,
		SplitThreshold: simConf.SplitThreshold,
		MergeThreshold: simConf.MergeThreshold,
		MaxDepth:       simConf.MaxDepth,
		TickRate:       simConf.TickRate,
		BroadcastRate:  simConf.BroadcastRate,
	}

	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the Z4 game server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	hub := server.NewHub(sim.Config{
		Width:          conf.WorldWidth,
		Height:         conf.WorldHeight,
		SplitThreshold: conf.SplitThreshold,
		MergeThreshold: conf.MergeThreshold,
		MaxDepth:       conf.MaxDepth,
		TickRate:       conf.TickRate,
		BroadcastRate:  conf.BroadcastRate,
	})
	go hub.Run(ctx)

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("world_width", conf.WorldWidth).
		WithTag("world_height", conf.WorldHeight).
		WithTag("split_threshold", conf.SplitThreshold).
		Info("starting z4 server")

	server.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(server.SetupRoutes(hub),
			server.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: server.SetupAdminRoutes(hub)},
	)
}

func validateConfig(conf config) error {
	if conf.WorldWidth <= 0 || conf.WorldHeight <= 0 {
		return errors.New("world size must be positive").
			WithTag("width", conf.WorldWidth).
			WithTag("height", conf.WorldHeight)
	}

	if conf.SplitThreshold < 1 {
		return errors.New("split threshold must be positive").
			WithTag("split_threshold", conf.SplitThreshold)
	}

	if conf.MergeThreshold != quadtree.AutoMergeThreshold &&
		(conf.MergeThreshold < 0 || conf.MergeThreshold > conf.SplitThreshold) {
		return errors.New("merge threshold must be between 0 and the split threshold").
			WithTag("merge_threshold", conf.MergeThreshold)
	}

	if conf.MaxDepth < 0 {
		return errors.New("max depth must not be negative").
			WithTag("max_depth", conf.MaxDepth)
	}

	if conf.TickRate <= 0 || conf.BroadcastRate <= 0 || conf.BroadcastRate > conf.TickRate {
		return errors.New("broadcast rate must be between 1 and the tick rate").
			WithTag("tick_rate", conf.TickRate).
			WithTag("broadcast_rate", conf.BroadcastRate)
	}

	return nil
}
