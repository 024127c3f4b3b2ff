package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/planeplopper/internal/api"
	"github.com/banshee-data/planeplopper/internal/config"
	"github.com/banshee-data/planeplopper/internal/debugview"
	"github.com/banshee-data/planeplopper/internal/health"
	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/plopper"
	"github.com/banshee-data/planeplopper/internal/spatial"
	"github.com/banshee-data/planeplopper/internal/store"
	"github.com/banshee-data/planeplopper/internal/timeutil"
	"github.com/banshee-data/planeplopper/internal/tracking"
	"github.com/banshee-data/planeplopper/internal/tracking/sim"
	"github.com/banshee-data/planeplopper/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to JSON config (default "+config.DefaultConfigPath+" when present)")
	dbPath      = flag.String("db", "", "SQLite database path (overrides config)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address (overrides config, \"off\" disables)")
	addr        = flag.String("addr", "", "Server address for client commands (default: the listen address)")
	verbose     = flag.Bool("v", false, "Log per-tick cursor and anchor activity")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const usage = `usage: planeplopper [flags]            run the placement engine
       planeplopper [flags] <command>  talk to a running engine

commands:
  place        place an object at the cursor
  remove-all   delete every placed object
  status       print engine status
  anchors      list world anchors and placed objects
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyOverrides(cfg, *dbPath, *listen, *grpcListen)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flag.NArg() > 0 {
		target := *addr
		if target == "" {
			target = cfg.GetListen()
		}
		client := api.NewClient(target, &http.Client{Timeout: 10 * time.Second})
		if err := runCommand(ctx, client, flag.Arg(0), os.Stdout); err != nil {
			log.Fatalf("%s: %v", flag.Arg(0), err)
		}
		return
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("planeplopper: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads path, or the defaults file when path is empty and the
// file exists. With neither, every setting takes its compiled default.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadConfig(config.DefaultConfigPath)
	}
	return config.EmptyConfig(), nil
}

// applyOverrides copies non-empty command line values over the config.
func applyOverrides(cfg *config.Config, db, httpAddr, grpcAddr string) {
	if db != "" {
		cfg.DatabasePath = &db
	}
	if httpAddr != "" {
		cfg.Listen = &httpAddr
	}
	switch grpcAddr {
	case "":
	case "off":
		off := ""
		cfg.GRPCListen = &off
	default:
		cfg.GRPCListen = &grpcAddr
	}
}

// runCommand performs one client command against a running engine.
func runCommand(ctx context.Context, c *api.Client, cmd string, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	switch cmd {
	case "place":
		resp, err := c.Place(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "placing object at world anchor %s\n", resp.AnchorID)
		return nil
	case "remove-all":
		if err := c.RemoveAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "removed all objects")
		return nil
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(st)
	case "anchors":
		listing, err := c.Anchors(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(listing)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// seedScene gives the simulator a room to look at: a floor, a wall ahead
// and a device at head height tilted toward the floor.
func seedScene(world *sim.WorldTracking, planes *sim.PlaneDetection) {
	planes.InjectPlane(sim.Floor(0, 6))
	planes.InjectPlane(sim.Wall(r3.Vec{Y: 1.25, Z: -3}, 6, 2.5))
	world.SetDevicePose(spatial.Transform{
		Position:    r3.Vec{Y: 1.2},
		Orientation: spatial.AxisAngle(r3.Vec{X: 1}, -spatial.Deg2Rad(20)),
	}, true)
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(cfg.GetDatabasePath(), store.Options{})
	if err != nil {
		return err
	}
	defer st.Close()

	world, err := sim.NewWorldTracking(sim.WorldTrackingOptions{
		Limit:      cfg.GetWorldAnchorLimit(),
		AnchorFile: cfg.GetSimAnchorFile(),
	})
	if err != nil {
		return err
	}
	detector := sim.NewPlaneDetection(true)
	seedScene(world, detector)

	p, err := plopper.New(plopper.Options{
		Config:  cfg,
		Session: sim.NewSession(tracking.AuthorizationAllowed),
		World:   world,
		Planes:  detector,
		Store:   st,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	// placement engine
	runErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := p.Run(ctx)
		if err != nil {
			log.Printf("placement engine stopped: %v", err)
			cancel()
		}
		runErr <- err
	}()

	// gRPC health
	if grpcAddr := cfg.GetGRPCListen(); grpcAddr != "" {
		hs := health.NewServer(grpcAddr)
		if err := hs.Start(); err != nil {
			cancel()
			wg.Wait()
			return err
		}
		defer hs.Stop()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hs.Watch(ctx, timeutil.RealClock{}, p.Adapter()); err != nil {
				log.Printf("health watch: %v", err)
			}
		}()
	}

	// HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		api.NewServer(p).AttachRoutes(mux)
		if err := st.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach admin routes: %v", err)
		}
		debugview.AttachRoutes(mux, p)

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("HTTP server listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server error: %v", err)
				cancel()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	return <-runErr
}
