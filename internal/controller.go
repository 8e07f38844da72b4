package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/roost/internal/client"
	"github.com/dcrodman/roost/internal/components"
	"github.com/dcrodman/roost/internal/core"
	"github.com/dcrodman/roost/internal/core/data"
	"github.com/dcrodman/roost/internal/core/debug"
	"github.com/dcrodman/roost/internal/core/geom"
	"github.com/dcrodman/roost/internal/metrics"
	"github.com/dcrodman/roost/internal/replication"
	"github.com/dcrodman/roost/internal/rpc"
	"github.com/dcrodman/roost/internal/scene"
	"github.com/dcrodman/roost/internal/server"
)

// Controller is the main entrypoint for roost. It's responsible for initializing
// any shared resources (such as database, logging and metrics), building the
// scene and running the server or client loop until the context is cancelled.
type Controller struct {
	Config *core.Config

	logger      *logrus.Logger
	registry    *prometheus.Registry
	snapshots   *debug.Snapshots
	debugServer *http.Server
	db          *gorm.DB
	ledger      *data.Ledger

	world   *scene.World
	prefabs *replication.Prefabs
	table   *rpc.Table
}

// RunServer runs the authoritative server on the configured address. A beacon
// wanders around the scene and every client gets a player of its own.
func (c *Controller) RunServer(ctx context.Context) error {
	defer c.Shutdown()
	if err := c.setUp(); err != nil {
		return err
	}

	if c.Config.Database.Enabled {
		if err := c.openLedger("SERVER"); err != nil {
			return err
		}
	}

	srv := &server.Server{
		Name:    "SERVER",
		Config:  c.Config,
		Logger:  c.logger,
		Prefabs: c.prefabs,
		RPC:     c.table,
		World:   c.world,
		Metrics: metrics.New(c.registry, "server"),
		Ledger:  c.ledger,
	}
	srv.OnConnected(func(id replication.ConnectionID) {
		if _, err := srv.Spawn(components.PlayerPrefab, id, spawnPoint(int(id)), 0); err != nil {
			c.logger.Errorf("error spawning player for %v: %v", id, err)
		}
	})

	if err := srv.Listen(c.Config.ServerAddress()); err != nil {
		return err
	}
	if _, err := srv.Spawn(components.BeaconPrefab, replication.Unowned, geom.V(0, 0), 0); err != nil {
		srv.Close()
		return err
	}

	err := srv.Run(ctx, func(dt time.Duration) {
		c.world.Update(dt)
		c.snapshots.Publish(srv.Entities())
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunClient connects to address (the configured server when empty) and
// mirrors the server's scene until the context is cancelled or the
// connection is lost.
func (c *Controller) RunClient(ctx context.Context, address string) error {
	defer c.Shutdown()
	if err := c.setUp(); err != nil {
		return err
	}
	if address == "" {
		address = c.Config.Client.ServerAddress
	}

	cl := &client.Client{
		Name:    "CLIENT",
		Config:  c.Config,
		Logger:  c.logger,
		Prefabs: c.prefabs,
		RPC:     c.table,
		World:   c.world,
		Metrics: metrics.New(c.registry, "client"),
	}
	cl.OnConnected(func(id replication.ConnectionID) {
		c.logger.Infof("joined as %v", id)
	})

	if err := cl.ConnectTo(ctx, address); err != nil {
		return err
	}
	err := cl.Run(ctx, func(dt time.Duration) {
		c.world.Update(dt)
		c.snapshots.Publish(cl.Entities())
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Controller) setUp() error {
	var err error
	// Set up the logger, which will be used by everything else.
	if c.logger, err = core.NewLogger(c.Config); err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.snapshots = &debug.Snapshots{}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		c.debugServer = debug.StartUtilities(c.logger, c.Config.Debugging.HTTPPort, debug.Router(c.registry, c.snapshots))
	}

	c.world = scene.NewWorld()
	c.prefabs = replication.NewPrefabs()
	c.table = rpc.NewTable()
	if err := components.Register(c.table); err != nil {
		return err
	}
	return components.RegisterPrefabs(c.prefabs, c.world, c.logger)
}

func (c *Controller) openLedger(serverName string) error {
	db, err := data.Initialize(c.Config)
	if err != nil {
		return err
	}
	c.db = db

	// Sessions left open were cut off by a crash or a kill.
	open, err := data.FindOpenSessions(db, serverName)
	if err != nil {
		c.logger.Warnf("error looking up open sessions: %v", err)
	}
	for _, s := range open {
		if err := data.CloseSession(db, s.ID, time.Now(), "abandoned"); err != nil {
			c.logger.Warnf("error closing abandoned session %s: %v", s.ID, err)
		}
	}
	live, err := data.FindLiveEntities(db, serverName)
	if err != nil {
		c.logger.Warnf("error looking up live entities: %v", err)
	}
	for _, e := range live {
		if err := data.MarkEntityDestroyed(db, serverName, e.NetEntityID, time.Now()); err != nil {
			c.logger.Warnf("error retiring entity %d: %v", e.NetEntityID, err)
		}
	}
	if len(open)+len(live) > 0 {
		c.logger.Infof("retired %d sessions and %d entities left over by a previous run", len(open), len(live))
	}

	c.ledger = data.NewLedger(db, c.logger, serverName, 1024)
	return nil
}

// Shutdown releases everything set up by the Run methods.
func (c *Controller) Shutdown() {
	c.ledger.Close()
	if c.db != nil {
		if err := data.Shutdown(c.db); err != nil {
			c.logger.Errorf("error closing database: %v", err)
		}
	}
	if c.debugServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.debugServer.Shutdown(ctx)
	}
}

// spawnPoint spreads players out on a grid.
func spawnPoint(n int) geom.Vec2 {
	return geom.V(float64(n%8)*100, float64(n/8)*100)
}
