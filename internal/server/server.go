// Package server is the lifecycle controller: it boots every subsystem in
// dependency order, drives the single-threaded game loop, and tears the
// process down inside the shutdown deadline. All world and player state is
// touched only from the loop goroutine.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jasona/mudforge-sub005/internal/command"
	"github.com/jasona/mudforge-sub005/internal/config"
	"github.com/jasona/mudforge-sub005/internal/core/event"
	"github.com/jasona/mudforge-sub005/internal/core/system"
	"github.com/jasona/mudforge-sub005/internal/daemon"
	"github.com/jasona/mudforge-sub005/internal/data"
	"github.com/jasona/mudforge-sub005/internal/federation"
	"github.com/jasona/mudforge-sub005/internal/persist"
	"github.com/jasona/mudforge-sub005/internal/sandbox"
	"github.com/jasona/mudforge-sub005/internal/session"
	"github.com/jasona/mudforge-sub005/internal/world"
)

// Server owns every long-lived component. Construction wires them;
// Run drives them.
type Server struct {
	cfg *config.Config
	log *zap.Logger

	store   persist.Store
	tokens  *session.TokenStore
	manager *session.Manager
	binder  *session.Binder

	registry *world.Registry
	sched    *world.Scheduler
	races    *data.RaceTable

	bus        *event.Bus
	runner     *system.Runner
	dispatcher *command.Dispatcher
	daemons    *daemon.Registry

	perms    *daemon.Permissions
	gametime *daemon.GameTime
	channels *daemon.Channels
	announce *daemon.Announcements

	pool    *sandbox.Pool
	scripts *sandbox.Runner
	files   *fileBridge
	relays  map[string]*federation.Adapter
	relayIn chan relayEvent

	httpSrv *http.Server

	// Game-loop-only state.
	players  map[string]*world.Player // lowercased name → character
	pending  map[uint64]*session.Conn // accepted, not yet authenticated
	linkdead map[*world.Player]time.Time
	authHits map[string][]time.Time // remote host → recent auth attempts
	tickNum  uint64

	shutdownCh chan string
}

// relayEvent is a federation event tagged with the relay it arrived on.
// Adapters run on their own goroutines; events cross into the game loop
// through the relayIn channel.
type relayEvent struct {
	relay string
	federation.Event
}

// New builds the server in boot order: store, session layer, world,
// daemons, sandbox, commands, relays. Nothing starts running yet.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		log:        log,
		store:      store,
		tokens:     session.NewTokenStore(cfg.Session.Secret, cfg.Session.TTL, cfg.Session.MaxActive),
		binder:     session.NewBinder(cfg.Session.InputQueue, log),
		bus:        event.NewBus(),
		runner:     system.NewRunner(),
		players:    map[string]*world.Player{},
		pending:    map[uint64]*session.Conn{},
		linkdead:   map[*world.Player]time.Time{},
		authHits:   map[string][]time.Time{},
		shutdownCh: make(chan string, 1),
	}
	s.manager = session.NewManager(s.tokens, cfg.Network.HeartbeatInterval,
		cfg.Network.MaxMissedPongs, cfg.Server.Version, log)

	// Static content tables.
	blueprints, err := data.LoadBlueprintTable(cfg.World.BlueprintDir)
	if err != nil {
		return nil, fmt.Errorf("load blueprints: %w", err)
	}
	s.races, err = data.LoadRaceTable(filepath.Join(cfg.World.BlueprintDir, "races.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load races: %w", err)
	}

	s.registry = world.NewRegistry(blueprints, log)
	s.sched = world.NewScheduler(cfg.World.TickPeriod, log)
	s.registry.SetScheduler(s.sched)

	// Daemons in boot order; shutdown serializes them in reverse.
	s.perms = daemon.NewPermissions()
	s.gametime = daemon.NewGameTime()
	s.channels = daemon.NewChannels()
	s.channels.Resolve = func(name string) *world.Player {
		p := s.players[persist.PlayerKey(name)]
		if p == nil || p.Conn() == nil {
			return nil
		}
		return p
	}
	s.announce = daemon.NewAnnouncements()
	s.daemons = daemon.NewRegistry(store, log)
	for _, d := range []daemon.Daemon{s.perms, s.gametime, s.channels, s.announce} {
		if err := s.daemons.Register(d); err != nil {
			return nil, err
		}
	}

	// Script sandbox. The bridges run on the game loop goroutine because
	// scripts only ever execute from there.
	s.files = &fileBridge{store: store, perms: s.perms}
	hosts := sandbox.NewHostRegistry(
		&worldBridge{reg: s.registry, bus: s.bus},
		s.files,
		newAIClient(cfg.AI, log),
		log,
	)
	s.pool = sandbox.NewPool(cfg.Sandbox.PoolSize, cfg.Sandbox.MemoryMB, hosts, log)
	s.scripts = sandbox.NewRunner(s.pool, cfg.Sandbox.ScriptTimeout, log)

	s.dispatcher = command.NewDispatcher(s.registry, log)
	command.RegisterBuiltins(s.dispatcher, command.Deps{
		Who:      s.binder.Players,
		Quit:     s.quitPlayer,
		Shutdown: s.RequestShutdown,
		Eval:     s.evalScript,
	})
	s.registerDaemonCommands()

	s.relayIn = make(chan relayEvent, 256)
	s.relays = map[string]*federation.Adapter{}
	for _, relay := range cfg.Federation.Relays {
		name := relay.Name
		a := federation.NewAdapter(name, federation.WebSocketDialer(relay.URL), log)
		a.OnEvent(func(ev federation.Event) {
			select {
			case s.relayIn <- relayEvent{relay: name, Event: ev}:
			default:
				log.Warn("relay inbound queue full, event dropped",
					zap.String("relay", name))
			}
		})
		s.relays[name] = a
	}

	s.runner.Register(&inputSystem{s})
	s.runner.Register(&eventSystem{s})
	s.runner.Register(&commandSystem{s})
	s.runner.Register(&heartbeatSystem{s: s})
	s.runner.Register(&outputSystem{s})
	s.runner.Register(&cleanupSystem{s})

	event.Subscribe(s.bus, func(ev event.PlayerEnteredWorld) {
		s.log.Info("player entered world",
			zap.String("player", ev.Player.Name),
			zap.Bool("resume", ev.Resume))
		if ev.Resume {
			return
		}
		for _, other := range s.binder.Players() {
			if other != ev.Player {
				other.SendLine(ev.Player.Name + " has entered the world.")
			}
		}
	})
	event.Subscribe(s.bus, func(ev event.ObjectDestroyed) {
		s.log.Info("object destructed by script",
			zap.Uint64("id", uint64(ev.ID)),
			zap.String("path", ev.Path))
	})
	event.Subscribe(s.bus, func(ev event.PlayerLeftWorld) {
		s.log.Info("player left world",
			zap.String("player", ev.Player.Name),
			zap.String("reason", ev.Reason))
		for _, other := range s.binder.Players() {
			if other != ev.Player {
				other.SendLine(ev.Player.Name + " has left the world.")
			}
		}
	})

	s.httpSrv = &http.Server{Handler: s.routes()}
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (persist.Store, error) {
	switch cfg.Store.Adapter {
	case "remote":
		return persist.NewPGStore(ctx, persist.PGConfig{
			DSN:             cfg.Store.RemoteURL,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		}, log)
	default:
		return persist.NewFileStore(cfg.Store.DataPath, log)
	}
}

// Boot restores persisted state: daemons first, then permissions and the
// world snapshot. The HTTP readiness probe flips only after this returns.
func (s *Server) Boot(ctx context.Context) error {
	if err := s.daemons.Boot(ctx); err != nil {
		return fmt.Errorf("boot daemons: %w", err)
	}
	if rec, err := s.store.LoadPermissions(ctx); err == nil && rec != nil {
		s.perms.LoadRecord(rec)
	} else if err != nil {
		s.log.Warn("permissions record unreadable, starting blank", zap.Error(err))
	}
	if rec, err := s.store.LoadWorld(ctx); err == nil && rec != nil {
		s.restoreWorld(rec.Payload)
	} else if err != nil {
		s.log.Warn("world snapshot unreadable, starting from blueprints", zap.Error(err))
	}
	return nil
}

// Run serves until the context is cancelled or a shutdown is requested,
// then tears down inside the configured deadline. An HTTP listener
// failure cancels the loop through the group context.
func (s *Server) Run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.manager.Run(gctx)
		return nil
	})
	for _, a := range s.relays {
		a.Start(gctx)
	}

	s.log.Info("server up",
		zap.String("addr", s.cfg.Addr()),
		zap.String("version", s.cfg.Server.Version),
		zap.Int("objects", s.registry.Count()))

	reason := s.loop(gctx)
	cancel()
	s.shutdown(reason)
	return g.Wait()
}

// loop is the game loop: one runner pass per tick, autosave on a tick
// counter, exit on shutdown request.
func (s *Server) loop(ctx context.Context) string {
	ticker := time.NewTicker(s.cfg.World.TickPeriod)
	defer ticker.Stop()

	saveTicks := uint64(0)
	if s.cfg.World.TickPeriod > 0 {
		saveTicks = uint64(s.cfg.World.AutosaveInterval / s.cfg.World.TickPeriod)
	}

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return "signal"
		case reason := <-s.shutdownCh:
			return reason
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			s.tickNum++
			s.runner.Tick(dt)
			if saveTicks > 0 && s.tickNum%saveTicks == 0 {
				s.autosave(context.Background())
			}
		}
	}
}

// RequestShutdown asks the loop to exit. Safe from any goroutine; extra
// requests past the first are dropped.
func (s *Server) RequestShutdown(reason string) {
	select {
	case s.shutdownCh <- reason:
	default:
	}
}

// shutdown runs the teardown sequence under the shutdown deadline:
// stop accepting, warn players, save everything, serialize daemons in
// reverse, close connections, drop the isolate pool.
func (s *Server) shutdown(reason string) {
	s.log.Info("shutting down", zap.String("reason", reason))
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.World.ShutdownDeadline)
	defer cancel()

	for _, p := range s.binder.Players() {
		p.SendLine("The server is shutting down.")
	}
	_ = s.httpSrv.Shutdown(ctx)

	s.autosave(ctx)
	s.daemons.Shutdown(ctx)
	for _, a := range s.relays {
		a.Stop()
	}
	s.manager.CloseAll(session.ReasonServerShutdown)
	s.pool.Dispose()
	s.store.Close()
}

// autosave persists every bound and linkdead player, the permission
// table, and the world snapshot. Failures are logged, never fatal.
func (s *Server) autosave(ctx context.Context) {
	for _, p := range s.players {
		s.savePlayer(ctx, p)
	}
	if err := s.store.SavePermissions(ctx, s.perms.Record()); err != nil {
		s.log.Warn("permissions save failed", zap.Error(err))
	}
	if err := s.store.SaveWorld(ctx, &persist.WorldRecord{
		Payload: s.worldSnapshot(),
		SavedAt: time.Now(),
	}); err != nil {
		s.log.Warn("world save failed", zap.Error(err))
	}
}

func (s *Server) savePlayer(ctx context.Context, p *world.Player) {
	rec := &persist.PlayerRecord{
		Name:    persist.PlayerKey(p.Name),
		Payload: p.Serialize(),
		SavedAt: time.Now(),
	}
	if err := s.store.SavePlayer(ctx, rec); err != nil {
		s.log.Warn("player save failed",
			zap.String("player", p.Name), zap.Error(err))
	}
}

// worldSnapshot captures the mutable props of every loaded singleton.
// Blueprints rebuild structure; the snapshot restores what changed.
func (s *Server) worldSnapshot() map[string]any {
	objects := map[string]any{}
	s.registry.EachLoaded(func(path string, o *world.Object) {
		if o.Destroyed() || len(o.Props) == 0 {
			return
		}
		props := make(map[string]any, len(o.Props))
		for k, v := range o.Props {
			props[k] = v
		}
		objects[path] = props
	})
	return map[string]any{
		"objects":    objects,
		"saved_tick": s.tickNum,
	}
}

func (s *Server) restoreWorld(payload map[string]any) {
	objects, ok := payload["objects"].(map[string]any)
	if !ok {
		return
	}
	for path, raw := range objects {
		props, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		o, err := s.registry.LoadObject(path)
		if err != nil {
			s.log.Warn("snapshot references unknown blueprint",
				zap.String("path", path), zap.Error(err))
			continue
		}
		for k, v := range props {
			o.Props[k] = v
		}
	}
}

// quitPlayer is the clean exit path behind the quit command.
func (s *Server) quitPlayer(p *world.Player) {
	p.SendLine("Goodbye.")
	s.savePlayer(context.Background(), p)
	s.tokens.InvalidateName(p.Name)
	if c, ok := s.binder.ConnFor(p); ok {
		s.binder.Unbind(p)
		s.manager.Drop(c, "quit", 1000)
	}
	event.Emit(s.bus, event.PlayerLeftWorld{Player: p, Reason: "quit", Clean: true})
	s.removePlayer(p)
}

// removePlayer takes the character out of the world entirely.
func (s *Server) removePlayer(p *world.Player) {
	delete(s.players, persist.PlayerKey(p.Name))
	delete(s.linkdead, p)
	p.Destroy()
}

// evalScript backs the admin eval command: run code on a pooled isolate
// and echo the outcome. Host file access runs at the caller's level.
func (s *Server) evalScript(p *world.Player, code string) {
	s.files.SetActor(p.Perm)
	defer s.files.SetActor(world.PermPlayer)
	res := s.scripts.Run(context.Background(), code, 0)
	if res.Err != nil {
		p.SendLine("Error: " + res.Err.Error())
		return
	}
	p.SendLine(fmt.Sprintf("= %v  (%s)", res.Value, res.ExecutionTime.Round(time.Millisecond)))
}
