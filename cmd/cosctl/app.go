package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/raft"

	"github.com/cuemby/cos/internal/agentapi"
	"github.com/cuemby/cos/internal/compiler"
	"github.com/cuemby/cos/internal/config"
	"github.com/cuemby/cos/internal/control"
	"github.com/cuemby/cos/internal/dispatch"
	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/eventbus"
	"github.com/cuemby/cos/internal/filemove"
	"github.com/cuemby/cos/internal/kvstore"
	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/multipart"
	"github.com/cuemby/cos/internal/queuemgr"
	"github.com/cuemby/cos/internal/realtime"
	"github.com/cuemby/cos/internal/repo"
	"github.com/cuemby/cos/internal/schedule"
)

// app bundles every wired component a cosctl command might need. One-shot
// commands (draft submit, queue list, ...) use the store/compiler/control
// trio directly against an in-memory store seeded from cfg; the serve
// command additionally brings up the raft node and the agent API.
type app struct {
	cfg *config.Config

	store  *repo.MemoryStore
	kv     *kvstore.Store
	bus    *eventbus.ChangeBus
	broker *eventbus.Broker

	compiler *compiler.Compiler
	control  *control.Service
	queues   *queuemgr.Manager
	dispatch *dispatch.Dispatcher
	engine   *schedule.Engine
	move     *filemove.Pipeline
	texts    *filemove.TextStore
	multi    *multipart.Manager
	realtime *realtime.Streamer

	heartbeat *queuemgr.HeartbeatMonitor
	raft      *raft.Raft
	agentAPI  *agentapi.Server
}

// newApp wires every internal/ package's constructor from cfg, exactly the
// way cmd/warren/main.go's cluster/worker commands build a manager.Manager
// before running a subcommand against it.
func newApp(cfg *config.Config) (*app, error) {
	logx.Init(logx.Config{Level: cfg.Log.LogLevel(), JSONOutput: cfg.Log.JSON})

	store := repo.NewMemoryStore()
	for _, q := range cfg.Queues {
		queue := &domain.Queue{ID: q.ID, Name: q.Name, TopicName: q.TopicName, MemoryBytes: q.MemoryBytes, CoreNumber: q.CoreNumber, StorageBytes: q.StorageBytes, NodeCount: q.NodeCount, Enabled: true}
		if err := store.CreateQueue(context.Background(), queue); err != nil {
			return nil, fmt.Errorf("seed queue %s: %w", q.ID, err)
		}
	}

	kv, err := kvstore.Open(cfg.Storage.KVDataDir)
	if err != nil {
		return nil, fmt.Errorf("open kvstore: %w", err)
	}

	bcast := eventbus.NewBroker()
	bus := eventbus.NewChangeBus()

	comp := compiler.New(store.FileMetas(), store.FileStorages())
	ctl := control.New(store.Drafts(), store.Instances(), comp, bus)
	qm := queuemgr.New(store.Queues())

	packages := repo.NewLocalPackageRepo(cfg.Storage.PackageRepoDir)
	disp := dispatch.New(store.Tasks(), packages, bus)

	engine := schedule.New(store.Instances(), store.Nodes(), store.Tasks(), bus, disp, qm)

	objBroker, err := repo.NewLocalStorageBroker(cfg.Storage.LocalBrokerDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage broker: %w", err)
	}

	move := filemove.New(store.FileMetas(), store.FileStorages(), store.NetDisks(), kv.Snapshots(), kv.MoveRegistrations(), objBroker, storageServersFromConfig(cfg))
	texts := filemove.NewTextStore(kv.TextStorages())

	cache, err := multipart.NewCache(cfg.Storage.MultipartDir)
	if err != nil {
		return nil, fmt.Errorf("create multipart cache: %w", err)
	}
	multi := multipart.New(kv.Multiparts(), cache)

	ttl, err := time.ParseDuration(cfg.Realtime.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime.session_ttl: %w", err)
	}
	rt := realtime.New(kv.WsReqInfos(), bcast, ttl)

	heartbeatInterval, err := time.ParseDuration(cfg.Agent.HeartbeatInterval)
	if err != nil {
		return nil, fmt.Errorf("parse agent.heartbeat_interval: %w", err)
	}
	hb := queuemgr.NewHeartbeatMonitor(store.Queues(), heartbeatInterval, cfg.Agent.MissedHeartbeatLimit)

	a := &app{
		cfg:       cfg,
		store:     store,
		kv:        kv,
		bus:       bus,
		broker:    bcast,
		compiler:  comp,
		control:   ctl,
		queues:    qm,
		dispatch:  disp,
		engine:    engine,
		move:      move,
		texts:     texts,
		multi:     multi,
		realtime:  rt,
		heartbeat: hb,
	}
	a.agentAPI = agentapi.New(engine, qm, store.Queues(), cfg.Agent.ListenAddr)
	return a, nil
}

func storageServersFromConfig(cfg *config.Config) []domain.StorageServer {
	servers := make([]domain.StorageServer, 0, len(cfg.Storage.Servers))
	for _, s := range cfg.Storage.Servers {
		servers = append(servers, domain.StorageServer{ID: s.ID, Name: s.Name, URL: s.URL})
	}
	if len(servers) == 0 {
		servers = append(servers, domain.StorageServer{ID: "local", Name: "local", URL: "local"})
	}
	return servers
}

// startRaft promotes the engine onto a replicated log; called only by the
// serve command, never by one-shot CLI operations (those run as a
// single-voter standalone engine, matching engine.IsLeader's "no raft
// configured" fallback).
func (a *app) startRaft() error {
	r, err := schedule.NewRaftNode(schedule.RaftConfig{
		NodeID:    a.cfg.Raft.NodeID,
		BindAddr:  a.cfg.Raft.BindAddr,
		DataDir:   a.cfg.Raft.DataDir,
		Bootstrap: a.cfg.Raft.Bootstrap,
	}, a.engine)
	if err != nil {
		return err
	}
	a.raft = r
	return nil
}

func (a *app) Close() error {
	return a.kv.Close()
}
