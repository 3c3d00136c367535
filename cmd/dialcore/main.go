// Command dialcore runs the campaign dispatch and lease engine: the
// coordinator-backed admission control core, its background reconcilers,
// and the primary-only call worker. The REST surface for campaign CRUD,
// auth, and analytics lives outside this binary; this process owns only
// the scheduling and concurrency-control loop.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ringpath/dialcore/internal/campaign"
	"github.com/ringpath/dialcore/internal/carrier"
	"github.com/ringpath/dialcore/internal/config"
	"github.com/ringpath/dialcore/internal/coordination"
	"github.com/ringpath/dialcore/internal/coordinator"
	"github.com/ringpath/dialcore/internal/idempotency"
	"github.com/ringpath/dialcore/internal/lease"
	"github.com/ringpath/dialcore/internal/liveview"
	"github.com/ringpath/dialcore/internal/queue"
	"github.com/ringpath/dialcore/internal/reconcile"
	"github.com/ringpath/dialcore/internal/store"
	"github.com/ringpath/dialcore/internal/waitlist"
	"github.com/ringpath/dialcore/internal/worker"
)

const highPriorityThreshold = 5

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord, err := coordinator.NewRedisCoordinator(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("failed to connect to coordination substrate at %s: %v", cfg.RedisAddr, err)
	}
	log.Printf("connected to coordination substrate at %s", cfg.RedisAddr)

	var st store.Store
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to connect to durable store: %v", err)
		}
		defer pg.Close()
		st = pg
	} else {
		log.Println("POSTGRES_DSN not set, running with an in-memory store (not durable)")
		st = store.NewMemoryStore()
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	q := queue.NewQueue()
	priorityOf := queue.DefaultPriorityOf(highPriorityThreshold)
	syncer := queue.NewSyncer(coord, priorityOf)
	syncer.Attach(q)

	campaignAPI := campaign.NewAPI(st, coord, q, highPriorityThreshold)

	coldStart := worker.NewColdStartGuard(coord, worker.RampConfig{
		InitialLimit:   cfg.ColdStart.InitialLimit,
		RampSuccesses:  cfg.ColdStart.RampSuccesses,
		DoneSuccesses:  5,
		StepMultiplier: cfg.ColdStart.StepMultiplier,
		TTL:            10 * time.Minute,
	})
	leaseEngine := lease.NewEngine(coord)
	car := carrier.NewRateLimitedCarrier(carrier.NewStubCarrier())
	w := worker.New(coord, q, st, leaseEngine, car, coldStart)
	dispatcher := worker.NewDispatcher(w, st)
	dispatcher.Attach(q)

	hub := liveview.NewHub()
	go hub.Run(ctx)

	idemStore := idempotency.NewStore(&idempotency.RedisBackend{Client: redisClient})

	elector := coordination.NewLeaderElector(redisClient, st, cfg.NodeID, 30*time.Second)
	elector.SetCallbacks(
		func(leaderCtx context.Context) {
			log.Printf("[main] %s elected leader, starting call worker", cfg.NodeID)
			go dispatcher.Run(leaderCtx)
		},
		func() {
			log.Printf("[main] %s lost leadership, call worker paused", cfg.NodeID)
		},
	)
	elector.Start(ctx)

	promoters := newPromoterManager(coord, q, cfg.NodeID)
	promoters.startActiveCampaigns(ctx, st)

	reconcile.NewLeaseJanitor(coord, st).Start(ctx)
	reconcile.NewWaitlistCompactor(coord, q, st).Start(ctx)
	reconcile.NewQueueReconciler(coord, q, st, priorityOf).Start(ctx)
	reconcile.NewCounterReconciler(coord, st).Start(ctx)
	reconcile.NewInvariantMonitor(coord, st).Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/campaigns/start", handleCampaignAction(func(ctx context.Context, tenantID, campaignID string) error {
		if err := campaignAPI.Start(ctx, tenantID, campaignID); err != nil {
			return err
		}
		promoters.ensureRunning(ctx, campaignID)
		return nil
	}))
	mux.HandleFunc("/campaigns/pause", handleCampaignAction(campaignAPI.Pause))
	mux.HandleFunc("/campaigns/resume", handleCampaignAction(campaignAPI.Resume))
	mux.HandleFunc("/campaigns/cancel", func(w http.ResponseWriter, r *http.Request) {
		tenantID, campaignID, ok := tenantAndCampaign(w, r)
		if !ok {
			return
		}
		removed, err := campaignAPI.Cancel(r.Context(), tenantID, campaignID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"removed": removed})
	})

	mux.HandleFunc("/webhooks/call-status", newCallStatusWebhook(idemStore, st, coord, leaseEngine, hub))

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[main] websocket upgrade failed: %v", err)
			return
		}
		hub.Register(conn, r.URL.Query().Get("campaign_id"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	go func() {
		log.Printf("dialcore listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	elector.Stop()
	cancel()
}

// promoterManager tracks the one Promoter goroutine each active campaign
// needs, so a campaign started after process boot gets a promoter without
// waiting for a restart, and a restart doesn't spin up a duplicate for a
// campaign a crashed run already had running.
type promoterManager struct {
	coord   coordinator.Coordinator
	q       *queue.Queue
	ownerID string

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func newPromoterManager(coord coordinator.Coordinator, q *queue.Queue, ownerID string) *promoterManager {
	return &promoterManager{
		coord:   coord,
		q:       q,
		ownerID: ownerID,
		running: make(map[string]context.CancelFunc),
	}
}

// ensureRunning starts a Promoter for campaignID if one isn't already
// running under this manager. Safe to call repeatedly for the same
// campaign (e.g. Start called twice, or boot racing an HTTP request).
func (m *promoterManager) ensureRunning(parent context.Context, campaignID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[campaignID]; ok {
		return
	}
	promoterCtx, cancel := context.WithCancel(parent)
	m.running[campaignID] = cancel
	getLimit := func(ctx context.Context) (int, error) {
		return m.coord.GetLimit(ctx, campaignID)
	}
	p := waitlist.NewPromoter(m.coord, m.q, campaignID, m.ownerID, getLimit)
	go p.Run(promoterCtx)
	log.Printf("[main] started promoter for campaign %s", campaignID)
}

// startActiveCampaigns spins up a Promoter per already-active campaign
// found in durable storage at startup, so a restart resumes admission
// control without waiting for a new /campaigns/start call.
func (m *promoterManager) startActiveCampaigns(ctx context.Context, st store.Store) {
	campaigns, err := st.ListActiveCampaigns(ctx)
	if err != nil {
		log.Printf("[main] failed to list active campaigns at startup: %v", err)
		return
	}
	for _, c := range campaigns {
		m.ensureRunning(ctx, c.ID)
	}
	if len(campaigns) > 0 {
		log.Printf("[main] resumed promotion for %d active campaigns", len(campaigns))
	}
}

func handleCampaignAction(fn func(ctx context.Context, tenantID, campaignID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, campaignID, ok := tenantAndCampaign(w, r)
		if !ok {
			return
		}
		if err := fn(r.Context(), tenantID, campaignID); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func tenantAndCampaign(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	tenantID := r.URL.Query().Get("tenant_id")
	campaignID := r.URL.Query().Get("campaign_id")
	if campaignID == "" {
		http.Error(w, "campaign_id required", http.StatusBadRequest)
		return "", "", false
	}
	return tenantID, campaignID, true
}

// callStatusWebhook carries the terminal call status a carrier reports
// back, correlated by the callSid the worker copies from CallDetails.SID
// into CallLog.CallSid at dial time (CustomField carries the call-log id).
type callStatusWebhook struct {
	CallSid      string `json:"call_sid"`
	Status       string `json:"status"`
	Duration     int    `json:"duration"`
	RecordingURL string `json:"recording_url"`
	Voicemail    bool   `json:"voicemail"`
}

// newCallStatusWebhook finalizes a call exactly once per (callSid,
// status) pair: it releases the active lease and updates durable state
// only the first time a given terminal status is delivered.
func newCallStatusWebhook(idemStore *idempotency.Store, st store.Store, coord coordinator.Coordinator, leaseEngine *lease.Engine, hub *liveview.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload callStatusWebhook
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		key := idempotency.Key(payload.CallSid, payload.Status)
		ctx := r.Context()
		if _, seen := idemStore.Seen(ctx, key); seen {
			w.WriteHeader(http.StatusOK)
			return
		}

		cl, err := st.GetCallLogByCallSid(ctx, payload.CallSid)
		if err != nil || cl == nil {
			http.Error(w, "unknown call_sid", http.StatusNotFound)
			return
		}

		if cl.ActiveToken != "" {
			if err := leaseEngine.ReleaseActive(ctx, cl.CampaignID, cl.ID, cl.ActiveToken, true); err != nil {
				log.Printf("[webhook] active lease release failed for call %s: %v", cl.ID, err)
			}
		}

		status := store.CallLogStatus(payload.Status)
		if err := st.FinalizeCallLog(ctx, cl.ID, status, payload.Duration, payload.RecordingURL, payload.Voicemail, time.Now()); err != nil {
			log.Printf("[webhook] finalize call log failed for call %s: %v", cl.ID, err)
		}

		contactStatus := store.ContactComplete
		if status == store.CallFailed || status == store.CallBusy || status == store.CallNoAnswer {
			contactStatus = store.ContactFailed
		}
		if err := st.UpdateContactStatus(ctx, cl.CampaignContact, contactStatus); err != nil {
			log.Printf("[webhook] contact status update failed for call %s: %v", cl.ID, err)
		}

		idemStore.MarkSeen(ctx, key, idempotency.Record{CallLogID: cl.ID, Status: payload.Status})

		hub.Publish(liveview.Event{
			CampaignID: cl.CampaignID,
			Kind:       "call_finalized",
			CallID:     cl.ID,
			At:         time.Now(),
		})

		w.WriteHeader(http.StatusOK)
	}
}
