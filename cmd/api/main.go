package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"

	"homeflow/auth"
	"homeflow/contractor"
	"homeflow/coordinator"
	"homeflow/db"
	"homeflow/dispute"
	"homeflow/escrow"
	"homeflow/eta"
	"homeflow/event"
	"homeflow/job"
	"homeflow/offer"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	fees := escrow.DefaultFeeSchedule
	if bps, err := strconv.ParseInt(os.Getenv("PLATFORM_FEE_BPS"), 10, 64); err == nil && bps > 0 {
		fees.Bps = bps
	}
	if min, err := strconv.ParseInt(os.Getenv("PLATFORM_FEE_MIN_CENTS"), 10, 64); err == nil && min >= 0 {
		fees.MinimumCents = min
	}

	outbox := event.NewOutbox()
	gateway := escrow.NewSandboxGateway()

	holds := escrow.NewRepository(gateway, fees, outbox)
	coordRepo := coordinator.NewRepository(holds, outbox)

	server := &Server{
		authService:       auth.NewService(auth.NewRepository(pool), jwtSecret),
		jobService:        job.NewService(pool, job.NewRepository(pool), outbox),
		offerService:      offer.NewService(pool, offer.NewRepository(pool), outbox).WithETAProvider(eta.Static{Minutes: 90}),
		coordService:      coordinator.NewService(pool, coordRepo),
		escrowService:     escrow.NewService(pool, holds),
		contractorService: contractor.NewService(contractor.NewRepository(pool)),
		disputeService:    dispute.NewService(dispute.NewRepository(pool)),
		paymentWebhookKey: os.Getenv("PAYMENT_WEBHOOK_KEY"),
	}

	dispatcherCtx, stopDispatcher := context.WithCancel(ctx)
	defer stopDispatcher()
	go func() {
		sink := escrow.NewCommandSink(gateway, event.LogSink{})
		if err := event.NewDispatcher(pool, sink).Run(dispatcherCtx); err != nil && dispatcherCtx.Err() == nil {
			log.Printf("outbox dispatcher stopped: %v", err)
		}
	}()

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("homeflow api listening on %s", addr)
	if err := http.ListenAndServe(addr, server.routes()); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
