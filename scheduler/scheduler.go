// Package scheduler drives jobs and batches through the issuance pipeline
// with six cooperative polling loops:
//
//	P1 generate    render PDF, bind fingerprint, optionally auto-sign
//	P2 sign intake external signatures arrive through SubmitSignature
//	P3 intermediate  batch Merkle tree and per-job proofs
//	P4 ultimate    cross-batch tree, chain anchoring, bundle regeneration
//	P5 qr          QR payload and PNG artifact
//	P6 augment     final distributable PDF
//
// All cross-stage communication happens through the store; every write is
// guarded on the expected current state, so loops are idempotent and safe
// to retry. A single stop signal ends every loop after its current
// iteration; P1 additionally drains in-flight renders.
package scheduler

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"justifai.co/issuance/anchor"
	"justifai.co/issuance/render"
	"justifai.co/issuance/storage"
	"justifai.co/issuance/store"
)

// Anchorer submits ultimate roots to the chain. The anchor client
// implements it; tests substitute a stub.
type Anchorer interface {
	Anchor(ctx context.Context, root [32]byte, timeWindow uint64) (*anchor.Receipt, error)
}

// Options tune loop cadence and capacity.
type Options struct {
	JobInterval     time.Duration // P1
	MRIInterval     time.Duration // P3
	MRUInterval     time.Duration // P4
	QRInterval      time.Duration // P5
	AugmentInterval time.Duration // P6

	ClaimLimit     int
	PDFConcurrency int
	BatchLimit     int

	// AutoSignKey, when set, signs fingerprints during P1 so jobs skip the
	// external signing step entirely.
	AutoSignKey string

	// IssuerName stamps augmented PDF metadata; tenant names override it.
	IssuerName string

	VerifyBaseURL   string
	VerifyQRBaseURL string
	Network         string

	// CrashBackoff delays a loop after an iteration panic-equivalent error.
	CrashBackoff time.Duration
	// DrainTimeout bounds P1's shutdown wait for in-flight jobs.
	DrainTimeout time.Duration
}

func (o *Options) fill() {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&o.JobInterval, 2*time.Second)
	def(&o.MRIInterval, 5*time.Second)
	def(&o.MRUInterval, 10*time.Second)
	def(&o.QRInterval, 3*time.Second)
	def(&o.AugmentInterval, 3*time.Second)
	def(&o.CrashBackoff, 5*time.Second)
	def(&o.DrainTimeout, 30*time.Second)
	if o.ClaimLimit <= 0 {
		o.ClaimLimit = 10
	}
	if o.PDFConcurrency <= 0 {
		o.PDFConcurrency = 2
	}
	if o.BatchLimit <= 0 {
		o.BatchLimit = 20
	}
}

// Scheduler owns the polling loops. Construct once in the composition root
// and share nothing else.
type Scheduler struct {
	store    store.Gateway
	storage  storage.Store
	renderer render.Renderer
	anchorer Anchorer
	opts     Options

	// inFlight dedupes P1 work within one process so a retried claim can
	// never double-render the same job.
	mu       sync.Mutex
	inFlight map[string]bool

	renderSlots chan struct{}
	drain       sync.WaitGroup

	logP1 *log.Logger
	logP3 *log.Logger
	logP4 *log.Logger
	logP5 *log.Logger
	logP6 *log.Logger
}

func New(gw store.Gateway, blobs storage.Store, renderer render.Renderer, anchorer Anchorer, opts Options) *Scheduler {
	opts.fill()
	mk := func(prefix string) *log.Logger {
		return log.New(os.Stderr, prefix, log.LstdFlags|log.LUTC)
	}
	return &Scheduler{
		store:       gw,
		storage:     blobs,
		renderer:    renderer,
		anchorer:    anchorer,
		opts:        opts,
		inFlight:    make(map[string]bool),
		renderSlots: make(chan struct{}, opts.PDFConcurrency),
		logP1:       mk("[p1-generate] "),
		logP3:       mk("[p3-intermediate] "),
		logP4:       mk("[p4-ultimate] "),
		logP5:       mk("[p5-qr] "),
		logP6:       mk("[p6-augment] "),
	}
}

// Run starts all loops and blocks until ctx is canceled and every loop has
// finished its current iteration.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []struct {
		interval time.Duration
		iterate  func(context.Context) error
		logger   *log.Logger
	}{
		{s.opts.JobInterval, s.iterateGenerate, s.logP1},
		{s.opts.MRIInterval, s.iterateIntermediate, s.logP3},
		{s.opts.MRUInterval, s.iterateUltimate, s.logP4},
		{s.opts.QRInterval, s.iterateQR, s.logP5},
		{s.opts.AugmentInterval, s.iterateAugment, s.logP6},
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(interval time.Duration, iterate func(context.Context) error, logger *log.Logger) {
			defer wg.Done()
			s.runLoop(ctx, interval, iterate, logger)
		}(loop.interval, loop.iterate, loop.logger)
	}
	wg.Wait()

	// Let in-flight P1 renders finish, bounded.
	done := make(chan struct{})
	go func() {
		s.drain.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.opts.DrainTimeout):
		s.logP1.Printf("drain timeout after %s; abandoning in-flight jobs", s.opts.DrainTimeout)
	}
}

// runLoop executes iterate on a cadence until the context ends. Iteration
// errors are logged and backed off; no loop ever propagates failure to
// another.
func (s *Scheduler) runLoop(ctx context.Context, interval time.Duration, iterate func(context.Context) error, logger *log.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		sleep := interval
		if err := iterate(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("iteration failed: %v", err)
			sleep = s.opts.CrashBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

func (s *Scheduler) markInFlight(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[jobID] {
		return false
	}
	s.inFlight[jobID] = true
	return true
}

func (s *Scheduler) clearInFlight(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, jobID)
}
