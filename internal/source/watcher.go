package source

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/stockledger/internal/ledger"
)

// Watcher polls a source and feeds classified files into the ingestion
// service, one file to completion at a time.
type Watcher struct {
	source     Source
	classifier Classifier
	svc        *ledger.Service
	limiter    *rate.Limiter
}

// NewWatcher creates a Watcher polling at the given interval.
func NewWatcher(src Source, cls Classifier, svc *ledger.Service, every rate.Limit) *Watcher {
	return &Watcher{
		source:     src,
		classifier: cls,
		svc:        svc,
		limiter:    rate.NewLimiter(every, 1),
	}
}

// Run polls until the context is cancelled. Classification and input-level
// rejections are logged and the file acknowledged; an infrastructure error
// leaves the file unacked, so the source redelivers it on a later cycle
// (the snapshot swap is idempotent per file).
func (w *Watcher) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "source.watcher"))
	log.Info("watcher started")

	for {
		if err := w.limiter.Wait(ctx); err != nil {
			log.Info("watcher stopped")
			return nil
		}

		files, err := w.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("fetch failed", zap.Error(err))
			continue
		}

		for _, f := range files {
			w.process(ctx, f, log)
		}
	}
}

func (w *Watcher) process(ctx context.Context, f File, log *zap.Logger) {
	log = log.With(zap.String("file", f.Name))

	in, err := w.classifier.Classify(f)
	if err != nil {
		log.Warn("classification failed, skipping", zap.Error(err))
		w.source.Ack(f.Name)
		return
	}

	res, err := w.svc.IngestFile(ctx, in)
	if err != nil {
		// Leave unacked so the next fetch redelivers the file.
		log.Error("ingest failed", zap.Error(err))
		return
	}
	if res.Rejected != "" {
		log.Warn("file rejected", zap.String("reason", res.Rejected))
		w.source.Ack(f.Name)
		return
	}
	w.source.Ack(f.Name)
	log.Info("file ingested", zap.Int("rows", res.InsertedRows))
}
