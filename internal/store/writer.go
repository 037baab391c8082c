// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/database"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

const (
	batchSize    = 64
	flushTimeout = 10 * time.Second
	drainTimeout = 10 * time.Second
)

var (
	// ErrRecordQueueFull is returned when a record could not be queued
	// within the enqueue deadline. The record has been dropped and counted.
	ErrRecordQueueFull = errors.New("record queue full")

	// ErrSnapshotQueueFull is returned when a snapshot was dropped because
	// the queue was full. The next snapshot for the user supersedes it.
	ErrSnapshotQueueFull = errors.New("snapshot queue full")

	// ErrNilRecord rejects nil decision records.
	ErrNilRecord = errors.New("nil decision record")

	// ErrEmptyRecordID rejects reward attributions without a record id.
	ErrEmptyRecordID = errors.New("empty record id")
)

// recordOp is one unit of record-queue work: an insert when rec is set, a
// reward attribution when rewardID is set. Both kinds share one queue so a
// record always reaches the database before its own reward does.
type recordOp struct {
	rec      *core.DecisionRecord
	rewardID string
	reward   float64
}

type snapshotOp struct {
	userID  string
	version int
	payload []byte
}

// recordSink and snapshotSink are the writer's downstreams. DecisionLog and
// SnapshotStore satisfy them.
type recordSink interface {
	InsertBatch(ctx context.Context, recs []*core.DecisionRecord) error
	AttributeReward(ctx context.Context, id string, reward float64) error
}

type snapshotSink interface {
	Put(ctx context.Context, userID string, version int, payload []byte) error
}

// Writer decouples the decision pipeline from storage. Producers enqueue
// records, rewards and snapshots; a single goroutine batches them into the
// decision log and the snapshot store.
//
// Records block producers for at most the enqueue deadline, then drop.
// Snapshots drop immediately on a full queue. Above the record queue's
// high-water mark only a sample of records keeps its pipeline trace; model
// state is never affected.
type Writer struct {
	cfg       config.PersistenceConfig
	records   chan recordOp
	snapshots chan snapshotOp
	sink      recordSink
	snaps     snapshotSink

	limiter  *rate.Limiter
	traceSeq atomic.Uint64
	sampling atomic.Bool

	log zerolog.Logger
}

// NewWriter builds a writer over the given sinks. Zero config fields take
// the production defaults.
func NewWriter(cfg config.PersistenceConfig, sink recordSink, snaps snapshotSink) *Writer {
	if cfg.RecordQueueSize <= 0 {
		cfg.RecordQueueSize = 1024
	}
	if cfg.SnapshotQueueSize <= 0 {
		cfg.SnapshotQueueSize = 256
	}
	if cfg.RecordQueueHighWater <= 0 {
		cfg.RecordQueueHighWater = cfg.RecordQueueSize * 3 / 4
	}
	if cfg.TraceSampleN <= 0 {
		cfg.TraceSampleN = 10
	}
	if cfg.EnqueueDeadline <= 0 {
		cfg.EnqueueDeadline = 250 * time.Millisecond
	}

	return &Writer{
		cfg:       cfg,
		records:   make(chan recordOp, cfg.RecordQueueSize),
		snapshots: make(chan snapshotOp, cfg.SnapshotQueueSize),
		sink:      sink,
		snaps:     snaps,
		limiter:   rate.NewLimiter(rate.Limit(cfg.TraceSampleN), cfg.TraceSampleN),
		log:       logging.WithComponent("store-writer"),
	}
}

// EnqueueRecord queues rec for insertion. When the queue stays full past
// the enqueue deadline the record is dropped and counted; the pipeline
// never waits on storage for longer than that.
func (w *Writer) EnqueueRecord(ctx context.Context, rec *core.DecisionRecord) error {
	if rec == nil {
		return ErrNilRecord
	}
	return w.enqueue(ctx, recordOp{rec: w.sampleTrace(rec)})
}

// EnqueueReward queues the write-once reward attribution for a previously
// enqueued record. It rides the record queue, so the insert lands first.
func (w *Writer) EnqueueReward(ctx context.Context, recordID string, reward float64) error {
	if recordID == "" {
		return ErrEmptyRecordID
	}
	return w.enqueue(ctx, recordOp{rewardID: recordID, reward: reward})
}

func (w *Writer) enqueue(ctx context.Context, op recordOp) error {
	select {
	case w.records <- op:
		metrics.RecordQueueDepth.Set(float64(len(w.records)))
		return nil
	default:
	}

	timer := time.NewTimer(w.cfg.EnqueueDeadline)
	defer timer.Stop()

	select {
	case w.records <- op:
		metrics.RecordQueueDepth.Set(float64(len(w.records)))
		return nil
	case <-ctx.Done():
		metrics.RecordsDropped.Inc()
		return ctx.Err()
	case <-timer.C:
		metrics.RecordsDropped.Inc()
		w.log.Warn().
			Dur("deadline", w.cfg.EnqueueDeadline).
			Msg("Record queue full past deadline, dropping")
		return ErrRecordQueueFull
	}
}

// EnqueueSnapshot queues a full bundle snapshot. Snapshots are idempotent,
// so overflow just drops this one.
func (w *Writer) EnqueueSnapshot(userID string, version int, payload []byte) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}

	select {
	case w.snapshots <- snapshotOp{userID: userID, version: version, payload: payload}:
		metrics.SnapshotQueueDepth.Set(float64(len(w.snapshots)))
		return nil
	default:
		metrics.SnapshotsDropped.Inc()
		return ErrSnapshotQueueFull
	}
}

// Serve drains both queues until ctx is cancelled, then flushes whatever is
// still queued before returning.
func (w *Writer) Serve(ctx context.Context) error {
	w.log.Info().
		Int("record_queue", cap(w.records)).
		Int("snapshot_queue", cap(w.snapshots)).
		Int("high_water", w.cfg.RecordQueueHighWater).
		Msg("Store writer started")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case op := <-w.records:
			w.flushRecords(w.collect(op))
		case snap := <-w.snapshots:
			w.writeSnapshot(snap)
		}
	}
}

// String implements suture's namer.
func (w *Writer) String() string {
	return "store-writer"
}

// sampleTrace strips rec's pipeline trace while the queue sits above its
// high-water mark, keeping the first of every TraceSampleN records and at
// most TraceSampleN traces a second.
func (w *Writer) sampleTrace(rec *core.DecisionRecord) *core.DecisionRecord {
	if len(w.records) < w.cfg.RecordQueueHighWater {
		if w.sampling.Swap(false) {
			metrics.SampledTracingActive.Set(0)
			w.log.Info().Msg("Record queue recovered, tracing fully again")
		}
		return rec
	}

	if !w.sampling.Swap(true) {
		metrics.SampledTracingActive.Set(1)
		w.log.Warn().
			Int("high_water", w.cfg.RecordQueueHighWater).
			Msg("Record queue above high water, sampling traces")
	}

	if len(rec.Trace) == 0 {
		return rec
	}

	n := w.traceSeq.Add(1)
	if (n-1)%uint64(w.cfg.TraceSampleN) == 0 && w.limiter.Allow() {
		return rec
	}

	metrics.TracesSampledOut.Inc()
	stripped := *rec
	stripped.Trace = nil
	return &stripped
}

// collect gathers whatever is already queued behind first, up to batchSize,
// without blocking.
func (w *Writer) collect(first recordOp) []recordOp {
	batch := make([]recordOp, 1, batchSize)
	batch[0] = first

	for len(batch) < batchSize {
		select {
		case op := <-w.records:
			batch = append(batch, op)
		default:
			metrics.RecordQueueDepth.Set(float64(len(w.records)))
			return batch
		}
	}

	metrics.RecordQueueDepth.Set(float64(len(w.records)))
	return batch
}

// flushRecords inserts the batch's records in one transaction, then applies
// its reward attributions in queue order. Inserts run first so a reward in
// the same batch always finds its record.
func (w *Writer) flushRecords(batch []recordOp) {
	recs := make([]*core.DecisionRecord, 0, len(batch))
	for _, op := range batch {
		if op.rec != nil {
			recs = append(recs, op.rec)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if len(recs) > 0 {
		if err := w.sink.InsertBatch(ctx, recs); err != nil {
			metrics.RecordsDropped.Add(float64(len(recs)))
			w.log.Error().
				Err(err).
				Int("records", len(recs)).
				Msg("Decision record batch failed")
		} else {
			metrics.RecordsWritten.Add(float64(len(recs)))
		}
	}

	for _, op := range batch {
		if op.rec != nil || op.rewardID == "" {
			continue
		}

		err := w.sink.AttributeReward(ctx, op.rewardID, op.reward)
		switch {
		case err == nil:
		case errors.Is(err, database.ErrRewardAlreadySet),
			errors.Is(err, database.ErrRecordNotFound):
			w.log.Debug().
				Err(err).
				Str("record_id", op.rewardID).
				Msg("Reward attribution skipped")
		default:
			w.log.Warn().
				Err(err).
				Str("record_id", op.rewardID).
				Msg("Reward attribution failed")
		}
	}
}

func (w *Writer) writeSnapshot(snap snapshotOp) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := w.snaps.Put(ctx, snap.userID, snap.version, snap.payload); err != nil {
		metrics.SnapshotsDropped.Inc()
		w.log.Error().
			Err(err).
			Str("user_id", snap.userID).
			Msg("Snapshot write failed")
		return
	}

	metrics.SnapshotsWritten.Inc()
	metrics.SnapshotQueueDepth.Set(float64(len(w.snapshots)))
}

// drain flushes everything still queued at shutdown, bounded by
// drainTimeout.
func (w *Writer) drain() {
	deadline := time.Now().Add(drainTimeout)

	for time.Now().Before(deadline) {
		select {
		case op := <-w.records:
			w.flushRecords(w.collect(op))
		case snap := <-w.snapshots:
			w.writeSnapshot(snap)
		default:
			w.log.Info().Msg("Store writer drained")
			return
		}
	}

	w.log.Warn().
		Int("records", len(w.records)).
		Int("snapshots", len(w.snapshots)).
		Msg("Store writer drain timed out")
}
