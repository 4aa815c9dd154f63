// Package ingest implements spec.md §4.2 C2: the per-channel ingestion
// scheduler that turns a channel.Adapter's raw messages into orchestrator
// runs. Grounded on the teacher's internal/app.PollLoop (single ticker,
// sequential per-source poll, best-effort continue-on-error), generalized
// from one hardcoded JMAP source to an arbitrary set of channel.Adapter
// instances.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loudon84/mcs-orchestrator/internal/channel"
	"github.com/loudon84/mcs-orchestrator/internal/emailaddr"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/observability"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// MessageStore is the narrow slice of internal/store.Store the scheduler
// needs for at-most-once dispatch bookkeeping.
type MessageStore interface {
	GetMessageRecord(ctx context.Context, ch model.Channel, normalizedMessageID string) (model.MessageLedgerEntry, error)
	InsertMessageRecordIfAbsent(ctx context.Context, rec model.MessageLedgerEntry, normalizedMessageID string) (bool, string, error)
	MarkMessageProcessed(ctx context.Context, recordID string, at time.Time) error
	InsertAttachmentFile(ctx context.Context, messageID, filePath string, at time.Time) (string, error)
	UpsertRun(ctx context.Context, run model.Run) error
}

// BlobSaver persists attachment bytes; internal/blobclient.Client
// satisfies this.
type BlobSaver interface {
	Save(fileBytes []byte, baseDir, subDir, filename string) (string, error)
}

// Source pairs one adapter with its poll interval override (0 means use
// the scheduler default).
type Source struct {
	Name     string
	Adapter  channel.Adapter
	Interval time.Duration
}

// Scheduler runs one cooperative poll loop per channel (spec.md §4.2
// "channels poll independently; within a channel, messages are processed
// sequentially").
type Scheduler struct {
	Sources         []Source
	Store           MessageStore
	Blob            BlobSaver
	Engine          *orchestrator.Engine
	DefaultInterval time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

func NewScheduler(sources []Source, store MessageStore, blob BlobSaver, engine *orchestrator.Engine, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		Sources:         sources,
		Store:           store,
		Blob:            blob,
		Engine:          engine,
		DefaultInterval: 60 * time.Second,
		Logger:          logger,
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, polling every source on its own ticker, until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.Sources) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan struct{}, len(s.Sources))
	for _, src := range s.Sources {
		go func(src Source) {
			s.runSource(ctx, src)
			done <- struct{}{}
		}(src)
	}
	for range s.Sources {
		<-done
	}
	return ctx.Err()
}

func (s *Scheduler) runSource(ctx context.Context, src Source) {
	interval := src.Interval
	if interval <= 0 {
		interval = s.DefaultInterval
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}

	if err := src.Adapter.Connect(ctx); err != nil {
		s.log().Error("channel connect failed", "channel", src.Name, "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.pollOnce(ctx, src)
		select {
		case <-ctx.Done():
			_ = src.Adapter.Disconnect(ctx)
			return
		case <-ticker.C:
		}
	}
}

// PollAllOnce sweeps every configured channel exactly once, synchronously.
// It backs the admin surface's `trigger_poll()` endpoint (spec.md §4.10
// "force a channel sweep").
func (s *Scheduler) PollAllOnce(ctx context.Context) {
	for _, src := range s.Sources {
		s.pollOnce(ctx, src)
	}
}

// pollOnce runs spec.md §4.2's six steps for one channel, once.
func (s *Scheduler) pollOnce(ctx context.Context, src Source) {
	logger := s.log().With("channel", src.Name)

	ids, err := src.Adapter.PollNewMessageIDs(ctx)
	if err != nil {
		logger.Error("poll_new_message_ids failed", "error", err)
		return
	}

	for _, externalID := range ids {
		if err := s.processOne(ctx, src, externalID); err != nil {
			logger.Error("message processing failed", "external_uid", externalID, "error", err)
		}
	}
}

func (s *Scheduler) processOne(ctx context.Context, src Source, externalID string) error {
	logger := s.log().With("channel", src.Name, "external_uid", externalID)

	msg, err := src.Adapter.FetchMessage(ctx, externalID)
	if err != nil {
		return fmt.Errorf("fetch_message: %w", err)
	}

	if !src.Adapter.IsSenderAllowed(msg.SenderID) {
		logger.Info("sender not whitelisted, skipping", "sender_id", msg.SenderID)
		return nil
	}

	normalizedMessageID := emailaddr.NormalizeMessageID(msg.MessageID)
	logger = logger.With("message_id", normalizedMessageID)

	existing, err := s.Store.GetMessageRecord(ctx, src.Adapter.ChannelType(), normalizedMessageID)
	if err == nil {
		if existing.Processed {
			logger.Info("already processed, skipping")
			return nil
		}
	}

	inserted, recordID, err := s.Store.InsertMessageRecordIfAbsent(ctx, model.MessageLedgerEntry{
		Channel:     src.Adapter.ChannelType(),
		MessageID:   msg.MessageID,
		Account:     msg.Account,
		ExternalUID: externalID,
		SenderID:    msg.SenderID,
		ReceivedAt:  msg.ReceivedAt,
	}, normalizedMessageID)
	if err != nil {
		return fmt.Errorf("insert message ledger row: %w", err)
	}
	_ = inserted

	if err := s.persistAttachments(ctx, normalizedMessageID, msg.Attachments); err != nil {
		return fmt.Errorf("persist attachments: %w", err)
	}

	if len(msg.PDFAttachments()) == 0 {
		logger.Info("no pdf attachment, marking ignored")
		return s.Store.MarkMessageProcessed(ctx, recordID, s.now())
	}

	if _, err := s.Dispatch(ctx, msg); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	if err := s.Store.MarkMessageProcessed(ctx, recordID, s.now()); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if err := src.Adapter.MarkProcessed(ctx, externalID); err != nil {
		logger.Warn("provider-side mark-processed failed", "error", err)
	}
	return nil
}

// persistAttachments saves every fetched attachment's bytes to the blob
// store under {message_id}/{filename}, resolving collisions (spec.md
// §4.2 step 3). Attachments with no payload are skipped with a warning,
// matching the channel adapters' own lazy-fetch contract.
func (s *Scheduler) persistAttachments(ctx context.Context, messageID string, attachments []model.Attachment) error {
	for i, att := range attachments {
		if len(att.Payload) == 0 {
			s.log().Warn("attachment has empty payload, skipping", "message_id", messageID, "filename", att.Filename)
			continue
		}
		relPath, err := s.Blob.Save(att.Payload, messageID, "", att.Filename)
		if err != nil {
			return err
		}
		attachments[i].BlobPath = relPath
		if _, err := s.Store.InsertAttachmentFile(ctx, messageID, relPath, s.now()); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch hands the canonical message to C4 in-process (spec.md §4.2 step
// 4: "hand off to C4 in-process with the new InboundMessage"). Exported so
// the admin surface's synchronous run(event) endpoint (spec.md §4.10) can
// drive a single message through the same path the scheduler uses.
func (s *Scheduler) Dispatch(ctx context.Context, msg model.InboundMessage) (*model.RunState, error) {
	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)

	state := &model.RunState{
		RunID:      runID,
		EmailEvent: msg,
		StartedAt:  s.now(),
	}

	if err := s.Store.UpsertRun(ctx, model.Run{
		RunID:     runID,
		MessageID: msg.MessageID,
		Status:    model.StatusRunning,
		StartedAt: state.StartedAt,
		State:     state,
	}); err != nil {
		return nil, fmt.Errorf("upsert run: %w", err)
	}

	finalState, err := s.Engine.Run(ctx, runID, orchestrator.NodeCheckIdempotency, state)
	if err != nil {
		return nil, fmt.Errorf("orchestration run: %w", err)
	}

	status := model.StatusRunning
	if finalState.FinalStatus != nil {
		status = *finalState.FinalStatus
	}
	finishedAt := s.now()
	if err := s.Store.UpsertRun(ctx, model.Run{
		RunID:      runID,
		MessageID:  msg.MessageID,
		Status:     status,
		StartedAt:  state.StartedAt,
		FinishedAt: &finishedAt,
		State:      finalState,
		Errors:     finalState.Errors,
		Warnings:   finalState.Warnings,
	}); err != nil {
		return finalState, err
	}
	return finalState, nil
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Scheduler) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
