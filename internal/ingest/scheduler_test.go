package ingest

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/checkpoint"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

type fakeAdapter struct {
	channelType model.Channel
	queue       []string
	messages    map[string]model.InboundMessage
	processed   []string
	whitelist   map[string]bool
}

func (f *fakeAdapter) Connect(ctx context.Context) error    { return nil }
func (f *fakeAdapter) Disconnect(ctx context.Context) error { return nil }
func (f *fakeAdapter) ChannelType() model.Channel           { return f.channelType }

func (f *fakeAdapter) PollNewMessageIDs(ctx context.Context) ([]string, error) {
	ids := f.queue
	f.queue = nil
	return ids, nil
}

func (f *fakeAdapter) FetchMessage(ctx context.Context, externalID string) (model.InboundMessage, error) {
	msg, ok := f.messages[externalID]
	if !ok {
		return model.InboundMessage{}, errors.New("not found")
	}
	return msg, nil
}

func (f *fakeAdapter) MarkProcessed(ctx context.Context, externalID string) error {
	f.processed = append(f.processed, externalID)
	return nil
}

func (f *fakeAdapter) IsSenderAllowed(sender string) bool {
	if f.whitelist == nil {
		return true
	}
	return f.whitelist[sender]
}

type fakeStore struct {
	mu        sync.Mutex
	records   map[string]model.MessageLedgerEntry
	processed map[string]bool
	attachments []string
	runs      []model.Run
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]model.MessageLedgerEntry), processed: make(map[string]bool)}
}

func ledgerKey(ch model.Channel, normalizedMessageID string) string {
	return string(ch) + "|" + normalizedMessageID
}

func (f *fakeStore) GetMessageRecord(ctx context.Context, ch model.Channel, normalizedMessageID string) (model.MessageLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[ledgerKey(ch, normalizedMessageID)]
	if !ok {
		return model.MessageLedgerEntry{}, errors.New("not found")
	}
	return rec, nil
}

func (f *fakeStore) InsertMessageRecordIfAbsent(ctx context.Context, rec model.MessageLedgerEntry, normalizedMessageID string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ledgerKey(rec.Channel, normalizedMessageID)
	if existing, ok := f.records[key]; ok {
		return false, existing.RecordID, nil
	}
	rec.RecordID = "rec-" + normalizedMessageID
	f.records[key] = rec
	return true, rec.RecordID, nil
}

func (f *fakeStore) MarkMessageProcessed(ctx context.Context, recordID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[recordID] = true
	for k, rec := range f.records {
		if rec.RecordID == recordID {
			rec.Processed = true
			f.records[k] = rec
		}
	}
	return nil
}

func (f *fakeStore) InsertAttachmentFile(ctx context.Context, messageID, filePath string, at time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachments = append(f.attachments, filePath)
	return "att-" + filePath, nil
}

func (f *fakeStore) UpsertRun(ctx context.Context, run model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

type fakeBlob struct {
	saved map[string][]byte
}

func (b *fakeBlob) Save(fileBytes []byte, baseDir, subDir, filename string) (string, error) {
	if b.saved == nil {
		b.saved = make(map[string][]byte)
	}
	path := baseDir + "/" + filename
	b.saved[path] = fileBytes
	return path, nil
}

func testEngine(t *testing.T) *orchestrator.Engine {
	t.Helper()
	nodes := map[orchestrator.NodeName]orchestrator.NodeFunc{
		orchestrator.NodeCheckIdempotency: func(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
			status := model.StatusSuccess
			return model.Delta{FinalStatus: &status}, "", nil
		},
	}
	return orchestrator.NewEngine(nodes, &orchestrator.Deps{}, checkpoint.NewMemoryStore(), nil, nil)
}

func TestSchedulerProcessOneWithAttachmentDispatches(t *testing.T) {
	adapter := &fakeAdapter{
		channelType: model.ChannelEmail,
		queue:       []string{"ext-1"},
		messages: map[string]model.InboundMessage{
			"ext-1": {
				MessageID:   "<msg-1@example.com>",
				SenderID:    "buyer@example.com",
				ExternalUID: "ext-1",
				Attachments: []model.Attachment{
					{AttachmentID: "a1", Filename: "po.pdf", ContentType: "application/pdf", Payload: []byte("%PDF-1.4")},
				},
			},
		},
	}
	store := newFakeStore()
	blob := &fakeBlob{}
	engine := testEngine(t)

	sched := NewScheduler([]Source{{Name: "email", Adapter: adapter}}, store, blob, engine, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sched.pollOnce(context.Background(), sched.Sources[0])

	if len(store.runs) == 0 {
		t.Fatalf("expected at least one run upserted")
	}
	if len(blob.saved) != 1 {
		t.Fatalf("expected one attachment saved, got %d", len(blob.saved))
	}
	if len(adapter.processed) != 1 || adapter.processed[0] != "ext-1" {
		t.Fatalf("expected provider-side mark-processed call, got %v", adapter.processed)
	}
	rec, err := store.GetMessageRecord(context.Background(), model.ChannelEmail, "msg-1@example.com")
	if err != nil || !rec.Processed {
		t.Fatalf("expected ledger row marked processed, got %+v err=%v", rec, err)
	}
}

func TestSchedulerSkipsMessageWithNoAttachment(t *testing.T) {
	adapter := &fakeAdapter{
		channelType: model.ChannelEmail,
		queue:       []string{"ext-2"},
		messages: map[string]model.InboundMessage{
			"ext-2": {MessageID: "msg-2@example.com", SenderID: "buyer@example.com", ExternalUID: "ext-2"},
		},
	}
	store := newFakeStore()
	blob := &fakeBlob{}
	engine := testEngine(t)

	sched := NewScheduler([]Source{{Name: "email", Adapter: adapter}}, store, blob, engine, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sched.pollOnce(context.Background(), sched.Sources[0])

	if len(store.runs) != 0 {
		t.Fatalf("expected no orchestration run for an attachment-less message, got %d", len(store.runs))
	}
	rec, err := store.GetMessageRecord(context.Background(), model.ChannelEmail, "msg-2@example.com")
	if err != nil || !rec.Processed {
		t.Fatalf("expected ledger row marked processed (ignored), got %+v err=%v", rec, err)
	}
}

func TestSchedulerRejectsUnwhitelistedSender(t *testing.T) {
	adapter := &fakeAdapter{
		channelType: model.ChannelEmail,
		queue:       []string{"ext-3"},
		messages: map[string]model.InboundMessage{
			"ext-3": {MessageID: "msg-3@example.com", SenderID: "stranger@example.com", ExternalUID: "ext-3"},
		},
		whitelist: map[string]bool{"friend@example.com": true},
	}
	store := newFakeStore()
	blob := &fakeBlob{}
	engine := testEngine(t)

	sched := NewScheduler([]Source{{Name: "email", Adapter: adapter}}, store, blob, engine, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sched.pollOnce(context.Background(), sched.Sources[0])

	if len(store.runs) != 0 {
		t.Fatalf("expected unwhitelisted sender to be skipped, got %d runs", len(store.runs))
	}
	if _, err := store.GetMessageRecord(context.Background(), model.ChannelEmail, "msg-3@example.com"); err == nil {
		t.Fatalf("expected no ledger row for a rejected sender")
	}
}

func TestSchedulerSkipsAlreadyProcessedMessage(t *testing.T) {
	adapter := &fakeAdapter{
		channelType: model.ChannelEmail,
		queue:       []string{"ext-4"},
		messages: map[string]model.InboundMessage{
			"ext-4": {MessageID: "msg-4@example.com", SenderID: "buyer@example.com", ExternalUID: "ext-4"},
		},
	}
	store := newFakeStore()
	store.records[ledgerKey(model.ChannelEmail, "msg-4@example.com")] = model.MessageLedgerEntry{
		RecordID: "rec-existing", Channel: model.ChannelEmail, Processed: true,
	}
	blob := &fakeBlob{}
	engine := testEngine(t)

	sched := NewScheduler([]Source{{Name: "email", Adapter: adapter}}, store, blob, engine, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sched.pollOnce(context.Background(), sched.Sources[0])

	if len(store.runs) != 0 {
		t.Fatalf("expected already-processed message to be skipped, got %d runs", len(store.runs))
	}
}
