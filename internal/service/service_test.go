package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/contracts/db"
	mqcontracts "github.com/koval-yurko/emails-flow/contracts/mq"
	"github.com/koval-yurko/emails-flow/internal/config"
)

type fakeSearcher struct {
	uids               []uint32
	err                error
	folder, fromFilter string
}

func (f *fakeSearcher) Search(_ context.Context, folder, fromFilter string) ([]uint32, error) {
	f.folder, f.fromFilter = folder, fromFilter
	return f.uids, f.err
}

type sent struct {
	RoutingKey string
	Payload    any
}

type fakePublisher struct {
	sent   []sent
	failOn map[int]bool // zero-based call index
	calls  int
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, payload any) error {
	defer func() { f.calls++ }()
	if f.failOn[f.calls] {
		return errors.New("amqp: publish not confirmed")
	}
	f.sent = append(f.sent, sent{RoutingKey: routingKey, Payload: payload})
	return nil
}

var listerDefaults = config.ListerConfig{Folder: "TLDR", FromFilter: "TLDR Dev <dan@tldrnewsletter.com>"}

func TestListerEmitsOneMessagePerUID(t *testing.T) {
	mb := &fakeSearcher{uids: []uint32{101, 102}}
	pub := &fakePublisher{}
	s := NewListerService(mb, pub, listerDefaults, zap.NewNop())

	filter := "a@b.com"
	got, err := s.List(context.Background(), ListRequest{Folder: "INBOX", FromFilter: &filter})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if mb.folder != "INBOX" || mb.fromFilter != "a@b.com" {
		t.Errorf("searched %s/%s", mb.folder, mb.fromFilter)
	}
	want := []sent{
		{mqcontracts.EmailReadQueue, mqcontracts.EmailReadPayload{MessageID: "101", Folder: "INBOX"}},
		{mqcontracts.EmailReadQueue, mqcontracts.EmailReadPayload{MessageID: "102", Folder: "INBOX"}},
	}
	if diff := cmp.Diff(want, pub.sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
	if got != (Summary{Found: 2, Sent: 2}) {
		t.Errorf("summary = %+v", got)
	}
}

func TestListerDefaults(t *testing.T) {
	mb := &fakeSearcher{}
	s := NewListerService(mb, &fakePublisher{}, listerDefaults, zap.NewNop())

	if _, err := s.List(context.Background(), ListRequest{}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if mb.folder != "TLDR" || mb.fromFilter != "TLDR Dev <dan@tldrnewsletter.com>" {
		t.Errorf("searched %s/%s, want defaults", mb.folder, mb.fromFilter)
	}

	empty := ""
	if _, err := s.List(context.Background(), ListRequest{FromFilter: &empty}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if mb.fromFilter != "" {
		t.Errorf("explicit empty filter replaced by %q", mb.fromFilter)
	}
}

func TestListerSendFailuresAreIndependent(t *testing.T) {
	pub := &fakePublisher{failOn: map[int]bool{1: true}}
	s := NewListerService(&fakeSearcher{uids: []uint32{1, 2, 3}}, pub, listerDefaults, zap.NewNop())

	got, err := s.List(context.Background(), ListRequest{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got != (Summary{Found: 3, Sent: 2, Failed: 1}) {
		t.Errorf("summary = %+v", got)
	}
	if len(pub.sent) != 2 {
		t.Errorf("sent = %d", len(pub.sent))
	}
}

func TestListerSearchError(t *testing.T) {
	s := NewListerService(&fakeSearcher{err: errors.New("dial imap: connection refused")}, &fakePublisher{}, listerDefaults, zap.NewNop())
	if _, err := s.List(context.Background(), ListRequest{}); err == nil {
		t.Error("expected error")
	}
}

type fakeUnprocessed struct {
	emails []db.Email
	limit  int
}

func (f *fakeUnprocessed) ListUnprocessed(_ context.Context, limit int) ([]db.Email, error) {
	f.limit = limit
	if len(f.emails) > limit {
		return f.emails[:limit], nil
	}
	return f.emails, nil
}

func TestScannerEmitsRowIDs(t *testing.T) {
	repo := &fakeUnprocessed{emails: []db.Email{{ID: "r1"}, {ID: "r2"}, {ID: "r3"}}}
	pub := &fakePublisher{}
	s := NewScannerService(repo, pub, 1, zap.NewNop())

	got, err := s.Scan(context.Background(), ScanRequest{Count: 2})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []sent{
		{mqcontracts.EmailAnalyzeQueue, mqcontracts.EmailAnalyzePayload{RowID: "r1"}},
		{mqcontracts.EmailAnalyzeQueue, mqcontracts.EmailAnalyzePayload{RowID: "r2"}},
	}
	if diff := cmp.Diff(want, pub.sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
	if got != (Summary{Found: 2, Sent: 2}) {
		t.Errorf("summary = %+v", got)
	}
}

func TestScannerDefaultCount(t *testing.T) {
	repo := &fakeUnprocessed{}
	s := NewScannerService(repo, &fakePublisher{}, 0, zap.NewNop())

	if _, err := s.Scan(context.Background(), ScanRequest{}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if repo.limit != 1 {
		t.Errorf("limit = %d, want 1", repo.limit)
	}
}
