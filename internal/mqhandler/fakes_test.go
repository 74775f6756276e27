package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/koval-yurko/emails-flow/contracts/db"
	"github.com/koval-yurko/emails-flow/internal/llm"
	"github.com/koval-yurko/emails-flow/internal/mailbox"
	"github.com/koval-yurko/emails-flow/internal/repository"
	"github.com/koval-yurko/emails-flow/pkg/mq"
)

var errIMAP = errors.New("imap: connection reset")

func message(id string, body any) mq.Message {
	b, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return mq.Message{ID: id, Body: b}
}

type fakeMailbox struct {
	messages map[uint32]*mailbox.Message
	failUIDs map[uint32]bool
	seen     []uint32
}

func (f *fakeMailbox) Fetch(_ context.Context, _ string, uid uint32) (*mailbox.Message, error) {
	if f.failUIDs[uid] {
		return nil, errIMAP
	}
	m, ok := f.messages[uid]
	if !ok {
		return nil, mailbox.ErrMessageNotFound
	}
	return m, nil
}

func (f *fakeMailbox) MarkSeen(_ context.Context, _ string, uid uint32) error {
	f.seen = append(f.seen, uid)
	return nil
}

// fakeEmails is an in-memory emails table keyed by message_id.
type fakeEmails struct {
	mu        sync.Mutex
	byID      map[string]*db.Email
	byMsgID   map[string]string
	upsertErr error
	markErr   error
	marked    []string
}

func newFakeEmails() *fakeEmails {
	return &fakeEmails{byID: map[string]*db.Email{}, byMsgID: map[string]string{}}
}

func (f *fakeEmails) UpsertByMessageID(_ context.Context, e *db.Email) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	id, ok := f.byMsgID[e.MessageID]
	if !ok {
		id = fmt.Sprintf("row-%d", len(f.byID)+1)
		f.byMsgID[e.MessageID] = id
	}
	stored := *e
	stored.ID = id
	stored.Status = db.EmailStatusCreated
	f.byID[id] = &stored
	return id, nil
}

func (f *fakeEmails) GetByID(_ context.Context, id string) (*db.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	c := *e
	return &c, nil
}

func (f *fakeEmails) MarkProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.byID[id].Status = db.EmailStatusProcessed
	f.marked = append(f.marked, id)
	return nil
}

type fakeExtractor struct {
	posts []llm.PostItem
	err   error
	calls int
}

func (f *fakeExtractor) Extract(context.Context, string) ([]llm.PostItem, error) {
	f.calls++
	return f.posts, f.err
}

type publishedMsg struct {
	routingKey string
	payload    any
}

type fakePublisher struct {
	published []publishedMsg
	failAfter int // fail once this many messages were sent; <0 never
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, payload any) error {
	if f.failAfter >= 0 && len(f.published) >= f.failAfter {
		return errors.New("amqp: channel closed")
	}
	f.published = append(f.published, publishedMsg{routingKey: routingKey, payload: payload})
	return nil
}

type fakeDeduper struct {
	held     map[string]bool
	released []string
}

func (f *fakeDeduper) AcquireOnce(_ context.Context, handler, id string) bool {
	key := handler + ":" + id
	if f.held[key] {
		return false
	}
	f.held[key] = true
	return true
}

func (f *fakeDeduper) Release(_ context.Context, handler, id string) {
	delete(f.held, handler+":"+id)
	f.released = append(f.released, id)
}

// fakeTags resolves by (type, slug) the way the tags table does.
type fakeTags struct {
	ids   map[string]string
	calls int
	err   error
}

func (f *fakeTags) ResolveOrCreate(_ context.Context, tagType db.TagType, name string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	key := string(tagType) + "/" + db.Slugify(name)
	if id, ok := f.ids[key]; ok {
		return id, nil
	}
	id := "tag:" + key
	f.ids[key] = id
	return id, nil
}

type fakePosts struct {
	byURL map[string]*db.Post
	links map[string]bool
	err   error
}

func newFakePosts() *fakePosts {
	return &fakePosts{byURL: map[string]*db.Post{}, links: map[string]bool{}}
}

func (f *fakePosts) UpsertByURL(_ context.Context, p *db.Post) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	stored := *p
	stored.ID = "post:" + p.URL
	f.byURL[p.URL] = &stored
	return stored.ID, nil
}

func (f *fakePosts) LinkTag(_ context.Context, postID, tagID string) error {
	f.links[postID+"|"+tagID] = true
	return nil
}

func (f *fakePosts) linksOf(postID string) []string {
	var out []string
	for k := range f.links {
		if p, tag, _ := strings.Cut(k, "|"); p == postID {
			out = append(out, tag)
		}
	}
	return out
}
