package mq

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeEmailRead(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    EmailReadPayload
		wantErr bool
	}{
		{name: "string uid", body: `{"message_id":"101","folder":"TLDR"}`, want: EmailReadPayload{MessageID: "101", Folder: "TLDR"}},
		{name: "numeric uid", body: `{"message_id":102,"folder":"INBOX"}`, want: EmailReadPayload{MessageID: "102", Folder: "INBOX"}},
		{name: "missing folder", body: `{"message_id":"1"}`, wantErr: true},
		{name: "missing uid", body: `{"folder":"TLDR"}`, wantErr: true},
		{name: "non numeric uid", body: `{"message_id":"abc","folder":"TLDR"}`, wantErr: true},
		{name: "negative uid", body: `{"message_id":-1,"folder":"TLDR"}`, wantErr: true},
		{name: "not json", body: `message_id=1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got EmailReadPayload
			err := Decode([]byte(tt.body), &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEmailReadEncodesUIDAsString(t *testing.T) {
	b, err := json.Marshal(EmailReadPayload{MessageID: "101", Folder: "TLDR"})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"message_id":"101","folder":"TLDR"}` {
		t.Errorf("encoded = %s", b)
	}
}

func TestDecodeMissingFieldIsInvalidPayload(t *testing.T) {
	var p PostStorePayload
	err := Decode([]byte(`{"email_id":"e1","title":"t"}`), &p)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}

	var a EmailAnalyzePayload
	if err := Decode([]byte(`{}`), &a); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestDecodePostStoreOptionalCollections(t *testing.T) {
	var p PostStorePayload
	if err := Decode([]byte(`{"email_id":"e1","url":"https://x","title":"T","text":"body"}`), &p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(p.Tags) != 0 || len(p.NewTags) != 0 {
		t.Errorf("expected empty collections, got %+v", p)
	}
}
