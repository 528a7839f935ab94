package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBotAPI serves one batch of updates, then empty batches.
type fakeBotAPI struct {
	mu      sync.Mutex
	batch   []update
	sent    []string
	served  bool
	lastOff string
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			f.mu.Lock()
			f.lastOff = r.URL.Query().Get("offset")
			batch := f.batch
			if f.served {
				batch = nil
			}
			f.served = true
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": batch})
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload struct {
				Text string `json:"text"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			f.mu.Lock()
			f.sent = append(f.sent, payload.Text)
			f.mu.Unlock()
			w.Write([]byte(`{"ok":true}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}
}

func newTestClient(t *testing.T, api *fakeBotAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BotToken: "test-token", BaseURL: srv.URL, PollTimeoutSeconds: 1})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func listenBriefly(t *testing.T, c *Client, api *fakeBotAPI, onMessage MessageHandler, onCommand CommandHandler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = c.Listen(ctx, "@alerts", 42, onMessage, onCommand)
}

func chatFor(username string, id int64) chat {
	return chat{ID: id, Username: username, Type: "channel"}
}

func TestListen_DeliversOnlyWatchedChannel(t *testing.T) {
	api := &fakeBotAPI{batch: []update{
		{UpdateID: 1, ChannelPost: &message{Text: "Buying ITC 430-435 SL 420", Chat: chatFor("alerts", 100)}},
		{UpdateID: 2, ChannelPost: &message{Text: "noise", Chat: chatFor("otherchannel", 101)}},
		{UpdateID: 3, Message: &message{Text: "dm chatter", Chat: chat{ID: 7, Type: "private"}}},
	}}
	c := newTestClient(t, api)

	var got []string
	listenBriefly(t, c, api, func(text string) { got = append(got, text) }, nil)

	if len(got) != 1 || got[0] != "Buying ITC 430-435 SL 420" {
		t.Fatalf("delivered: %v", got)
	}
}

func TestListen_RoutesAdminCommandsAndReplies(t *testing.T) {
	api := &fakeBotAPI{batch: []update{
		{UpdateID: 5, Message: &message{Text: "/map ADANI PORTS ADANIPORTS", Chat: chat{ID: 42, Type: "private"}}},
		{UpdateID: 6, Message: &message{Text: "/map X Y", Chat: chat{ID: 99, Type: "private"}}}, // not admin
	}}
	c := newTestClient(t, api)

	var commands []string
	listenBriefly(t, c, api, func(string) {}, func(cmd string) string {
		commands = append(commands, cmd)
		return "mapped"
	})

	if len(commands) != 1 || commands[0] != "/map ADANI PORTS ADANIPORTS" {
		t.Fatalf("commands: %v", commands)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 1 || api.sent[0] != "mapped" {
		t.Fatalf("replies: %v", api.sent)
	}
}

func TestListen_AdvancesOffset(t *testing.T) {
	api := &fakeBotAPI{batch: []update{
		{UpdateID: 11, ChannelPost: &message{Text: "hello", Chat: chatFor("alerts", 100)}},
	}}
	c := newTestClient(t, api)

	listenBriefly(t, c, api, func(string) {}, nil)

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.lastOff != "12" {
		t.Fatalf("offset not advanced past processed update: %q", api.lastOff)
	}
}

func TestSend_ErrorsOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"description":"bot was kicked"}`))
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BotToken: "t", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Send(1, "hi"); err == nil {
		t.Fatal("want error on 403")
	}
}

func TestNewClient_RequiresToken(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("want error for missing token")
	}
}
