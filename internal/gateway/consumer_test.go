package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazelchat/hazelsync/internal/chatsync"
	"github.com/hazelchat/hazelsync/internal/models"
)

var wsUpgrader = websocket.Upgrader{}

type fakeIngestor struct {
	mu        sync.Mutex
	creates   []chatsync.IngestMessageInput
	updates   []chatsync.IngestMessageInput
	deletes   []chatsync.IngestMessageInput
	reactAdds []chatsync.IngestReactionInput
	reactRems []chatsync.IngestReactionInput
}

func (f *fakeIngestor) IngestMessageCreate(_ context.Context, in chatsync.IngestMessageInput) (chatsync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, in)
	return chatsync.Result{Status: chatsync.StatusCreated}, nil
}

func (f *fakeIngestor) IngestMessageUpdate(_ context.Context, in chatsync.IngestMessageInput) (chatsync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	return chatsync.Result{Status: chatsync.StatusUpdated}, nil
}

func (f *fakeIngestor) IngestMessageDelete(_ context.Context, in chatsync.IngestMessageInput) (chatsync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, in)
	return chatsync.Result{Status: chatsync.StatusDeleted}, nil
}

func (f *fakeIngestor) IngestReactionAdd(_ context.Context, in chatsync.IngestReactionInput) (chatsync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactAdds = append(f.reactAdds, in)
	return chatsync.Result{Status: chatsync.StatusCreated}, nil
}

func (f *fakeIngestor) IngestReactionRemove(_ context.Context, in chatsync.IngestReactionInput) (chatsync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactRems = append(f.reactRems, in)
	return chatsync.Result{Status: chatsync.StatusDeleted}, nil
}

func (f *fakeIngestor) snapshot() (creates, updates, deletes []chatsync.IngestMessageInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatsync.IngestMessageInput(nil), f.creates...),
		append([]chatsync.IngestMessageInput(nil), f.updates...),
		append([]chatsync.IngestMessageInput(nil), f.deletes...)
}

type fakeLinkResolver struct {
	mu      sync.Mutex
	links   []models.SyncChannelLink
	lookups []string
	err     error
}

func (f *fakeLinkResolver) FindActiveByExternalChannel(_ context.Context, externalChannelID string) ([]models.SyncChannelLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, externalChannelID)
	if f.err != nil {
		return nil, f.err
	}
	return f.links, nil
}

func (f *fakeLinkResolver) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lookups)
}

// gatewayScript plays the server side of one websocket session. session
// counts connections, starting at 1.
type gatewayScript func(conn *websocket.Conn, session int)

func newGatewayServer(t *testing.T, script gatewayScript) string {
	t.Helper()
	var sessions atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(conn, int(sessions.Add(1)))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	if err := conn.WriteJSON(v); err != nil {
		t.Errorf("server write: %v", err)
	}
}

func sendHello(t *testing.T, conn *websocket.Conn) {
	sendJSON(t, conn, map[string]any{"op": opHello, "d": map[string]any{"heartbeat_interval": 45000}})
}

func sendDispatch(t *testing.T, conn *websocket.Conn, seq int64, event string, data any) {
	sendJSON(t, conn, map[string]any{"op": opDispatch, "t": event, "s": seq, "d": data})
}

func readFrame(t *testing.T, conn *websocket.Conn) envelope {
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Errorf("server read: %v", err)
		return envelope{Op: -1}
	}
	return env
}

// readCommand returns the next client frame that is not a heartbeat.
func readCommand(t *testing.T, conn *websocket.Conn) envelope {
	for {
		env := readFrame(t, conn)
		if env.Op != opHeartbeat {
			return env
		}
	}
}

// handshake plays hello and consumes the identify plus the immediate first
// heartbeat, leaving the stream aligned for exact frame reads.
func handshake(t *testing.T, conn *websocket.Conn) {
	sendHello(t, conn)
	env := readFrame(t, conn)
	assert.Equal(t, opIdentify, env.Op)
	beat := readFrame(t, conn)
	assert.Equal(t, opHeartbeat, beat.Op)
}

// closeWith performs the server half of the closing handshake and drains the
// client's response frames.
func closeWith(t *testing.T, conn *websocket.Conn, code int, text string) {
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text)); err != nil {
		t.Errorf("server close: %v", err)
		return
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newTestConsumer(url string, links LinkResolver, worker Ingestor) *Consumer {
	c := NewConsumer(slog.Default(), Config{URL: url, Token: "bot-token", Intents: 33281}, links, worker)
	c.retryDelay = 10 * time.Millisecond
	return c
}

func startConsumer(t *testing.T, c *Consumer) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	return errCh
}

func waitStop(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop in time")
		return nil
	}
}

func bothWaysLink(connID string) models.SyncChannelLink {
	return models.SyncChannelLink{
		ID:                "cl-" + connID,
		SyncConnectionID:  connID,
		HazelChannelID:    "hazel-general",
		ExternalChannelID: "777000111",
		Direction:         models.DirectionBoth,
		IsActive:          true,
	}
}

func TestConsumerSessionLifecycle(t *testing.T) {
	links := &fakeLinkResolver{links: []models.SyncChannelLink{bothWaysLink("conn-1")}}
	ing := &fakeIngestor{}

	var gotIdentify identifyData
	url := newGatewayServer(t, func(conn *websocket.Conn, _ int) {
		sendHello(t, conn)

		env := readFrame(t, conn)
		if !assert.Equal(t, opIdentify, env.Op) {
			return
		}
		assert.NoError(t, json.Unmarshal(env.D, &gotIdentify))

		// The first heartbeat follows identify immediately, before any
		// sequence number exists.
		beat := readFrame(t, conn)
		assert.Equal(t, opHeartbeat, beat.Op)
		assert.Equal(t, "null", string(beat.D))

		sendDispatch(t, conn, 1, "READY", map[string]any{
			"session_id":         "sess-1",
			"resume_gateway_url": "",
			"user":               map[string]any{"id": "bot-9", "username": "hazelsync", "bot": true},
		})
		sendDispatch(t, conn, 2, "MESSAGE_CREATE", map[string]any{
			"id":         "900100",
			"channel_id": "777000111",
			"content":    "hi from discord",
			"author":     map[string]any{"id": "555", "username": "alice", "global_name": "Alice"},
		})
		// The bot's own echo must never come back around.
		sendDispatch(t, conn, 3, "MESSAGE_CREATE", map[string]any{
			"id":         "900101",
			"channel_id": "777000111",
			"content":    "mirrored copy",
			"author":     map[string]any{"id": "bot-9", "username": "hazelsync", "bot": true},
		})
		closeWith(t, conn, 4004, "Authentication failed.")
	})

	c := newTestConsumer(url, links, ing)
	err := waitStop(t, startConsumer(t, c))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "4004")
	assert.False(t, c.Connected())

	assert.Equal(t, "bot-token", gotIdentify.Token)
	assert.Equal(t, 33281, gotIdentify.Intents)
	assert.Equal(t, "hazelsync", gotIdentify.Properties.Browser)

	creates, _, _ := ing.snapshot()
	require.Len(t, creates, 1)
	in := creates[0]
	assert.Equal(t, "conn-1", in.SyncConnectionID)
	assert.Equal(t, models.ProviderDiscord, in.Provider)
	assert.Equal(t, "777000111", in.ExternalChannelID)
	assert.Equal(t, "900100", in.ExternalMessageID)
	assert.Equal(t, "hi from discord", in.Content)
	assert.Equal(t, "555", in.ExternalAuthorID)
	assert.Equal(t, "Alice", in.ExternalAuthorDisplayName)
	assert.Equal(t, "discord:gateway:message_create:900100", in.DedupeKey)

	// The echo was dropped before any link lookup.
	assert.Equal(t, 1, links.lookupCount())
}

func TestConsumerRoutesUpdateAndDelete(t *testing.T) {
	links := &fakeLinkResolver{links: []models.SyncChannelLink{bothWaysLink("conn-1")}}
	ing := &fakeIngestor{}

	url := newGatewayServer(t, func(conn *websocket.Conn, _ int) {
		handshake(t, conn)

		sendDispatch(t, conn, 1, "MESSAGE_UPDATE", map[string]any{
			"id":         "900100",
			"channel_id": "777000111",
			"content":    "edited upstream",
			"author":     map[string]any{"id": "555", "username": "alice"},
		})
		// Deletes carry no content and no author.
		sendDispatch(t, conn, 2, "MESSAGE_DELETE", map[string]any{
			"id":         "900100",
			"channel_id": "777000111",
		})
		// Embed-only updates have no content and are not mirrorable.
		sendDispatch(t, conn, 3, "MESSAGE_UPDATE", map[string]any{
			"id":         "900102",
			"channel_id": "777000111",
		})
		closeWith(t, conn, 4004, "Authentication failed.")
	})

	c := newTestConsumer(url, links, ing)
	err := waitStop(t, startConsumer(t, c))
	require.Error(t, err)

	_, updates, deletes := ing.snapshot()
	require.Len(t, updates, 1)
	assert.Equal(t, "edited upstream", updates[0].Content)
	assert.Equal(t, "discord:gateway:message_update:900100", updates[0].DedupeKey)

	require.Len(t, deletes, 1)
	assert.Equal(t, "900100", deletes[0].ExternalMessageID)
	assert.Equal(t, "discord:gateway:message_delete:900100", deletes[0].DedupeKey)
}

func TestConsumerRoutesReactions(t *testing.T) {
	links := &fakeLinkResolver{links: []models.SyncChannelLink{bothWaysLink("conn-1")}}
	ing := &fakeIngestor{}

	url := newGatewayServer(t, func(conn *websocket.Conn, _ int) {
		handshake(t, conn)

		sendDispatch(t, conn, 1, "MESSAGE_REACTION_ADD", map[string]any{
			"user_id":    "555",
			"channel_id": "777000111",
			"message_id": "900100",
			"emoji":      map[string]any{"name": "👍"},
			"member":     map[string]any{"user": map[string]any{"id": "555", "username": "alice"}},
		})
		sendDispatch(t, conn, 2, "MESSAGE_REACTION_REMOVE", map[string]any{
			"user_id":    "555",
			"channel_id": "777000111",
			"message_id": "900100",
			"emoji":      map[string]any{"name": "👍"},
		})
		// Custom emoji without a unicode name cannot be keyed.
		sendDispatch(t, conn, 3, "MESSAGE_REACTION_ADD", map[string]any{
			"user_id":    "555",
			"channel_id": "777000111",
			"message_id": "900100",
			"emoji":      map[string]any{"id": "112233"},
		})

		// A server heartbeat request must be answered right away with the
		// last seen sequence.
		sendJSON(t, conn, map[string]any{"op": opHeartbeat})
		reply := readFrame(t, conn)
		assert.Equal(t, opHeartbeat, reply.Op)
		assert.Equal(t, "3", string(reply.D))

		closeWith(t, conn, 4004, "Authentication failed.")
	})

	c := newTestConsumer(url, links, ing)
	err := waitStop(t, startConsumer(t, c))
	require.Error(t, err)

	ing.mu.Lock()
	defer ing.mu.Unlock()
	require.Len(t, ing.reactAdds, 1)
	add := ing.reactAdds[0]
	assert.Equal(t, "👍", add.Emoji)
	assert.Equal(t, "alice", add.ExternalAuthorDisplayName)
	assert.Equal(t, "discord:gateway:reaction_add:900100:555:👍", add.DedupeKey)

	require.Len(t, ing.reactRems, 1)
	rem := ing.reactRems[0]
	assert.Equal(t, "555", rem.ExternalAuthorID)
	assert.Equal(t, "discord:gateway:reaction_remove:900100:555:👍", rem.DedupeKey)
}

func TestConsumerSkipsIngressClosedLinks(t *testing.T) {
	outboundOnly := bothWaysLink("conn-out")
	outboundOnly.Direction = models.DirectionHazelToExternal
	links := &fakeLinkResolver{links: []models.SyncChannelLink{outboundOnly, bothWaysLink("conn-in")}}
	ing := &fakeIngestor{}

	url := newGatewayServer(t, func(conn *websocket.Conn, _ int) {
		handshake(t, conn)
		sendDispatch(t, conn, 1, "MESSAGE_CREATE", map[string]any{
			"id":         "900100",
			"channel_id": "777000111",
			"content":    "hello",
			"author":     map[string]any{"id": "555", "username": "alice"},
		})
		closeWith(t, conn, 4004, "Authentication failed.")
	})

	c := newTestConsumer(url, links, ing)
	err := waitStop(t, startConsumer(t, c))
	require.Error(t, err)

	creates, _, _ := ing.snapshot()
	require.Len(t, creates, 1)
	assert.Equal(t, "conn-in", creates[0].SyncConnectionID)
}

func TestConsumerResumesAfterDrop(t *testing.T) {
	links := &fakeLinkResolver{}
	ing := &fakeIngestor{}

	var resume resumeData
	url := newGatewayServer(t, func(conn *websocket.Conn, session int) {
		sendHello(t, conn)
		switch session {
		case 1:
			env := readCommand(t, conn)
			assert.Equal(t, opIdentify, env.Op)
			sendDispatch(t, conn, 7, "READY", map[string]any{
				"session_id": "sess-9",
				"user":       map[string]any{"id": "bot-9"},
			})
			closeWith(t, conn, websocket.CloseGoingAway, "restarting")
		case 2:
			env := readCommand(t, conn)
			if assert.Equal(t, opResume, env.Op) {
				assert.NoError(t, json.Unmarshal(env.D, &resume))
			}
			closeWith(t, conn, 4004, "Authentication failed.")
		}
	})

	c := newTestConsumer(url, links, ing)
	err := waitStop(t, startConsumer(t, c))
	require.Error(t, err)

	assert.Equal(t, "bot-token", resume.Token)
	assert.Equal(t, "sess-9", resume.SessionID)
	assert.Equal(t, int64(7), resume.Seq)
}

func TestConsumerReidentifiesAfterInvalidSession(t *testing.T) {
	links := &fakeLinkResolver{}
	ing := &fakeIngestor{}

	var closeCode atomic.Int32
	url := newGatewayServer(t, func(conn *websocket.Conn, session int) {
		sendHello(t, conn)
		switch session {
		case 1:
			readCommand(t, conn)
			sendDispatch(t, conn, 4, "READY", map[string]any{
				"session_id": "sess-1",
				"user":       map[string]any{"id": "bot-9"},
			})
			sendJSON(t, conn, map[string]any{"op": opInvalidSession, "d": false})
			// The client hangs up with its own close code.
			conn.SetReadDeadline(time.Now().Add(time.Second))
			for {
				_, _, err := conn.ReadMessage()
				if err != nil {
					var ce *websocket.CloseError
					if assert.ErrorAs(t, err, &ce) {
						closeCode.Store(int32(ce.Code))
					}
					return
				}
			}
		case 2:
			env := readCommand(t, conn)
			// Resumable state was cleared, so this is a fresh identify.
			assert.Equal(t, opIdentify, env.Op)
			closeWith(t, conn, 4004, "Authentication failed.")
		}
	})

	c := newTestConsumer(url, links, ing)
	err := waitStop(t, startConsumer(t, c))
	require.Error(t, err)
	assert.Equal(t, int32(closeInvalidSession), closeCode.Load())
}

func TestConsumerRequiresToken(t *testing.T) {
	c := NewConsumer(slog.Default(), Config{URL: "ws://unused"}, &fakeLinkResolver{}, &fakeIngestor{})
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
}
