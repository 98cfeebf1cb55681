package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazelchat/hazelsync/internal/chatsync"
	"github.com/hazelchat/hazelsync/internal/models"
)

// reconnectDelay paces non-fatal session restarts.
const reconnectDelay = 2 * time.Second

// Config carries the gateway connection settings.
type Config struct {
	URL     string
	Token   string
	Intents int
}

// LinkResolver finds every active channel link fed by an external channel.
// Gateway events carry no tenant information, so the lookup spans
// connections.
type LinkResolver interface {
	FindActiveByExternalChannel(ctx context.Context, externalChannelID string) ([]models.SyncChannelLink, error)
}

// Ingestor is the ingress half of the sync engine.
type Ingestor interface {
	IngestMessageCreate(ctx context.Context, in chatsync.IngestMessageInput) (chatsync.Result, error)
	IngestMessageUpdate(ctx context.Context, in chatsync.IngestMessageInput) (chatsync.Result, error)
	IngestMessageDelete(ctx context.Context, in chatsync.IngestMessageInput) (chatsync.Result, error)
	IngestReactionAdd(ctx context.Context, in chatsync.IngestReactionInput) (chatsync.Result, error)
	IngestReactionRemove(ctx context.Context, in chatsync.IngestReactionInput) (chatsync.Result, error)
}

// Consumer owns one gateway session at a time: identify or resume, heartbeat
// at the announced interval, translate dispatches, reconnect on non-fatal
// closes. All session state is guarded by one mutex shared with writes, and
// no lock is held across socket or worker calls.
type Consumer struct {
	log    *slog.Logger
	cfg    Config
	links  LinkResolver
	worker Ingestor

	// retryDelay is replaceable in tests; reconnectDelay otherwise.
	retryDelay time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	sequence  *int64
	sessionID string
	resumeURL string
	botUserID string
	connected bool
}

func NewConsumer(log *slog.Logger, cfg Config, links LinkResolver, worker Ingestor) *Consumer {
	return &Consumer{
		log:        log.With(slog.String("component", "gateway")),
		cfg:        cfg,
		links:      links,
		worker:     worker,
		retryDelay: reconnectDelay,
	}
}

// Connected reports whether a session is currently established.
func (c *Consumer) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Run connects and reconnects until the context ends or a fatal close code
// arrives.
func (c *Consumer) Run(ctx context.Context) error {
	if c.cfg.Token == "" {
		return errors.New("discord bot token is not configured")
	}
	for {
		fatal, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fatal {
			c.log.Error("gateway session fatal", slog.Any("error", err))
			return err
		}
		c.log.Warn("gateway session ended", slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

// session runs one connection to completion. It reports whether the close
// was fatal; a nil error with fatal=false is an orderly session-invalidated
// restart.
func (c *Consumer) session(ctx context.Context) (bool, error) {
	url := c.gatewayURL()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("dial gateway %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// Unblocks the read loop on shutdown.
		<-sctx.Done()
		conn.Close()
	}()
	defer c.teardown()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	interval, err := c.awaitHello(conn)
	if err != nil {
		return false, err
	}
	if err := c.openSession(); err != nil {
		return false, err
	}
	go c.heartbeatLoop(sctx, interval)

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.log.Info("gateway connected", slog.String("url", url))

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && fatalCloseCodes[closeErr.Code] {
				return true, fmt.Errorf("gateway closed: %d %s", closeErr.Code, closeErr.Text)
			}
			return false, err
		}
		if env.S != nil {
			c.setSequence(*env.S)
		}

		switch env.Op {
		case opDispatch:
			c.handleDispatch(ctx, env.T, env.D)
		case opHeartbeat:
			c.sendHeartbeat()
		case opInvalidSession:
			c.log.Warn("gateway session invalidated")
			c.resetSession()
			msg := websocket.FormatCloseMessage(closeInvalidSession, "invalid session")
			_ = c.write(websocket.CloseMessage, msg)
			return false, nil
		case opHeartbeatACK:
			// Expected; nothing to do.
		default:
			c.log.Debug("unhandled gateway opcode", slog.Int("op", env.Op))
		}
	}
}

// gatewayURL prefers the resume endpoint announced by READY.
func (c *Consumer) gatewayURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumeURL != "" {
		return c.resumeURL
	}
	return c.cfg.URL
}

// awaitHello reads the server Hello and returns the heartbeat interval.
func (c *Consumer) awaitHello(conn *websocket.Conn) (time.Duration, error) {
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		return 0, fmt.Errorf("read hello: %w", err)
	}
	if env.Op != opHello {
		return 0, fmt.Errorf("expected hello, got opcode %d", env.Op)
	}
	var hello helloData
	if len(env.D) > 0 {
		if err := json.Unmarshal(env.D, &hello); err != nil {
			return 0, fmt.Errorf("decode hello: %w", err)
		}
	}
	if hello.HeartbeatInterval <= 0 {
		hello.HeartbeatInterval = defaultHeartbeatInterval
	}
	return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
}

// openSession resumes when a previous session left its id and sequence
// behind; otherwise it identifies fresh.
func (c *Consumer) openSession() error {
	c.mu.Lock()
	sessionID := c.sessionID
	var seq int64
	hasSeq := c.sequence != nil
	if hasSeq {
		seq = *c.sequence
	}
	c.mu.Unlock()

	if sessionID != "" && hasSeq {
		c.log.Info("resuming gateway session", slog.String("session_id", sessionID), slog.Int64("seq", seq))
		return c.writeJSON(resumeFrame{
			Op: opResume,
			D:  resumeData{Token: c.cfg.Token, SessionID: sessionID, Seq: seq},
		})
	}
	return c.writeJSON(identifyFrame{
		Op: opIdentify,
		D: identifyData{
			Token:   c.cfg.Token,
			Intents: c.cfg.Intents,
			Properties: identifyProperties{
				OS:      runtime.GOOS,
				Browser: "hazelsync",
				Device:  "hazelsync",
			},
		},
	})
}

func (c *Consumer) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.sendHeartbeat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendHeartbeat()
		}
	}
}

func (c *Consumer) sendHeartbeat() {
	c.mu.Lock()
	seq := c.sequence
	c.mu.Unlock()
	if err := c.writeJSON(heartbeatFrame{Op: opHeartbeat, D: seq}); err != nil {
		c.log.Warn("send heartbeat", slog.Any("error", err))
	}
}

func (c *Consumer) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("gateway not connected")
	}
	return c.conn.WriteJSON(v)
}

func (c *Consumer) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("gateway not connected")
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *Consumer) setSequence(s int64) {
	c.mu.Lock()
	c.sequence = &s
	c.mu.Unlock()
}

// resetSession clears resumable state so the next connect identifies fresh.
func (c *Consumer) resetSession() {
	c.mu.Lock()
	c.sequence = nil
	c.sessionID = ""
	c.resumeURL = ""
	c.mu.Unlock()
}

func (c *Consumer) teardown() {
	c.mu.Lock()
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
}

func (c *Consumer) botID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botUserID
}

// handleDispatch translates one op-0 event. Every error below this point is
// logged and swallowed; only socket errors may end the session.
func (c *Consumer) handleDispatch(ctx context.Context, eventType string, data json.RawMessage) {
	switch eventType {
	case eventReady:
		var ready readyData
		if err := json.Unmarshal(data, &ready); err != nil {
			c.log.Error("decode ready", slog.Any("error", err))
			return
		}
		c.mu.Lock()
		c.sessionID = ready.SessionID
		c.resumeURL = ready.ResumeGatewayURL
		if ready.User != nil {
			c.botUserID = ready.User.ID
		}
		c.mu.Unlock()
		c.log.Info("gateway ready",
			slog.String("session_id", ready.SessionID),
			slog.String("bot_user_id", c.botID()))

	case eventMessageCreate:
		c.routeMessage(ctx, "message_create", data)
	case eventMessageUpdate:
		c.routeMessage(ctx, "message_update", data)
	case eventMessageDelete:
		c.routeMessage(ctx, "message_delete", data)
	case eventReactionAdd:
		c.routeReaction(ctx, "reaction_add", data)
	case eventReactionRemove:
		c.routeReaction(ctx, "reaction_remove", data)
	default:
		// Plenty of dispatch types are irrelevant here; stay quiet.
	}
}

// routeMessage translates one MESSAGE_* event and offers it to every
// ingress-eligible link of the external channel.
func (c *Consumer) routeMessage(ctx context.Context, verb string, data json.RawMessage) {
	var ev messageEventData
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Error("decode message event", slog.String("event", verb), slog.Any("error", err))
		return
	}
	if ev.ID == "" || ev.ChannelID == "" {
		return
	}
	isDelete := verb == "message_delete"
	if !isDelete && ev.Content == "" {
		return
	}
	if ev.Author != nil && c.isSelfEcho(ev.Author) {
		c.log.Debug("dropping self echo", slog.String("external_message_id", ev.ID))
		return
	}
	if n := len(normalizeAttachments(ev.Attachments)); n > 0 {
		c.log.Debug("message carries attachments",
			slog.String("external_message_id", ev.ID),
			slog.Int("count", n))
	}

	links, err := c.links.FindActiveByExternalChannel(ctx, ev.ChannelID)
	if err != nil {
		c.log.Error("resolve channel links",
			slog.String("external_channel_id", ev.ChannelID),
			slog.Any("error", err))
		return
	}

	for _, link := range links {
		if !link.Direction.AllowsIngress() {
			continue
		}
		in := chatsync.IngestMessageInput{
			SyncConnectionID:  link.SyncConnectionID,
			Provider:          models.ProviderDiscord,
			ExternalChannelID: ev.ChannelID,
			ExternalMessageID: ev.ID,
			Content:           ev.Content,
			DedupeKey:         fmt.Sprintf("discord:gateway:%s:%s", verb, ev.ID),
		}
		if ev.Author != nil {
			in.ExternalAuthorID = ev.Author.ID
			in.ExternalAuthorDisplayName = displayName(ev.Author)
			in.ExternalAuthorAvatarURL = avatarURL(ev.Author)
		}

		var err error
		switch verb {
		case "message_create":
			_, err = c.worker.IngestMessageCreate(ctx, in)
		case "message_update":
			_, err = c.worker.IngestMessageUpdate(ctx, in)
		case "message_delete":
			_, err = c.worker.IngestMessageDelete(ctx, in)
		}
		if err != nil {
			c.log.Error("ingest gateway event",
				slog.String("event", verb),
				slog.String("external_message_id", ev.ID),
				slog.String("sync_connection_id", link.SyncConnectionID),
				slog.Any("error", err))
		}
	}
}

func (c *Consumer) routeReaction(ctx context.Context, verb string, data json.RawMessage) {
	var ev reactionEventData
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Error("decode reaction event", slog.String("event", verb), slog.Any("error", err))
		return
	}
	if ev.MessageID == "" || ev.ChannelID == "" || ev.Emoji.Name == "" {
		return
	}
	author := reactionAuthor(ev)
	if author == nil {
		return
	}
	if c.isSelfEcho(author) {
		c.log.Debug("dropping self reaction echo", slog.String("external_message_id", ev.MessageID))
		return
	}

	links, err := c.links.FindActiveByExternalChannel(ctx, ev.ChannelID)
	if err != nil {
		c.log.Error("resolve channel links",
			slog.String("external_channel_id", ev.ChannelID),
			slog.Any("error", err))
		return
	}

	for _, link := range links {
		if !link.Direction.AllowsIngress() {
			continue
		}
		in := chatsync.IngestReactionInput{
			SyncConnectionID:          link.SyncConnectionID,
			Provider:                  models.ProviderDiscord,
			ExternalChannelID:         ev.ChannelID,
			ExternalMessageID:         ev.MessageID,
			Emoji:                     ev.Emoji.Name,
			ExternalAuthorID:          author.ID,
			ExternalAuthorDisplayName: displayName(author),
			ExternalAuthorAvatarURL:   avatarURL(author),
			DedupeKey:                 fmt.Sprintf("discord:gateway:%s:%s:%s:%s", verb, ev.MessageID, author.ID, ev.Emoji.Name),
		}

		var err error
		if verb == "reaction_add" {
			_, err = c.worker.IngestReactionAdd(ctx, in)
		} else {
			_, err = c.worker.IngestReactionRemove(ctx, in)
		}
		if err != nil {
			c.log.Error("ingest gateway event",
				slog.String("event", verb),
				slog.String("external_message_id", ev.MessageID),
				slog.String("sync_connection_id", link.SyncConnectionID),
				slog.Any("error", err))
		}
	}
}

// isSelfEcho reports whether the event's author is the engine's own bot.
func (c *Consumer) isSelfEcho(u *eventUser) bool {
	if u.Bot {
		return true
	}
	botID := c.botID()
	return botID != "" && u.ID == botID
}
