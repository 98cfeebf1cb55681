// Package gateway maintains the long-running Discord gateway session and
// translates its dispatch events into ingress calls on the sync engine. The
// consumer owns exactly one WebSocket at a time; worker errors never reach
// the socket loop.
package gateway

import "encoding/json"

// Gateway opcodes the consumer speaks.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// closeInvalidSession is sent when the server invalidates the session. A
// non-1000 code keeps Discord from treating the session as cleanly resumed.
const closeInvalidSession = 4000

// defaultHeartbeatInterval applies when Hello carries no interval.
const defaultHeartbeatInterval = 41250

// fatalCloseCodes terminate the consumer instead of reconnecting: bad token,
// bad sharding, bad version, bad intents. Retrying cannot fix any of them.
var fatalCloseCodes = map[int]bool{
	4004: true,
	4010: true,
	4011: true,
	4012: true,
	4013: true,
	4014: true,
}

// Dispatch event types consumed.
const (
	eventReady          = "READY"
	eventMessageCreate  = "MESSAGE_CREATE"
	eventMessageUpdate  = "MESSAGE_UPDATE"
	eventMessageDelete  = "MESSAGE_DELETE"
	eventReactionAdd    = "MESSAGE_REACTION_ADD"
	eventReactionRemove = "MESSAGE_REACTION_REMOVE"
)

// envelope is the gateway frame: opcode, event type, sequence, data.
type envelope struct {
	Op int             `json:"op"`
	T  string          `json:"t,omitempty"`
	S  *int64          `json:"s,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type heartbeatFrame struct {
	Op int    `json:"op"`
	D  *int64 `json:"d"`
}

type identifyFrame struct {
	Op int          `json:"op"`
	D  identifyData `json:"d"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type resumeFrame struct {
	Op int        `json:"op"`
	D  resumeData `json:"d"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type readyData struct {
	SessionID        string     `json:"session_id"`
	ResumeGatewayURL string     `json:"resume_gateway_url"`
	User             *eventUser `json:"user"`
}

type eventUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
	Avatar        string `json:"avatar"`
	Bot           bool   `json:"bot"`
}

type eventMember struct {
	User *eventUser `json:"user"`
	Nick string     `json:"nick"`
}

type eventAttachment struct {
	ID          string  `json:"id"`
	Filename    string  `json:"filename"`
	URL         string  `json:"url"`
	Size        float64 `json:"size"`
	ContentType string  `json:"content_type"`
}

// messageEventData covers MESSAGE_CREATE, MESSAGE_UPDATE, and (with only the
// ids populated) MESSAGE_DELETE.
type messageEventData struct {
	ID          string            `json:"id"`
	ChannelID   string            `json:"channel_id"`
	GuildID     string            `json:"guild_id"`
	Content     string            `json:"content"`
	Author      *eventUser        `json:"author"`
	Member      *eventMember      `json:"member"`
	Attachments []eventAttachment `json:"attachments"`
}

type reactionEventData struct {
	UserID    string        `json:"user_id"`
	ChannelID string        `json:"channel_id"`
	MessageID string        `json:"message_id"`
	GuildID   string        `json:"guild_id"`
	User      *eventUser    `json:"user"`
	Member    *eventMember  `json:"member"`
	Emoji     reactionEmoji `json:"emoji"`
}

type reactionEmoji struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
