// Package lark mirrors messages to Lark group chats.
package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	larksdk "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/hazelchat/hazelsync/internal/models"
	"github.com/hazelchat/hazelsync/internal/provider"
	"github.com/hazelchat/hazelsync/internal/prune"
)

// maxMessageLength stays under Lark's 150 KiB cap on text message content.
const maxMessageLength = 150 * 1024

// operatorTypeApp marks reactions added by the app itself.
const operatorTypeApp = "app"

// Adapter drives Lark with app credentials.
type Adapter struct {
	log       *slog.Logger
	appID     string
	appSecret string

	mu     sync.RWMutex
	client *larksdk.Client
}

func New(log *slog.Logger, appID, appSecret string) *Adapter {
	return &Adapter{
		log:       log.With(slog.String("adapter", "lark")),
		appID:     appID,
		appSecret: appSecret,
	}
}

func (a *Adapter) Provider() models.Provider {
	return models.ProviderLark
}

func (a *Adapter) getOrCreateClient() (*larksdk.Client, error) {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client != nil {
		return client, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	if a.appID == "" || a.appSecret == "" {
		return nil, &provider.ConfigurationError{Provider: models.ProviderLark, Reason: "app id or secret is not set"}
	}
	a.client = larksdk.NewClient(a.appID, a.appSecret)
	return a.client, nil
}

func requestErr(err error) error {
	return &provider.APIError{Provider: models.ProviderLark, Message: err.Error()}
}

func responseErr(statusCode int, code int, msg string) error {
	return &provider.APIError{
		Provider: models.ProviderLark,
		Status:   statusCode,
		Message:  fmt.Sprintf("code=%d msg=%s", code, msg),
	}
}

// textContent renders plain text as Lark's msg_type=text JSON body.
func textContent(content string) (string, error) {
	data, err := json.Marshal(map[string]string{"text": prune.Clamp(content, maxMessageLength)})
	if err != nil {
		return "", fmt.Errorf("encode text content: %w", err)
	}
	return string(data), nil
}

func (a *Adapter) CreateMessage(ctx context.Context, msg provider.OutboundMessage) (provider.CreatedMessage, error) {
	client, err := a.getOrCreateClient()
	if err != nil {
		return provider.CreatedMessage{}, err
	}
	content, err := textContent(msg.Content)
	if err != nil {
		return provider.CreatedMessage{}, err
	}

	// Replying keeps the pair attached to the same Lark thread.
	if msg.ReplyToID != "" {
		return a.replyMessage(ctx, client, msg.ReplyToID, content)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(msg.ChannelID).
			MsgType(larkim.MsgTypeText).
			Content(content).
			Build()).
		Build()
	resp, err := client.Im.Message.Create(ctx, req)
	if err != nil {
		return provider.CreatedMessage{}, requestErr(err)
	}
	if !resp.Success() {
		return provider.CreatedMessage{}, responseErr(resp.StatusCode, resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.MessageId == nil || *resp.Data.MessageId == "" {
		return provider.CreatedMessage{}, &provider.APIError{Provider: models.ProviderLark, Message: "response missing message id"}
	}
	return provider.CreatedMessage{ID: *resp.Data.MessageId}, nil
}

func (a *Adapter) replyMessage(ctx context.Context, client *larksdk.Client, replyToID, content string) (provider.CreatedMessage, error) {
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(replyToID).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType(larkim.MsgTypeText).
			Content(content).
			Build()).
		Build()
	resp, err := client.Im.Message.Reply(ctx, req)
	if err != nil {
		return provider.CreatedMessage{}, requestErr(err)
	}
	if !resp.Success() {
		return provider.CreatedMessage{}, responseErr(resp.StatusCode, resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.MessageId == nil || *resp.Data.MessageId == "" {
		return provider.CreatedMessage{}, &provider.APIError{Provider: models.ProviderLark, Message: "response missing message id"}
	}
	return provider.CreatedMessage{ID: *resp.Data.MessageId}, nil
}

func (a *Adapter) UpdateMessage(ctx context.Context, channelID, messageID, content string) error {
	client, err := a.getOrCreateClient()
	if err != nil {
		return err
	}
	body, err := textContent(content)
	if err != nil {
		return err
	}
	req := larkim.NewUpdateMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewUpdateMessageReqBodyBuilder().
			MsgType(larkim.MsgTypeText).
			Content(body).
			Build()).
		Build()
	resp, err := client.Im.Message.Update(ctx, req)
	if err != nil {
		return requestErr(err)
	}
	if !resp.Success() {
		return responseErr(resp.StatusCode, resp.Code, resp.Msg)
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	client, err := a.getOrCreateClient()
	if err != nil {
		return err
	}
	req := larkim.NewDeleteMessageReqBuilder().
		MessageId(messageID).
		Build()
	resp, err := client.Im.Message.Delete(ctx, req)
	if err != nil {
		return requestErr(err)
	}
	if !resp.Success() {
		return responseErr(resp.StatusCode, resp.Code, resp.Msg)
	}
	return nil
}

func (a *Adapter) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	client, err := a.getOrCreateClient()
	if err != nil {
		return err
	}
	req := larkim.NewCreateMessageReactionReqBuilder().
		MessageId(messageID).
		Body(larkim.NewCreateMessageReactionReqBodyBuilder().
			ReactionType(larkim.NewEmojiBuilder().EmojiType(emoji).Build()).
			Build()).
		Build()
	resp, err := client.Im.MessageReaction.Create(ctx, req)
	if err != nil {
		return requestErr(err)
	}
	if !resp.Success() {
		return responseErr(resp.StatusCode, resp.Code, resp.Msg)
	}
	return nil
}

// RemoveReaction finds the app's own reaction of the given type and deletes
// it. Lark keys deletion by reaction id, not emoji.
func (a *Adapter) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	client, err := a.getOrCreateClient()
	if err != nil {
		return err
	}
	listReq := larkim.NewListMessageReactionReqBuilder().
		MessageId(messageID).
		ReactionType(emoji).
		Build()
	listResp, err := client.Im.MessageReaction.List(ctx, listReq)
	if err != nil {
		return requestErr(err)
	}
	if !listResp.Success() {
		return responseErr(listResp.StatusCode, listResp.Code, listResp.Msg)
	}

	var reactionID string
	if listResp.Data != nil {
		for _, item := range listResp.Data.Items {
			if item == nil || item.ReactionId == nil || item.Operator == nil {
				continue
			}
			if item.Operator.OperatorType != nil && *item.Operator.OperatorType == operatorTypeApp {
				reactionID = *item.ReactionId
				break
			}
		}
	}
	if reactionID == "" {
		a.log.Debug("no app reaction to remove", slog.String("message_id", messageID))
		return nil
	}

	delReq := larkim.NewDeleteMessageReactionReqBuilder().
		MessageId(messageID).
		ReactionId(reactionID).
		Build()
	delResp, err := client.Im.MessageReaction.Delete(ctx, delReq)
	if err != nil {
		return requestErr(err)
	}
	if !delResp.Success() {
		return responseErr(delResp.StatusCode, delResp.Code, delResp.Msg)
	}
	return nil
}
