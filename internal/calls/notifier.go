package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IncomingCallChannel is the pub/sub channel agent frontends subscribe to for
// ringing calls.
const IncomingCallChannel = "incoming_whatsapp_call"

// RedisNotifier fans out incoming-call announcements over Redis pub/sub.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

type incomingCallMessage struct {
	CallID     string    `json:"call_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Lead       string    `json:"lead,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

func (n *RedisNotifier) IncomingCall(ctx context.Context, s Session) error {
	payload, err := json.Marshal(incomingCallMessage{
		CallID:     s.CallID,
		From:       s.CustomerNumber,
		To:         s.BusinessNumber,
		Lead:       s.Lead,
		ReceivedAt: s.CreatedAt,
	})
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, IncomingCallChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish incoming call: %w", err)
	}
	return nil
}
