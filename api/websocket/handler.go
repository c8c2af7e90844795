package websocket

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

type Subscriber struct {
	msgs      chan []byte
	UserID    uint
	closeSlow func()
}

// WebSocketHandler fans status events out to the connected principals.
type WebSocketHandler struct {
	subscriberMessageBuffer int
	MessageHandler          *Messages
	logger                  *zap.Logger
	subscribersMu           sync.Mutex
	subscribers             map[*Subscriber]struct{}
}

func NewWebSocketHandler(logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &WebSocketHandler{
		subscriberMessageBuffer: 16,
		MessageHandler:          &Messages{},
		logger:                  logger,
		subscribers:             make(map[*Subscriber]struct{}),
	}
}

func (cs *WebSocketHandler) SubscriberCount() int {
	cs.subscribersMu.Lock()
	defer cs.subscribersMu.Unlock()
	return len(cs.subscribers)
}

// PublishInChannel sends msg to every connection of receiverID. Slow
// subscribers are dropped rather than blocking the publisher.
func (cs *WebSocketHandler) PublishInChannel(msg []byte, receiverID uint) {
	cs.subscribersMu.Lock()
	defer cs.subscribersMu.Unlock()

	for s := range cs.subscribers {
		if s.UserID == receiverID {
			select {
			case s.msgs <- msg:
			default:
				go s.closeSlow()
			}
		}
	}
}

func (cs *WebSocketHandler) addSubscriber(s *Subscriber) {
	cs.subscribersMu.Lock()
	cs.subscribers[s] = struct{}{}
	cs.subscribersMu.Unlock()
}

func (cs *WebSocketHandler) deleteSubscriber(s *Subscriber) {
	cs.subscribersMu.Lock()
	delete(cs.subscribers, s)
	cs.subscribersMu.Unlock()
}

func writeTimeout(ctx context.Context, timeout time.Duration, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.Write(ctx, websocket.MessageText, msg)
}

func (cs *WebSocketHandler) SubscribeChannel(w http.ResponseWriter, r *http.Request, userID uint) error {
	var mu sync.Mutex
	var c *websocket.Conn
	var closed bool
	s := &Subscriber{
		UserID: userID,
		msgs:   make(chan []byte, cs.subscriberMessageBuffer),
		closeSlow: func() {
			mu.Lock()
			defer mu.Unlock()
			closed = true
			if c != nil {
				c.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
			}
		},
	}
	cs.addSubscriber(s)
	defer cs.deleteSubscriber(s)

	c2, err := websocket.Accept(w, r, nil)
	if err != nil {
		return err
	}
	mu.Lock()
	if closed {
		mu.Unlock()
		return net.ErrClosed
	}
	c = c2
	mu.Unlock()
	defer c.CloseNow()

	ctx := c.CloseRead(r.Context())
	cs.logger.Debug("websocket connected", zap.Uint("user", userID))

	for {
		select {
		case msg := <-s.msgs:
			err := writeTimeout(ctx, time.Second*5, c, msg)
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
