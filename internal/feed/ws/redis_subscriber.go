package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// PubSubChannel define o canal Redis Pub/Sub de broadcast do motor de corridas
const PubSubChannel = "race_updates_broadcast"

// StartRedisSubscriber inicia uma goroutine que escuta o canal Redis Pub/Sub
// e repassa as atualizações recebidas para os clientes WebSocket via Hub
func StartRedisSubscriber(ctx context.Context, r *redis.Client, hub *Hub) {
	sub := r.Subscribe(ctx, PubSubChannel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg := <-ch:
				if msg == nil {
					continue
				}
				var upd RaceUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
					log.Printf("ws subscriber unmarshal error: %v", err)
					continue
				}
				hub.Broadcast(upd)
			}
		}
	}()
}
