package projector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/pkg/contracts/events"
	"github.com/radieske/horse-race-platform-poc/pkg/contracts/topics"
)

// Processor consome os eventos do motor de corridas e mantém a projeção
// corrente no Redis, retransmitindo cada mudança para o canal Pub/Sub do
// feed. Callbacks de métricas podem ser usadas para monitorar cada etapa
type Processor struct {
	Log         *zap.Logger
	Opened      *kafka.Reader
	Bets        *kafka.Reader
	Settled     *kafka.Reader
	Cache       *RaceCache
	Broadcaster *RedisBroadcaster

	OnConsumed  func(topic string)
	OnProjected func()
	OnError     func(stage string)
}

// Run inicia um loop de consumo por tópico e bloqueia até o contexto encerrar
func (p *Processor) Run(ctx context.Context) error {
	go p.loop(ctx, p.Opened, topics.RaceOpened, p.handleOpened)
	go p.loop(ctx, p.Bets, topics.BetRecorded, p.handleBet)
	p.loop(ctx, p.Settled, topics.RaceSettled, p.handleSettled)
	return ctx.Err()
}

func (p *Processor) loop(ctx context.Context, r *kafka.Reader, topic string, handle func(context.Context, []byte) error) {
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.Log.Warn("kafka read failed", zap.String("topic", topic), zap.Error(err))
			if p.OnError != nil {
				p.OnError("read")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed(topic)
		}
		if err := handle(ctx, m.Value); err != nil {
			p.Log.Warn("projection failed", zap.String("topic", topic), zap.Error(err))
			if p.OnError != nil {
				p.OnError("project")
			}
			continue
		}
		if p.OnProjected != nil {
			p.OnProjected()
		}
	}
}

func (p *Processor) handleOpened(ctx context.Context, payload []byte) error {
	var ev events.RaceOpened
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	st := &RaceState{
		RaceID:          ev.RaceID,
		Number:          ev.RaceNumber,
		Status:          "OPEN",
		HorsePools:      map[string]int64{},
		OpenedAt:        ev.OpenedAt,
		BettingDeadline: ev.BettingDeadline,
	}
	if err := p.Cache.SetCurrent(ctx, st); err != nil {
		return err
	}
	return p.broadcast(ctx, ev.RaceID, "race_opened", ev)
}

func (p *Processor) handleBet(ctx context.Context, payload []byte) error {
	var ev events.BetRecorded
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}

	// read-modify-write da projeção; cache vazio (expirou) só pula a soma,
	// o broadcast do evento segue normal
	st, err := p.Cache.GetCurrent(ctx)
	if err != nil {
		return err
	}
	if st != nil && st.RaceID == ev.RaceID {
		if st.HorsePools == nil {
			st.HorsePools = map[string]int64{}
		}
		st.HorsePools[ev.HorseID] += ev.Lamports
		st.PoolLamports += ev.Lamports
		if err := p.Cache.SetCurrent(ctx, st); err != nil {
			return err
		}
	}
	return p.broadcast(ctx, ev.RaceID, "bet_recorded", ev)
}

func (p *Processor) handleSettled(ctx context.Context, payload []byte) error {
	var ev events.RaceSettled
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	st, err := p.Cache.GetCurrent(ctx)
	if err != nil {
		return err
	}
	if st != nil && st.RaceID == ev.RaceID {
		st.Status = "CLOSED"
		st.WinnerHorseID = ev.WinnerHorseID
		st.Positions = ev.Positions
		if err := p.Cache.SetCurrent(ctx, st); err != nil {
			return err
		}
	}
	return p.broadcast(ctx, ev.RaceID, "race_settled", ev)
}

func (p *Processor) broadcast(ctx context.Context, raceID, kind string, payload any) error {
	msg := WSUpdate{RaceID: raceID, Kind: kind, Payload: payload}
	b, _ := json.Marshal(msg)

	bctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := p.Broadcaster.Publish(bctx, ChannelRaceBroadcast, b); err != nil {
		// broadcast é best-effort: a projeção já está gravada
		p.Log.Warn("ws broadcast publish failed", zap.Error(err))
	}
	return nil
}
