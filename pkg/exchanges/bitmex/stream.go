package bitmex

import (
	"time"

	"github.com/goccy/go-json"

	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/stream"
)

const (
	tableInstrument common.Channel = "instrument"
	tableTrade      common.Channel = "trade"
)

type streamProtocol struct {
	url string
}

func (p streamProtocol) URL() string { return p.url }

func (p streamProtocol) SubscribeMessage(topics []stream.Topic, _ int64) any {
	args := make([]string, 0, len(topics))
	for _, t := range topics {
		arg := string(t.Channel)
		if t.Symbol != "" {
			arg += ":" + t.Symbol
		}
		args = append(args, arg)
	}
	return map[string]any{"op": "subscribe", "args": args}
}

func (p streamProtocol) DefaultTopics() []stream.Topic {
	return []stream.Topic{{Channel: tableInstrument}, {Channel: tableTrade}}
}

type tableMessage struct {
	Table string          `json:"table"`
	Data  json.RawMessage `json:"data"`
}

// Decode handles the instrument and trade tables; anything else is a control frame.
func (p streamProtocol) Decode(raw []byte) (stream.Batch, error) {
	var msg tableMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return stream.Batch{}, &common.StreamProtocolError{Raw: string(raw), Err: err}
	}

	switch common.Channel(msg.Table) {
	case tableInstrument:
		var rows []struct {
			Symbol   string   `json:"symbol"`
			BidPrice *float64 `json:"bidPrice"`
			AskPrice *float64 `json:"askPrice"`
		}
		if err := json.Unmarshal(msg.Data, &rows); err != nil {
			return stream.Batch{}, &common.StreamProtocolError{Raw: string(raw), Err: err}
		}
		var b stream.Batch
		for _, r := range rows {
			if r.BidPrice == nil && r.AskPrice == nil {
				continue
			}
			q := common.Quote{Symbol: r.Symbol}
			if r.BidPrice != nil {
				q.Bid = *r.BidPrice
			}
			if r.AskPrice != nil {
				q.Ask = *r.AskPrice
			}
			b.Quotes = append(b.Quotes, q)
		}
		return b, nil

	case tableTrade:
		var rows []struct {
			Timestamp time.Time `json:"timestamp"`
			Symbol    string    `json:"symbol"`
			Price     float64   `json:"price"`
			Size      float64   `json:"size"`
		}
		if err := json.Unmarshal(msg.Data, &rows); err != nil {
			return stream.Batch{}, &common.StreamProtocolError{Raw: string(raw), Err: err}
		}
		b := stream.Batch{Trades: make([]common.TradeTick, 0, len(rows))}
		for _, r := range rows {
			b.Trades = append(b.Trades, common.TradeTick{
				Symbol:    r.Symbol,
				Price:     r.Price,
				Size:      r.Size,
				Timestamp: r.Timestamp.UnixMilli(),
			})
		}
		return b, nil
	}
	return stream.Batch{}, nil
}
