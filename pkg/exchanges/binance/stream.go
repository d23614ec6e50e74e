package binance

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"

	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/stream"
)

type streamProtocol struct {
	url string
}

type subscribeMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (p *streamProtocol) URL() string { return p.url }

func (p *streamProtocol) SubscribeMessage(topics []stream.Topic, id int64) any {
	params := make([]string, 0, len(topics))
	for _, t := range topics {
		if t.Symbol == "" {
			params = append(params, string(t.Channel))
			continue
		}
		params = append(params, strings.ToLower(t.Symbol)+"@"+string(t.Channel))
	}
	return subscribeMessage{Method: "SUBSCRIBE", Params: params, ID: id}
}

// DefaultTopics keeps BTCUSDT quotes flowing for the presentation layer.
func (p *streamProtocol) DefaultTopics() []stream.Topic {
	return []stream.Topic{{Channel: common.ChannelBookTicker, Symbol: "BTCUSDT"}}
}

// Decode handles bookTicker and aggTrade events. Spot bookTicker messages carry
// no "e" field and are recognised by "u" and "A".
func (p *streamProtocol) Decode(raw []byte) (stream.Batch, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return stream.Batch{}, &common.StreamProtocolError{Raw: string(raw), Err: err}
	}

	event := cast.ToString(m["e"])
	if event == "" {
		_, hasU := m["u"]
		_, hasA := m["A"]
		if hasU && hasA {
			event = string(common.ChannelBookTicker)
		}
	}

	switch event {
	case string(common.ChannelBookTicker):
		return stream.Batch{Quotes: []common.Quote{{
			Symbol: cast.ToString(m["s"]),
			Bid:    cast.ToFloat64(m["b"]),
			Ask:    cast.ToFloat64(m["a"]),
		}}}, nil
	case string(common.ChannelTrades):
		return stream.Batch{Trades: []common.TradeTick{{
			Symbol:    cast.ToString(m["s"]),
			Price:     cast.ToFloat64(m["p"]),
			Size:      cast.ToFloat64(m["q"]),
			Timestamp: cast.ToInt64(m["T"]),
		}}}, nil
	}
	return stream.Batch{}, nil
}
