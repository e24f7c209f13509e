package angelone

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/broker"
	"github.com/jnani1972/AMZF-sub010/internal/model"
)

const (
	heartbeatInterval = 10 * time.Second
	modeLTP           = 1
	exchangeNSECM     = 1
	subscribeAction   = 1
	unsubscribeAction = 0
)

var paise = decimal.NewFromInt(100)

// tickStream is the smart-stream websocket connection. It owns one gorilla
// connection, a heartbeat loop and auto-resubscribe on token reload.
type tickStream struct {
	apiKey     string
	clientCode string

	mu        sync.Mutex
	authToken string
	feedToken string
	conn      *websocket.Conn
	cancel    context.CancelFunc
	tokens    map[string]string // broker token -> symbol
	listener  broker.TickListener
}

func newTickStream(apiKey, clientCode string) *tickStream {
	return &tickStream{
		apiKey:     apiKey,
		clientCode: clientCode,
		tokens:     make(map[string]string),
	}
}

func (s *tickStream) setTokens(authToken, feedToken string) {
	s.mu.Lock()
	s.authToken = authToken
	s.feedToken = feedToken
	s.mu.Unlock()
}

// connect dials the stream and starts the read and heartbeat loops.
func (s *tickStream) connect(ctx context.Context) error {
	s.mu.Lock()
	header := http.Header{}
	header.Add("Authorization", s.authToken)
	header.Add("x-api-key", s.apiKey)
	header.Add("x-client-code", s.clientCode)
	header.Add("x-feed-token", s.feedToken)
	s.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, header)
	if err != nil {
		return model.WrapError(model.KindBrokerTransient, "WS_DIAL", "smart-stream dial", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	go s.readLoop(loopCtx, conn)
	go s.heartbeatLoop(loopCtx, conn)
	return nil
}

func (s *tickStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// reconnect re-dials with current tokens and replays the subscription set.
// Called after a token reload so the feed survives session rotation.
func (s *tickStream) reconnect(ctx context.Context) error {
	s.close()
	if err := s.connect(ctx); err != nil {
		return err
	}
	return s.resubscribe()
}

type streamRequest struct {
	CorrelationID string       `json:"correlationID"`
	Action        int          `json:"action"`
	Params        streamParams `json:"params"`
}

type streamParams struct {
	Mode      int          `json:"mode"`
	TokenList []tokenGroup `json:"tokenList"`
}

type tokenGroup struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

func (s *tickStream) subscribe(tokenToSymbol map[string]string, listener broker.TickListener) error {
	s.mu.Lock()
	for tok, sym := range tokenToSymbol {
		s.tokens[tok] = sym
	}
	s.listener = listener
	s.mu.Unlock()
	return s.send(subscribeAction, keys(tokenToSymbol))
}

func (s *tickStream) unsubscribe(tokens []string) error {
	s.mu.Lock()
	for _, tok := range tokens {
		delete(s.tokens, tok)
	}
	s.mu.Unlock()
	return s.send(unsubscribeAction, tokens)
}

func (s *tickStream) resubscribe() error {
	s.mu.Lock()
	all := make([]string, 0, len(s.tokens))
	for tok := range s.tokens {
		all = append(all, tok)
	}
	s.mu.Unlock()
	if len(all) == 0 {
		return nil
	}
	return s.send(subscribeAction, all)
}

func (s *tickStream) send(action int, tokens []string) error {
	req := streamRequest{
		CorrelationID: "core",
		Action:        action,
		Params: streamParams{
			Mode:      modeLTP,
			TokenList: []tokenGroup{{ExchangeType: exchangeNSECM, Tokens: tokens}},
		},
	}
	buf, err := json.Marshal(req)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return model.NewError(model.KindBrokerTransient, "WS_CLOSED", "smart-stream not connected")
	}
	return s.conn.WriteMessage(websocket.TextMessage, buf)
}

func (s *tickStream) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				log.Printf("[angelone] heartbeat: %v", err)
				return
			}
		}
	}
}

func (s *tickStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[angelone] stream read: %v", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue // pong or control text
		}
		tick, ok := s.parseTick(payload)
		if !ok {
			continue
		}
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener != nil {
			listener(tick)
		}
	}
}

// parseTick decodes the LTP-mode binary frame: mode(1) exchange(1)
// token(25, NUL-padded ASCII) seq(8) exchangeTS-ms(8) ltp-in-paise(8).
func (s *tickStream) parseTick(b []byte) (model.Tick, bool) {
	if len(b) < 51 {
		return model.Tick{}, false
	}
	token := strings.TrimRight(string(b[2:27]), "\x00")
	exTS := int64(binary.LittleEndian.Uint64(b[35:43]))
	ltpPaise := int64(binary.LittleEndian.Uint64(b[43:51]))

	s.mu.Lock()
	symbol, known := s.tokens[token]
	s.mu.Unlock()
	if !known {
		return model.Tick{}, false
	}
	return model.Tick{
		Symbol: symbol,
		Price:  decimal.NewFromInt(ltpPaise).Div(paise),
		TickTS: time.UnixMilli(exTS).UTC(),
	}, true
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
