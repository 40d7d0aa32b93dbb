package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"soundscape/core/mixer"
	"soundscape/logger"

	"github.com/gorilla/websocket"
)

const (
	// DefaultFeedInterval is the redraw cadence of the feed, about 30 Hz.
	DefaultFeedInterval = 33 * time.Millisecond

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxCommandSize = 4096
	sendBuffer     = 16
)

// Server message types.
const (
	MsgState    = "state"
	MsgWaveform = "waveform"
	MsgAdded    = "added"
	MsgError    = "error"
)

// Bus is what a feed observes and controls. *mixer.MixBus implements it.
type Bus interface {
	Controller
	Snapshot() (mixer.Snapshot, error)
	Waveform() []float32
	Done() <-chan struct{}
}

// Feed is one WebSocket client of a mixing session. It pushes the bus state
// whenever it changes and the waveform on every tick, and applies the
// client's commands to the bus.
type Feed struct {
	conn     *websocket.Conn
	bus      Bus
	interval time.Duration
	send     chan []byte
}

// NewFeed wraps an upgraded connection. A non-positive interval means
// DefaultFeedInterval.
func NewFeed(conn *websocket.Conn, bus Bus, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = DefaultFeedInterval
	}
	return &Feed{conn: conn, bus: bus, interval: interval, send: make(chan []byte, sendBuffer)}
}

// Run serves the connection until the client leaves, ctx is done, or the bus
// shuts down. The connection is closed on return.
func (f *Feed) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.readPump(ctx, cancel)
	f.writePump(ctx)
}

func (f *Feed) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("feed: 序列化消息失败", logger.String("type", msg.Type), logger.ErrorField(err))
		return
	}
	select {
	case f.send <- data:
	default:
		// 缓冲区满，丢弃消息
	}
}

// readPump 读取客户端命令
func (f *Feed) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	f.conn.SetReadLimit(maxCommandSize)
	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("feed: websocket read error", logger.ErrorField(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		cmd, err := ParseCommand(data)
		if err != nil {
			f.enqueue(Message{Type: MsgError, Data: CommandError{Error: err.Error()}})
			continue
		}
		id, err := Dispatch(f.bus, cmd)
		if err != nil {
			logger.Debug("feed: 命令被拒绝", logger.String("command", cmd.Type), logger.ErrorField(err))
			f.enqueue(Message{Type: MsgError, Data: CommandError{Command: cmd.Type, Error: err.Error()}})
			continue
		}
		if cmd.Type == CmdAdd {
			f.enqueue(Message{Type: MsgAdded, Data: map[string]int{"id": id}})
		}
	}
}

// writePump 推送状态、波形和命令结果
func (f *Feed) writePump(ctx context.Context) {
	redraw := time.NewTicker(f.interval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		redraw.Stop()
		ping.Stop()
		f.conn.Close()
	}()

	var lastState []byte
	write := func(data []byte) bool {
		f.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return f.conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-f.bus.Done():
			f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			f.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
			return

		case data := <-f.send:
			if !write(data) {
				return
			}

		case <-redraw.C:
			snap, err := f.bus.Snapshot()
			if err != nil {
				continue // bus closing; Done fires next
			}
			state, err := json.Marshal(Message{Type: MsgState, Data: snap})
			if err == nil && !bytes.Equal(state, lastState) {
				if !write(state) {
					return
				}
				lastState = state
			}
			wave, err := json.Marshal(Message{Type: MsgWaveform, Data: f.bus.Waveform()})
			if err == nil && !write(wave) {
				return
			}

		case <-ping.C:
			f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
