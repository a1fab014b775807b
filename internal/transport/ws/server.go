package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"actorsim/internal/protocol"
	"actorsim/internal/sim/world"
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}
		s.printf("session %s connected from %s", sessionID, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Replies from the reader loop go through the writer; a conn allows
		// one writer at a time.
		replies := make(chan []byte, 8)

		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-replies:
				case b = <-out:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					_ = conn.Close()
					return
				}
			}
		}()

		// Subscribers may stay silent for as long as they like.
		_ = conn.SetReadDeadline(time.Time{})
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if e := s.handleMessage(sessionID, msg); e != nil {
				b, _ := json.Marshal(e)
				select {
				case replies <- b:
				default:
				}
			}
		}

		cancel()
		s.world.Leave() <- sessionID
		s.printf("session %s disconnected", sessionID)
	}
}

// handleMessage validates an inbound message and forwards commands to the
// world. A non-nil result is sent back to the client.
func (s *Server) handleMessage(sessionID string, msg []byte) *protocol.ErrorMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errMsg(protocol.ErrProtoBadRequest, "invalid json")
	}
	if base.Type != protocol.TypeCmdPose {
		return errMsg(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
	}
	if base.ProtocolVersion != protocol.Version {
		return errMsg(protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version)
	}
	if err := protocol.Validate(protocol.TypeCmdPose, msg); err != nil {
		return errMsg(protocol.ErrProtoBadRequest, err.Error())
	}
	var cmd protocol.CmdPoseMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return errMsg(protocol.ErrProtoBadRequest, err.Error())
	}
	if _, ok := s.world.LookupCmdTopic(cmd.Topic); !ok {
		return errMsg(protocol.ErrUnknownTopic, "no actor listens on "+cmd.Topic)
	}
	select {
	case s.world.Inbox() <- world.CommandEnvelope{SessionID: sessionID, Cmd: cmd}:
		return nil
	default:
		return errMsg(protocol.ErrWorldBusy, "command queue full")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", nil
	}
	if base.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version))
		closeWith(conn, "bad protocol_version")
		return "", nil
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
		closeWith(conn, "bad HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		ClientName: hello.ClientName,
		Subscribe:  hello.Subscribe,
		Out:        out,
		Resp:       respCh,
	}
	resp := <-respCh

	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.world.Leave() <- resp.Welcome.SessionID
		return "", nil
	}
	for _, topic := range resp.Unknown {
		if err := writeJSON(conn, protocol.NewError(protocol.ErrUnknownTopic, "unknown topic "+topic)); err != nil {
			s.world.Leave() <- resp.Welcome.SessionID
			return "", nil
		}
	}
	return resp.Welcome.SessionID, out
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func errMsg(code, msg string) *protocol.ErrorMsg {
	e := protocol.NewError(code, msg)
	return &e
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
