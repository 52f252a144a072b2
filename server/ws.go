package server

import (
	"encoding/json"
	"net/http"
	"time"

	"wavedeck/logger"
	"wavedeck/model"
	"wavedeck/protocol"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS WebSocket控制端点。连接建立后先完成注册握手，
// 之后该连接的命令按到达顺序串行处理。
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	conn := newConn(ws)
	go conn.WritePump()

	// 注册是每个连接交换的第一条消息
	_ = conn.SendJSON(map[string]string{"command": string(protocol.CmdRegisterRequest)})

	client, ok := s.awaitRegistration(conn)
	if !ok {
		conn.Close()
		ws.Close()
		return
	}

	conn.bind(client.ID)
	s.hub.Bind(client.ID, conn)

	_ = conn.SendJSON(protocol.Success(protocol.CmdRegisterSuccess,
		map[string]string{"client_id": client.ID}))

	// 连接即推送初始状态
	s.broadcaster.Push(client.ID)

	s.readLoop(conn, client)
}

// awaitRegistration 等待REGISTER命令，超时断开连接。
// 注册前的任何其他命令以 NotRegistered 拒绝。
func (s *Server) awaitRegistration(conn *Conn) (*model.Client, bool) {
	deadline := time.Now().Add(s.cfg.RegisterTimeout)
	conn.ws.SetReadLimit(maxMessageSize)

	for {
		if err := conn.ws.SetReadDeadline(deadline); err != nil {
			return nil, false
		}

		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			logger.Info("connection closed before registration", logger.ErrorField(err))
			return nil, false
		}

		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = conn.SendJSON(protocol.Failure("",
				protocol.NewCommandError(protocol.CodeUnknownCommand, "invalid message format")))
			continue
		}

		if msg.Command != protocol.CmdRegister {
			_ = conn.SendJSON(protocol.Failure(msg.Command,
				protocol.NewCommandError(protocol.CodeNotRegistered,
					"registration required before any other command")))
			continue
		}

		var data protocol.RegisterData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				_ = conn.SendJSON(protocol.Failure(msg.Command,
					protocol.NewCommandError(protocol.CodeUnknownCommand, "invalid register data")))
				continue
			}
		}

		role, err := model.ParseClientRole(data.ClientType)
		if err != nil {
			_ = conn.SendJSON(protocol.Failure(msg.Command,
				protocol.NewCommandError(protocol.CodeRoleMismatch, err.Error())))
			continue
		}

		return s.registry.Register(role, data.Metadata), true
	}
}

// readLoop 注册后的消息循环。断连时无条件触发注销清理，
// 清理不可取消，必须运行到底。
func (s *Server) readLoop(conn *Conn, client *model.Client) {
	defer func() {
		s.hub.Unbind(client.ID)
		conn.Close()
		conn.ws.Close()

		// 清理在独立协程中完成，不受连接生命周期影响
		done := make(chan struct{})
		go func() {
			s.registry.Deregister(client.ID)
			close(done)
		}()
		<-done
	}()

	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.String("clientId", client.ID))
			}
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("invalid message format",
				logger.ErrorField(err),
				logger.String("clientId", client.ID))
			_ = conn.SendJSON(protocol.Failure("",
				protocol.NewCommandError(protocol.CodeUnknownCommand, "invalid message format")))
			continue
		}

		s.registry.Touch(client.ID)

		// 同一连接上的重复注册
		if msg.Command == protocol.CmdRegister {
			_ = conn.SendJSON(protocol.Failure(msg.Command,
				protocol.NewCommandError(protocol.CodeDuplicateRegistration,
					"connection already registered as "+client.ID)))
			continue
		}

		reply := s.router.Dispatch(client, &msg)
		if reply != nil {
			_ = conn.SendJSON(reply)
		}
	}
}
