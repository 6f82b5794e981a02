package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"chatroom_realtime_service/internal/chat/domain"
	"chatroom_realtime_service/internal/chat/session"
	"chatroom_realtime_service/pkg"
	"chatroom_realtime_service/pkg/config"
	"chatroom_realtime_service/pkg/logger"
	"chatroom_realtime_service/pkg/middlewares"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	defaultPingInterval      = 30 * time.Second
	defaultReconnectRetry    = 3
	defaultReconnectInterval = 500 * time.Millisecond
)

var (
	errConnClosed          = errors.New("websocket connection closed")
	errReconnectInProgress = errors.New("reconnect in progress")
)

// ChatWebsocketHandler 每條連線一個 session
type ChatWebsocketHandler struct {
	roomUC    *RoomUseCase
	messageUC *MessageUseCase
	store     session.MessageStore
	kv        session.KVStore
	transport session.Transport
	cfg       config.SyncConfig
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(
	roomUC *RoomUseCase,
	messageUC *MessageUseCase,
	store session.MessageStore,
	kv session.KVStore,
	transport session.Transport,
	syncCfg config.SyncConfig,
) *ChatWebsocketHandler {
	if syncCfg.PingInterval <= 0 {
		syncCfg.PingInterval = defaultPingInterval
	}
	if syncCfg.ReconnectRetry <= 0 {
		syncCfg.ReconnectRetry = defaultReconnectRetry
	}
	if syncCfg.ReconnectInterval <= 0 {
		syncCfg.ReconnectInterval = defaultReconnectInterval
	}
	return &ChatWebsocketHandler{
		roomUC:    roomUC,
		messageUC: messageUC,
		store:     store,
		kv:        kv,
		transport: transport,
		cfg:       syncCfg,
	}
}

// wsClient one device connection
type wsClient struct {
	h      *ChatWebsocketHandler
	conn   *websocket.Conn
	userID string
	ctx    context.Context
	sess   *session.Session

	writeMu      sync.Mutex
	closed       atomic.Bool
	reconnecting atomic.Bool
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	memberID, _ := conn.Locals(middlewares.TokenUserID).(string)
	if memberID == "" {
		closeWebSocketConnection(conn, websocket.ClosePolicyViolation, "missing user")
		return
	}
	deviceID, _ := conn.Locals(middlewares.TokenDeviceID).(string)
	logger.Log.Info("websocket connected", zap.String("userID", memberID), zap.String("deviceID", deviceID))

	ctxClose, cancel := context.WithCancel(ctx)
	client := &wsClient{h: h, conn: conn, userID: memberID, ctx: ctxClose}

	sess, err := session.New(session.Config{
		UserID:   memberID,
		DeviceID: deviceID,
		Scope:    session.ParseScope(h.cfg.ChannelScope),
		PageSize: h.cfg.PageSize,
	}, session.Dependencies{
		Store:     h.store,
		Writer:    h.messageUC,
		KV:        h.kv,
		Transport: h.transport,
		Rooms:     h.roomUC,
		Badge:     NewDeviceBadge(h.kv, memberID, client.notifyBadge),
		Listener:  client.onUpdate,
	})
	if err != nil {
		cancel()
		logger.Log.Error("create session failed", zap.String("userID", memberID), zap.Error(err))
		closeWebSocketConnection(conn, websocket.CloseInternalServerErr, "session unavailable")
		return
	}
	client.sess = sess

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		client.closed.Store(true)
		cancel()
		sess.Stop()
		logger.Log.Info("websocket close", zap.String("userID", memberID))
		conn.Close()
	}()

	//client發出close
	//fiber會自動處理(在read msg 回傳err),故需要SetCloseHandler另外接出
	conn.SetCloseHandler(func(code int, text string) error {
		logger.Log.Info("websocket closed by client", zap.String("userID", memberID), zap.Int("code", code))
		return nil
	})

	//server發出ping之後client連線正常會回pong
	conn.SetPongHandler(func(appData string) error {
		logger.Log.Debug("received pong", zap.String("userID", memberID))
		return nil
	})

	//client發出ping
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(appData),
			time.Now().Add(time.Second),
		)
	})

	if err := sess.Start(ctxClose); err != nil {
		// 訂閱失敗仍可操作，之後由 reconnect 補上
		logger.Log.Warn("session start failed", zap.String("userID", memberID), zap.Error(err))
		go client.reconnect()
	}

	// 定期發送 Ping
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := client.write(websocket.PingMessage, []byte("ping")); err != nil {
					logger.Log.Warn("ping failed", zap.String("userID", memberID), zap.Error(err))
					return
				}
			case <-ctxClose.Done():
				return
			}
		}
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Info("connection closed", zap.String("userID", memberID))
			} else {
				//直接斷線 1006
				logger.Log.Warn("websocket read error", zap.String("userID", memberID), zap.Error(err))
			}
			return
		}
		h.execWebsocketAction(client, mt, message)
	}
}

func (h *ChatWebsocketHandler) execWebsocketAction(client *wsClient, mt int, msg []byte) {
	switch mt {
	case websocket.TextMessage:
		h.textMessageAction(client, msg)

	//! close ping pong fiber會自動處理，故需使用setHandler處理
	default:
		h.sendError(client, "unsupported message type")
	}
}

func (h *ChatWebsocketHandler) textMessageAction(client *wsClient, msg []byte) {
	var req domain.WSRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		h.sendError(client, "invalid request")
		return
	}

	ctx := client.ctx
	sess := client.sess
	memberID := client.userID
	resp := domain.WSResponse{Action: req.Action, Success: false, Payload: map[string]interface{}{}}

	var err error
	switch domain.Action(req.Action) {
	//建立聊天室
	case domain.CreateRoom:
		var room *domain.Chatroom
		if room, err = h.roomUC.Create(ctx, memberID, req.RoomName, req.Capacity, req.Nickname); err == nil {
			resp.Payload["room"] = room
			h.roomsChanged(client)
		}

	//加入聊天室
	case domain.JoinRoom:
		var p *domain.ChatroomParticipant
		if p, err = h.roomUC.Join(ctx, req.RoomID, memberID, req.Nickname); err == nil {
			resp.Payload["participant"] = p
			h.roomsChanged(client)
		}

	case domain.Rename:
		if err = h.roomUC.Rename(ctx, req.RoomID, memberID, req.Nickname); err == nil {
			resp.Payload["nickname"] = req.Nickname
		}

	//離開聊天室
	case domain.ExitRoom:
		if err = h.roomUC.Exit(ctx, req.RoomID, memberID); err == nil {
			resp.Payload["room_id"] = req.RoomID
			h.roomsChanged(client)
		}

	case domain.Kick:
		err = h.roomUC.Kick(ctx, req.RoomID, memberID, req.TargetID)

	case domain.Ban:
		err = h.roomUC.Ban(ctx, req.RoomID, memberID, req.TargetID)

	case domain.TransferHost:
		err = h.roomUC.TransferHost(ctx, req.RoomID, memberID, req.TargetID)

	//進入聊天室
	case domain.EnterRoom:
		err = h.enterRoom(client, req.RoomID, resp.Payload)

	case domain.LoadMore:
		var page domain.MessagePage
		if page, err = sess.LoadMore(ctx, req.RoomID); err == nil {
			pagePayload(resp.Payload, page)
		}

	//離開畫面，仍是成員
	case domain.LeaveRoom:
		if err = sess.CloseRoom(ctx, req.RoomID); err == nil {
			resp.Payload["room_id"] = req.RoomID
		}

	case domain.SendMessage:
		var m *domain.Message
		if m, err = sess.SendMessage(ctx, req.RoomID, req.Content); err == nil {
			resp.Payload["message"] = m
		}

	case domain.DeleteMessage:
		var m *domain.Message
		if m, err = sess.DeleteMessage(ctx, req.RoomID, req.MessageID); err == nil {
			resp.Payload["message"] = m
		}

	case domain.EditMessage:
		var m *domain.Message
		if m, err = sess.EditMessage(ctx, req.RoomID, req.MessageID, req.Content); err == nil {
			resp.Payload["message"] = m
		}

	//只對自己隱藏
	case domain.HideMessage:
		sess.HideMessage(ctx, req.RoomID, req.MessageID)
		resp.Payload["message_id"] = req.MessageID

	//讀取訊息 將未讀訊息改為已讀
	case domain.ReadRoom:
		var cleared int
		if cleared, err = sess.MarkRead(ctx, req.RoomID); err == nil {
			resp.Payload["room_id"] = req.RoomID
			resp.Payload["cleared"] = cleared
		}

	//搜尋未讀數量
	case domain.GetUnread:
		rooms := sess.Rooms()
		if req.RoomID != "" {
			rooms = []string{req.RoomID}
		}
		for _, roomID := range rooms {
			n, cerr := sess.UnreadCount(ctx, roomID)
			if cerr != nil {
				err = cerr
				break
			}
			resp.Payload[roomID] = n
		}

	case domain.Foreground:
		var total int
		if total, err = sess.Foreground(ctx); err == nil {
			resp.Payload["badge"] = total
		}

	case domain.Reconnect:
		if err = client.reconnect(); err == nil {
			resp.Payload["channels"] = sess.Channels()
		}

	default:
		h.sendError(client, "unknown action")
		return
	}

	if err != nil {
		resp.Error = err.Error()
		resp.Conflict = domain.IsConflict(err)
		logger.Log.Warn("websocket action failed", zap.String("userID", memberID), zap.String("Action", req.Action), zap.Error(err))
	} else {
		resp.Success = true
	}
	h.sendResponse(client, resp)
}

// enterRoom open feed of a joined room with unread count and participants
func (h *ChatWebsocketHandler) enterRoom(client *wsClient, roomID string, payload map[string]interface{}) error {
	ctx := client.ctx
	sess := client.sess
	if !pkg.Contains(sess.Rooms(), roomID) {
		return domain.ErrNotParticipant
	}

	page, err := sess.OpenRoom(ctx, roomID)
	if err != nil {
		return err
	}
	pagePayload(payload, page)

	unread, err := sess.UnreadCount(ctx, roomID)
	if err != nil {
		return err
	}
	payload["unread"] = unread

	participants, err := h.roomUC.Participants(ctx, roomID)
	if err != nil {
		return err
	}
	sess.MarkParticipantsFresh(roomID)
	payload["participants"] = participants
	payload["room_id"] = roomID
	return nil
}

func (h *ChatWebsocketHandler) roomsChanged(client *wsClient) {
	if err := client.sess.RoomsChanged(client.ctx); err != nil {
		logger.Log.Warn("resync rooms failed", zap.String("userID", client.userID), zap.Error(err))
	}
}

func pagePayload(payload map[string]interface{}, page domain.MessagePage) {
	msgs := page.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	payload["messages"] = msgs
	payload["has_more"] = page.HasMore
	payload["next_cursor"] = page.NextCursor
}

// onUpdate session listener, called from channel goroutines
func (c *wsClient) onUpdate(u session.Update) {
	switch u.Kind {
	case session.UpdateMessageCreated:
		payload := map[string]interface{}{
			"chatroom_id": u.ChatroomID,
			"message":     u.Message,
		}
		if u.Unread != nil {
			payload["unread"] = *u.Unread
		}
		if c.sess != nil && c.sess.ParticipantsStale(u.ChatroomID) {
			payload["participants_stale"] = true
		}
		c.h.sendResponse(c, domain.WSResponse{Action: string(domain.NotifyMessageCreated), Success: true, Payload: payload})

	case session.UpdateMessageDeleted:
		c.h.sendResponse(c, domain.WSResponse{Action: string(domain.NotifyMessageDeleted), Success: true, Payload: map[string]interface{}{
			"chatroom_id": u.ChatroomID,
			"message_id":  u.MessageID,
		}})

	case session.UpdateChannelDropped:
		c.h.sendResponse(c, domain.WSResponse{Action: string(domain.NotifyChannelDropped), Success: true, Payload: map[string]interface{}{
			"channel": u.Channel,
		}})
		go func() {
			_ = c.reconnect()
		}()

	case session.UpdateResynced:
		// retry 中的每一次結果由 reconnect 統一回報
		if c.reconnecting.Load() {
			return
		}
		c.sendResynced(u.Err)
	}
}

// reconnect retry session reconnect with exponential backoff, only one loop runs at a time.
// A second caller gets errReconnectInProgress, the running loop reports the result.
func (c *wsClient) reconnect() error {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return errReconnectInProgress
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.h.cfg.ReconnectInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.h.cfg.ReconnectRetry)), c.ctx)

	err := backoff.Retry(func() error {
		// Start 時沒拿到房間清單就先補
		if len(c.sess.Rooms()) == 0 {
			if err := c.sess.RoomsChanged(c.ctx); err != nil {
				return err
			}
		}
		return c.sess.Reconnect(c.ctx)
	}, policy)
	c.reconnecting.Store(false)

	if err != nil {
		logger.Log.Warn("reconnect gave up", zap.String("userID", c.userID), zap.Error(err))
	}
	c.sendResynced(err)
	return err
}

func (c *wsClient) sendResynced(err error) {
	resp := domain.WSResponse{Action: string(domain.NotifyResynced), Success: err == nil, Payload: map[string]interface{}{}}
	if c.sess != nil {
		resp.Payload["channels"] = c.sess.Channels()
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.h.sendResponse(c, resp)
}

func (c *wsClient) notifyBadge(n int) {
	c.h.sendResponse(c, domain.WSResponse{Action: string(domain.NotifyBadge), Success: true, Payload: map[string]interface{}{
		"count": n,
	}})
}

// write 所有寫入都經過同一把鎖
func (c *wsClient) write(mt int, data []byte) error {
	if c.closed.Load() {
		return errConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(mt, data)
}

// sendResponse - 發送 JSON 給前端
func (h *ChatWebsocketHandler) sendResponse(client *wsClient, resp domain.WSResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		logger.Log.Error("marshal response failed", zap.Error(err))
		return
	}
	if err := client.write(websocket.TextMessage, b); err != nil {
		logger.Log.Warn("write message error", zap.String("userID", client.userID), zap.Error(err))
	}
}

func (h *ChatWebsocketHandler) sendError(client *wsClient, errorMsg string) {
	resp := domain.WSResponse{
		Action:  "error",
		Success: false,
		Payload: map[string]interface{}{
			"error": errorMsg,
		},
	}
	h.sendResponse(client, resp)
}

func closeWebSocketConnection(conn *websocket.Conn, code int, reason string) {
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
		logger.Log.Warn("send close message failed", zap.Error(err))
	}
	conn.Close()
}
