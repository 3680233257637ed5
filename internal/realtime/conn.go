package realtime

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin checks belong to the fronting proxy
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Identity is the opaque result of authentication: who the connection is and
// whether it may join the admin room. Credential validation happens upstream.
type Identity struct {
	OwnerID string
	Admin   bool
}

// controlMessage is what clients send to manage their subscriptions.
type controlMessage struct {
	Action string `json:"action"` // subscribe | unsubscribe
	Room   string `json:"room"`
}

// allowed reports whether the identity may join room: admins join the admin
// room, everyone joins their own user room.
func (id Identity) allowed(room string) bool {
	if room == AdminRoom {
		return id.Admin
	}
	return room == UserRoom(id.OwnerID)
}

// ServeWS upgrades the request and runs the connection against the hub until
// the peer goes away. All subscriptions vanish with the connection.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, identity Identity) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}

	session := hub.NewSession(sendBuffer)
	// a customer connection is always in its own room
	if identity.OwnerID != "" {
		hub.Subscribe(session, UserRoom(identity.OwnerID))
	}
	if identity.Admin {
		hub.Subscribe(session, AdminRoom)
	}

	go writePump(conn, session)
	readPump(conn, hub, session, identity)
}

func readPump(conn *websocket.Conn, hub *Hub, session *Session, identity Identity) {
	defer func() {
		hub.Disconnect(session)
		conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read: %v", err)
			}
			return
		}
		switch msg.Action {
		case "subscribe":
			if identity.allowed(msg.Room) {
				hub.Subscribe(session, msg.Room)
			}
		case "unsubscribe":
			hub.Unsubscribe(session, msg.Room)
		}
	}
}

func writePump(conn *websocket.Conn, session *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case env, ok := <-session.C():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
