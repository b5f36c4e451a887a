package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/lexigrade/lexigrade-api/internal/classsync"
	"github.com/lexigrade/lexigrade-api/internal/models"
)

// ServerMessage is the envelope written to websocket clients.
type ServerMessage struct {
	Kind    string                `json:"kind"`
	ClassID string                `json:"class_id"`
	Update  *classsync.Update     `json:"update,omitempty"`
	Roster  []models.RosterMember `json:"roster,omitempty"`
	Posts   []models.Post         `json:"posts,omitempty"`
}

const (
	messageKindSnapshot = "snapshot"
	messageKindChange   = "change"
)

// Hub tracks websocket connections and per-class rooms. The first member
// joining a class opens one shared sync session for it; the last member
// leaving closes it. Change updates fan out to every room member.
type Hub struct {
	manager *classsync.Manager
	logger  *zap.Logger

	mu        sync.Mutex
	conns     map[string]*Connection
	rooms     map[string]map[string]*Connection
	connRooms map[string]map[string]struct{}
	sessions  map[string]*classsync.Session
	refcount  map[string]int
}

// NewHub constructs a Hub over the given session manager.
func NewHub(manager *classsync.Manager, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		manager:   manager,
		logger:    logger,
		conns:     make(map[string]*Connection),
		rooms:     make(map[string]map[string]*Connection),
		connRooms: make(map[string]map[string]struct{}),
		sessions:  make(map[string]*classsync.Session),
		refcount:  make(map[string]int),
	}
}

// Attach registers a connection and starts its write loop.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.connRooms[conn.ID] = make(map[string]struct{})
	h.mu.Unlock()
	conn.Start()
}

// JoinClass adds a connection to a class room and sends it the current
// snapshot. The caller has already verified membership; the sync session's
// initial load still fails closed on its own.
func (h *Hub) JoinClass(ctx context.Context, conn *Connection, cfg classsync.SessionConfig) error {
	session, err := h.acquireSession(ctx, cfg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	room := h.rooms[cfg.ClassID]
	if room == nil {
		room = make(map[string]*Connection)
		h.rooms[cfg.ClassID] = room
	}
	if _, already := room[conn.ID]; already {
		// Duplicate join from the same socket holds a single ref.
		h.refcount[cfg.ClassID]--
	}
	room[conn.ID] = conn
	h.connRooms[conn.ID][cfg.ClassID] = struct{}{}
	h.mu.Unlock()

	snapshot := ServerMessage{
		Kind:    messageKindSnapshot,
		ClassID: cfg.ClassID,
		Roster:  session.Store().Roster(),
		Posts:   session.Store().Posts(),
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return conn.Send(payload)
}

// LeaveClass removes a connection from a class room.
func (h *Hub) LeaveClass(conn *Connection, classID string) {
	h.mu.Lock()
	h.leaveLocked(conn.ID, classID)
	h.mu.Unlock()
}

// Detach removes a connection from every room and forgets it. The
// connection itself is closed by the caller's read loop.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	for classID := range h.connRooms[conn.ID] {
		h.leaveLocked(conn.ID, classID)
	}
	delete(h.connRooms, conn.ID)
	delete(h.conns, conn.ID)
	h.mu.Unlock()
}

// Shutdown closes every connection and session.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Connection)
	h.rooms = make(map[string]map[string]*Connection)
	h.connRooms = make(map[string]map[string]struct{})
	h.sessions = make(map[string]*classsync.Session)
	h.refcount = make(map[string]int)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(1001, "server shutdown")
	}
	h.manager.CloseAll()
}

// broadcast fans a merged update out to every member of the class room.
func (h *Hub) broadcast(classID string, update classsync.Update) {
	msg := ServerMessage{Kind: messageKindChange, ClassID: classID, Update: &update}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal change message", zap.Error(err))
		return
	}

	h.mu.Lock()
	room := h.rooms[classID]
	members := make([]*Connection, 0, len(room))
	for _, c := range room {
		members = append(members, c)
	}
	h.mu.Unlock()

	for _, c := range members {
		if err := c.Send(payload); err != nil {
			h.logger.Debug("drop slow client", zap.String("class_id", classID), zap.Error(err))
		}
	}
}

func (h *Hub) acquireSession(ctx context.Context, cfg classsync.SessionConfig) (*classsync.Session, error) {
	h.mu.Lock()
	if session, ok := h.sessions[cfg.ClassID]; ok {
		if session.State() != classsync.StateClosed {
			h.refcount[cfg.ClassID]++
			h.mu.Unlock()
			return session, nil
		}
		// A dead session must not be handed to new joiners; drop it and
		// open a fresh one below. Refcounts track room membership and
		// stay as they are.
		delete(h.sessions, cfg.ClassID)
	}
	h.mu.Unlock()

	// Opened outside the lock: the initial load does I/O.
	session, err := h.manager.Open(ctx, cfg, h.broadcast)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.sessions[cfg.ClassID]; ok {
		// Lost the race to another joiner; keep theirs.
		h.refcount[cfg.ClassID]++
		go h.manager.Release(session)
		return existing, nil
	}
	h.sessions[cfg.ClassID] = session
	h.refcount[cfg.ClassID]++
	return session, nil
}

func (h *Hub) leaveLocked(connID, classID string) {
	room := h.rooms[classID]
	if room == nil {
		return
	}
	if _, ok := room[connID]; !ok {
		return
	}
	delete(room, connID)
	if memberships, ok := h.connRooms[connID]; ok {
		delete(memberships, classID)
	}
	if len(room) == 0 {
		delete(h.rooms, classID)
	}

	h.refcount[classID]--
	if h.refcount[classID] <= 0 {
		delete(h.refcount, classID)
		if session, ok := h.sessions[classID]; ok {
			delete(h.sessions, classID)
			go h.manager.Release(session)
		}
	}
}
