// Package faketable provides an in-process WebSocket server speaking the
// room-store protocol, for integration tests. It keeps every collection in
// memory, arbitrates edit locks between connections, and fans out
// subscription pushes, so a test can drive two clients against one store
// without a real back end.
package faketable

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/tablekit/roomsync/pkg/connection"
	"github.com/tablekit/roomsync/pkg/constants"
	"github.com/tablekit/roomsync/pkg/models"
)

const (
	errAlreadyTouched    = "document is already touched"
	errNotTouched        = "document is not touched"
	errNoSuchDocument    = "no such document"
	errDuplicateDocument = "duplicate document"
)

// doc is the server-side record. A nil Data marks a reservation.
type doc struct {
	ID         string             `json:"id"`
	Order      float64            `json:"order"`
	Status     models.Status      `json:"status"`
	Owner      *string            `json:"owner"`
	Permission *models.Permission `json:"permission,omitempty"`
	Data       json.RawMessage    `json:"data"`
	CreateTime *time.Time         `json:"createTime,omitempty"`
	UpdateTime *time.Time         `json:"updateTime,omitempty"`

	lockedBy string // session id, empty when unlocked
}

type collection struct {
	docs []*doc // insertion order doubles as order rank
}

func (c *collection) find(id string) *doc {
	for _, d := range c.docs {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (c *collection) remove(id string) bool {
	for i, d := range c.docs {
		if d.ID == id {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			return true
		}
	}
	return false
}

type subscription struct {
	id         string
	collection string
	docID      string // empty for collection-level
	sess       *session
}

type session struct {
	id     string
	conn   *gorilla.Conn
	sendMu sync.Mutex
}

func (s *session) send(msg *connection.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn.WriteMessage(gorilla.TextMessage, data)
}

// Server is the fake store. One Server may serve any number of concurrent
// client connections, which share the store and contend for locks.
type Server struct {
	httpServer *httptest.Server

	mu            sync.Mutex
	collections   map[string]*collection
	subscriptions map[string]*subscription
	sessions      map[*session]struct{}
	failures      map[string]string
	nextSession   int
}

// New starts the fake server. Call Close when done.
func New() *Server {
	s := &Server{
		collections:   make(map[string]*collection),
		subscriptions: make(map[string]*subscription),
		sessions:      make(map[*session]struct{}),
		failures:      make(map[string]string),
	}
	upgrader := gorilla.Upgrader{}
	s.httpServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.nextSession++
		sess := &session{id: fmt.Sprintf("session-%d", s.nextSession), conn: conn}
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()
		go s.serve(sess)
	}))
	return s
}

// URL returns the ws:// address clients should dial.
func (s *Server) URL() string {
	return constants.WebsocketScheme + strings.TrimPrefix(s.httpServer.URL, "http")
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// Seed inserts a materialized document directly into the store, bypassing the
// protocol. Owner may be empty.
func (s *Server) Seed(collectionName, id string, data any, owner string) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	now := time.Now()
	d := &doc{
		ID:         id,
		Status:     models.StatusInitial,
		Permission: models.PermissionDefault(),
		Data:       raw,
		CreateTime: &now,
		UpdateTime: &now,
	}
	if owner != "" {
		d.Owner = &owner
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collection(collectionName)
	d.Order = float64(len(col.docs))
	col.docs = append(col.docs, d)
}

// LockHolder reports which session holds the lock on a document; empty when
// unlocked or absent. Test inspection only.
func (s *Server) LockHolder(collectionName, id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.collection(collectionName).find(id); d != nil {
		return d.lockedBy
	}
	return ""
}

// DocCount reports the number of documents (reservations included) in a
// collection. Test inspection only.
func (s *Server) DocCount(collectionName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collection(collectionName).docs)
}

// FailNext makes the next request carrying the given event fail with the
// given error string, then clears itself.
func (s *Server) FailNext(event, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[event] = errText
}

// DropConnections severs every live client connection without stopping the
// server, so clients can exercise their reconnect path.
func (s *Server) DropConnections() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.conn.Close()
	}
}

// PushChanges injects a raw collection-level diff batch into every matching
// subscription, as if the store had changed behind the client's back.
func (s *Server) PushChanges(collectionName string, changes []models.Change) {
	s.mu.Lock()
	subs := s.matchingSubs(collectionName, "")
	s.mu.Unlock()
	for _, sub := range subs {
		sub.sess.send(&connection.Message{Subscription: sub.id, Changes: changes})
	}
}

func (s *Server) collection(name string) *collection {
	col, ok := s.collections[name]
	if !ok {
		col = &collection{}
		s.collections[name] = col
	}
	return col
}

func (s *Server) serve(sess *session) {
	defer func() {
		sess.conn.Close()
		s.mu.Lock()
		delete(s.sessions, sess)
		for id, sub := range s.subscriptions {
			if sub.sess == sess {
				delete(s.subscriptions, id)
			}
		}
		// A vanished client must not pin locks forever.
		for _, col := range s.collections {
			for _, d := range col.docs {
				if d.lockedBy == sess.id {
					d.lockedBy = ""
				}
			}
		}
		s.mu.Unlock()
	}()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg connection.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.dispatch(sess, &msg)
	}
}

func (s *Server) dispatch(sess *session, msg *connection.Message) {
	var result any
	var errText string

	s.mu.Lock()
	if injected, ok := s.failures[msg.Event]; ok {
		delete(s.failures, msg.Event)
		s.mu.Unlock()
		reply := &connection.Message{Event: connection.ResultEvent(msg.Event), ID: msg.ID, Error: &injected}
		sess.send(reply)
		return
	}
	s.mu.Unlock()

	switch msg.Event {
	case connection.EventTouchData:
		result, errText = s.touch(sess, msg.Data)
	case connection.EventTouchDataModify:
		errText = s.touchModify(sess, msg.Data)
	case connection.EventReleaseTouchData:
		errText = s.releaseTouch(sess, msg.Data)
	case connection.EventCreateData:
		result, errText = s.create(sess, msg.Data)
	case connection.EventAddDirectData:
		result, errText = s.addDirect(msg.Data)
	case connection.EventUpdateData:
		errText = s.update(sess, msg.Data)
	case connection.EventDeleteData:
		errText = s.delete(sess, msg.Data)
	case connection.MethodGetList:
		result, errText = s.getList(msg.Data)
	case connection.MethodGetData:
		result, errText = s.getData(msg.Data)
	case connection.MethodFindData:
		result, errText = s.findData(msg.Data)
	case connection.MethodSetSnapshot:
		errText = s.setSnapshot(sess, msg.Data)
	case connection.MethodRemoveSnapshot:
		errText = s.removeSnapshot(msg.Data)
	default:
		errText = "unknown event " + msg.Event
	}

	reply := &connection.Message{Event: connection.ResultEvent(msg.Event), ID: msg.ID}
	if errText != "" {
		reply.Error = &errText
	} else if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			text := err.Error()
			reply.Error = &text
		} else {
			reply.Result = raw
		}
	}
	sess.send(reply)
}

func (s *Server) touch(sess *session, data json.RawMessage) (any, string) {
	var req connection.TouchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collection(req.Collection)

	id := req.ID
	if id == "" {
		id = ulid.Make().String()
	} else if col.find(id) != nil {
		return nil, errDuplicateDocument
	}
	col.docs = append(col.docs, &doc{
		ID:       id,
		Order:    float64(len(col.docs)),
		Status:   models.StatusInitial,
		lockedBy: sess.id,
	})
	return id, ""
}

func (s *Server) touchModify(sess *session, data json.RawMessage) string {
	var req connection.TouchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.collection(req.Collection).find(req.ID)
	if d == nil {
		return errNoSuchDocument
	}
	if d.lockedBy != "" && d.lockedBy != sess.id {
		return errAlreadyTouched
	}
	d.lockedBy = sess.id
	return ""
}

func (s *Server) releaseTouch(sess *session, data json.RawMessage) string {
	var req connection.TouchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collection(req.Collection)
	d := col.find(req.ID)
	if d == nil {
		return errNoSuchDocument
	}
	if d.lockedBy != sess.id {
		return errAlreadyTouched
	}
	if d.Data == nil {
		// Releasing an unpopulated reservation discards it.
		col.remove(req.ID)
		return ""
	}
	d.lockedBy = ""
	return ""
}

func (s *Server) create(sess *session, data json.RawMessage) (any, string) {
	var req connection.CreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err.Error()
	}

	s.mu.Lock()
	d := s.collection(req.Collection).find(req.ID)
	if d == nil {
		s.mu.Unlock()
		return nil, errNoSuchDocument
	}
	if d.lockedBy != "" && d.lockedBy != sess.id {
		s.mu.Unlock()
		return nil, errAlreadyTouched
	}
	now := time.Now()
	d.Data = req.Data
	d.Permission = req.Permission
	d.Status = models.StatusInitial
	d.CreateTime = &now
	d.UpdateTime = &now
	d.lockedBy = ""
	subs := s.matchingSubs(req.Collection, req.ID)
	frames := s.buildPushes(subs, req.Collection, d, models.ChangeAdded)
	s.mu.Unlock()

	s.deliver(frames)
	return req.ID, ""
}

func (s *Server) addDirect(data json.RawMessage) (any, string) {
	var req connection.DirectAddRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err.Error()
	}

	s.mu.Lock()
	col := s.collection(req.Collection)
	ids := make([]string, 0, len(req.List))
	var frames []frame
	now := time.Now()
	for _, entry := range req.List {
		perm := entry.Permission
		if perm == nil {
			perm = models.PermissionDefault()
		}
		d := &doc{
			ID:         ulid.Make().String(),
			Order:      float64(len(col.docs)),
			Status:     models.StatusInitial,
			Owner:      entry.Owner,
			Permission: perm,
			Data:       entry.Data,
			CreateTime: &now,
			UpdateTime: &now,
		}
		col.docs = append(col.docs, d)
		ids = append(ids, d.ID)
		subs := s.matchingSubs(req.Collection, d.ID)
		frames = append(frames, s.buildPushes(subs, req.Collection, d, models.ChangeAdded)...)
	}
	s.mu.Unlock()

	s.deliver(frames)
	return ids, ""
}

func (s *Server) update(sess *session, data json.RawMessage) string {
	var req connection.UpdateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err.Error()
	}

	s.mu.Lock()
	d := s.collection(req.Collection).find(req.ID)
	if d == nil {
		s.mu.Unlock()
		return errNoSuchDocument
	}
	if d.lockedBy == "" {
		s.mu.Unlock()
		return errNotTouched
	}
	if d.lockedBy != sess.id {
		s.mu.Unlock()
		return errAlreadyTouched
	}
	now := time.Now()
	d.Data = req.Data
	d.Status = models.StatusModified
	d.UpdateTime = &now
	if req.Permission != nil {
		d.Permission = req.Permission
	}
	if req.Owner != nil {
		d.Owner = req.Owner
	}
	if req.Continuous {
		d.lockedBy = sess.id
	} else {
		d.lockedBy = ""
	}
	subs := s.matchingSubs(req.Collection, req.ID)
	frames := s.buildPushes(subs, req.Collection, d, models.ChangeModified)
	s.mu.Unlock()

	s.deliver(frames)
	return ""
}

func (s *Server) delete(sess *session, data json.RawMessage) string {
	var req connection.DeleteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err.Error()
	}

	s.mu.Lock()
	col := s.collection(req.Collection)
	d := col.find(req.ID)
	if d == nil {
		s.mu.Unlock()
		return errNoSuchDocument
	}
	if d.lockedBy == "" {
		s.mu.Unlock()
		return errNotTouched
	}
	if d.lockedBy != sess.id {
		s.mu.Unlock()
		return errAlreadyTouched
	}
	col.remove(req.ID)
	subs := s.matchingSubs(req.Collection, req.ID)
	frames := s.buildPushes(subs, req.Collection, d, models.ChangeRemoved)
	s.mu.Unlock()

	s.deliver(frames)
	return ""
}

func (s *Server) getList(data json.RawMessage) (any, string) {
	var req connection.ListRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collection(req.Collection)
	out := make([]*doc, len(col.docs))
	copy(out, col.docs)
	return out, ""
}

func (s *Server) getData(data json.RawMessage) (any, string) {
	var req connection.GetRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.collection(req.Collection).find(req.ID)
	if d == nil {
		return nil, ""
	}
	return d, ""
}

func (s *Server) findData(data json.RawMessage) (any, string) {
	var req connection.FindRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err.Error()
	}
	want, err := json.Marshal(req.Value)
	if err != nil {
		return nil, err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*doc{}
	for _, d := range s.collection(req.Collection).docs {
		if d.Data == nil {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(d.Data, &fields); err != nil {
			continue
		}
		if got, ok := fields[req.Property]; ok && string(got) == string(want) {
			out = append(out, d)
		}
	}
	return out, ""
}

func (s *Server) setSnapshot(sess *session, data json.RawMessage) string {
	var req connection.SnapshotRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[req.Subscription] = &subscription{
		id:         req.Subscription,
		collection: req.Collection,
		docID:      req.ID,
		sess:       sess,
	}
	return ""
}

func (s *Server) removeSnapshot(data json.RawMessage) string {
	var req connection.SnapshotRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, req.Subscription)
	return ""
}

// matchingSubs is called with s.mu held.
func (s *Server) matchingSubs(collectionName, docID string) []*subscription {
	var out []*subscription
	for _, sub := range s.subscriptions {
		if sub.collection != collectionName {
			continue
		}
		if sub.docID == "" || sub.docID == docID {
			out = append(out, sub)
		}
	}
	return out
}

// frame is one push message bound to the session it goes to, built under the
// store lock and delivered after it is dropped.
type frame struct {
	sess *session
	msg  *connection.Message
}

// buildPushes is called with s.mu held.
func (s *Server) buildPushes(subs []*subscription, collectionName string, d *doc, change models.ChangeType) []frame {
	if len(subs) == 0 {
		return nil
	}
	docRaw, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	out := make([]frame, 0, len(subs))
	for _, sub := range subs {
		msg := &connection.Message{Subscription: sub.id}
		if sub.docID == "" {
			c := models.Change{Type: change, Ref: models.DocRef{ID: d.ID}}
			if change != models.ChangeRemoved {
				c.Data = docRaw
			}
			msg.Changes = []models.Change{c}
		} else {
			snap := map[string]any{"exists": change != models.ChangeRemoved}
			if change != models.ChangeRemoved {
				snap["data"] = json.RawMessage(docRaw)
			}
			raw, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			msg.Snapshot = raw
		}
		out = append(out, frame{sess: sub.sess, msg: msg})
	}
	return out
}

func (s *Server) deliver(frames []frame) {
	for _, f := range frames {
		f.sess.send(f.msg)
	}
}
