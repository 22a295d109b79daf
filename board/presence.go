package board

import (
	"slices"
	"sync"

	"golang.org/x/exp/maps"
)

// ephemeral per-connection state. broadcast to peers, never persisted,
// destroyed on disconnect. only the originating connection writes its
// own presence, so remote updates replace wholesale with no merge.
type Presence struct {
	ConnectionId Id      `json:"connectionId"`
	UserId       Id      `json:"userId,omitempty"`
	DisplayName  string  `json:"displayName,omitempty"`
	Cursor       *Point  `json:"cursor,omitempty"`
	Selection    []Id    `json:"selection,omitempty"`
	Draft        []Point `json:"draft,omitempty"`
	Camera       Camera  `json:"camera"`
}

func (self *Presence) Clone() *Presence {
	clone := *self
	if self.Cursor != nil {
		cursor := *self.Cursor
		clone.Cursor = &cursor
	}
	clone.Selection = slices.Clone(self.Selection)
	clone.Draft = slices.Clone(self.Draft)
	return &clone
}

// fires with the updated presence, or nil when the connection dropped
type PresenceFunction func(connectionId Id, presence *Presence)

type PresenceStore struct {
	mutex   sync.Mutex
	local   *Presence
	remotes map[Id]*Presence

	// local changes, consumed by the session for broadcast
	localCallbacks *CallbackList[PresenceFunction]
	// local and remote changes, consumed by the render layer
	callbacks *CallbackList[PresenceFunction]
}

func NewPresenceStore(connectionId Id) *PresenceStore {
	return &PresenceStore{
		local: &Presence{
			ConnectionId: connectionId,
			Camera:       DefaultCamera(),
		},
		remotes:        map[Id]*Presence{},
		localCallbacks: NewCallbackList[PresenceFunction](),
		callbacks:      NewCallbackList[PresenceFunction](),
	}
}

func (self *PresenceStore) AddLocalCallback(callback PresenceFunction) func() {
	callbackId := self.localCallbacks.Add(callback)
	return func() {
		self.localCallbacks.Remove(callbackId)
	}
}

func (self *PresenceStore) AddCallback(callback PresenceFunction) func() {
	callbackId := self.callbacks.Add(callback)
	return func() {
		self.callbacks.Remove(callbackId)
	}
}

func (self *PresenceStore) SetCursor(cursor *Point) {
	self.updateLocal(func(presence *Presence) {
		if cursor == nil {
			presence.Cursor = nil
		} else {
			c := *cursor
			presence.Cursor = &c
		}
	})
}

func (self *PresenceStore) SetSelection(selection []Id) {
	self.updateLocal(func(presence *Presence) {
		presence.Selection = slices.Clone(selection)
	})
}

func (self *PresenceStore) SetDraft(draft []Point) {
	self.updateLocal(func(presence *Presence) {
		presence.Draft = slices.Clone(draft)
	})
}

func (self *PresenceStore) SetCamera(camera Camera) {
	self.updateLocal(func(presence *Presence) {
		presence.Camera = camera
	})
}

func (self *PresenceStore) SetIdentity(userId Id, displayName string) {
	self.updateLocal(func(presence *Presence) {
		presence.UserId = userId
		presence.DisplayName = displayName
	})
}

func (self *PresenceStore) updateLocal(update func(presence *Presence)) {
	self.mutex.Lock()
	update(self.local)
	local := self.local.Clone()
	self.mutex.Unlock()

	for _, callback := range self.localCallbacks.Get() {
		func() {
			defer recoverLog("[prs]local callback")
			callback(local.ConnectionId, local)
		}()
	}
	self.notify(local.ConnectionId, local)
}

// Remote replaces a peer connection's presence wholesale
func (self *PresenceStore) Remote(connectionId Id, presence *Presence) {
	if presence == nil {
		self.DropConnection(connectionId)
		return
	}
	self.mutex.Lock()
	if connectionId == self.local.ConnectionId {
		// advisory only. a peer may not write our presence.
		self.mutex.Unlock()
		return
	}
	presence = presence.Clone()
	presence.ConnectionId = connectionId
	self.remotes[connectionId] = presence
	self.mutex.Unlock()

	self.notify(connectionId, presence)
}

func (self *PresenceStore) DropConnection(connectionId Id) {
	self.mutex.Lock()
	_, ok := self.remotes[connectionId]
	delete(self.remotes, connectionId)
	self.mutex.Unlock()

	if ok {
		self.notify(connectionId, nil)
	}
}

func (self *PresenceStore) Local() *Presence {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.local.Clone()
}

// Current returns all peer presences, keyed by connection id
func (self *PresenceStore) Current() map[Id]*Presence {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	current := map[Id]*Presence{}
	for connectionId, presence := range self.remotes {
		current[connectionId] = presence.Clone()
	}
	return current
}

func (self *PresenceStore) ConnectionIds() []Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return maps.Keys(self.remotes)
}

func (self *PresenceStore) notify(connectionId Id, presence *Presence) {
	for _, callback := range self.callbacks.Get() {
		func() {
			defer recoverLog("[prs]callback")
			callback(connectionId, presence)
		}()
	}
}
