package board

import (
	"bytes"
	"sync"

	"github.com/golang/glog"
)

type HistorySettings struct {
	// bounded undo window. the oldest entries fall off.
	WindowSize int
}

func DefaultHistorySettings() *HistorySettings {
	return &HistorySettings{
		WindowSize: 64,
	}
}

// local undo/redo over committed document snapshots. strictly
// per-participant: undo restores a past snapshot into the shared
// document via Replace, so the reversal itself replicates as
// ordinary operations and peers converge to the reverted state.
type History struct {
	document *DocumentStore
	settings *HistorySettings

	mutex   sync.Mutex
	past    []*Snapshot
	present *Snapshot
	future  []*Snapshot
}

func NewHistoryWithDefaults(document *DocumentStore) *History {
	return NewHistory(document, DefaultHistorySettings())
}

func NewHistory(document *DocumentStore, settings *HistorySettings) *History {
	return &History{
		document: document,
		settings: settings,
		present:  document.Snapshot(),
	}
}

// Push records the document state after one logically grouped local
// edit (a completed drag, not each pointer move). a push that changes
// nothing is a no-op, so empty edits never pollute the stack. any
// redo future is invalidated.
func (self *History) Push() {
	snapshot := self.document.Snapshot()

	self.mutex.Lock()
	defer self.mutex.Unlock()

	if bytes.Equal(snapshot.Serialize(), self.present.Serialize()) {
		return
	}

	self.past = append(self.past, self.present)
	if self.settings.WindowSize < len(self.past) {
		self.past = self.past[len(self.past)-self.settings.WindowSize:]
	}
	self.present = snapshot
	self.future = nil
	glog.V(1).Infof("[hst]push past=%d\n", len(self.past))
}

func (self *History) Undo() *Snapshot {
	self.mutex.Lock()
	if len(self.past) == 0 {
		self.mutex.Unlock()
		return nil
	}
	snapshot := self.past[len(self.past)-1]
	self.past = self.past[:len(self.past)-1]
	self.future = append([]*Snapshot{self.present}, self.future...)
	self.present = snapshot
	self.mutex.Unlock()

	self.document.Replace(snapshot)
	return snapshot.Clone()
}

func (self *History) Redo() *Snapshot {
	self.mutex.Lock()
	if len(self.future) == 0 {
		self.mutex.Unlock()
		return nil
	}
	snapshot := self.future[0]
	self.future = self.future[1:]
	self.past = append(self.past, self.present)
	self.present = snapshot
	self.mutex.Unlock()

	self.document.Replace(snapshot)
	return snapshot.Clone()
}

func (self *History) CanUndo() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return 0 < len(self.past)
}

func (self *History) CanRedo() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return 0 < len(self.future)
}
