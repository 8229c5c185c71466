package closer

import (
	"sync"

	"github.com/meverselabs/relayer/common/rlog"
)

// Closer is Closer inferface
type Closer interface {
	Close() error
}

// CloserFunc adapts a function to a Closer
type CloserFunc func() error

// Close calls f
func (f CloserFunc) Close() error {
	return f()
}

// Manager handles closers
// Closers are closed in the reverse order of Add
type Manager struct {
	sync.Mutex
	isClosed bool
	Names    []string
	Closers  []Closer
	wg       sync.WaitGroup
}

// NewManager returns a Manager
func NewManager() *Manager {
	cm := &Manager{
		Names:   []string{},
		Closers: []Closer{},
	}
	cm.wg.Add(1)
	return cm
}

// IsClosed returns it is closed or not
func (cm *Manager) IsClosed() bool {
	cm.Lock()
	defer cm.Unlock()

	return cm.isClosed
}

// RemoveAll removes all closers
func (cm *Manager) RemoveAll() {
	cm.Lock()
	defer cm.Unlock()

	cm.Names = []string{}
	cm.Closers = []Closer{}
}

// Add adds a closer with a name
func (cm *Manager) Add(Name string, c Closer) {
	cm.Lock()
	defer cm.Unlock()

	cm.Names = append(cm.Names, Name)
	cm.Closers = append(cm.Closers, c)
}

// CloseAll closers all closers and returns the first error
func (cm *Manager) CloseAll() error {
	cm.Lock()
	if cm.isClosed {
		cm.Unlock()
		return nil
	}
	cm.isClosed = true
	names := cm.Names
	closers := cm.Closers
	cm.Unlock()

	log := rlog.With("closer")
	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		log.Info().Str("name", names[i]).Msg("close")
		if err := closers[i].Close(); err != nil {
			log.Error().Err(err).Str("name", names[i]).Msg("close")
			if first == nil {
				first = err
			}
		}
	}
	cm.wg.Done()
	return first
}

// Wait waits close all
func (cm *Manager) Wait() {
	cm.wg.Wait()
}
