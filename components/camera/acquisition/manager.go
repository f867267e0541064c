package acquisition

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/camacq/logging"
)

// Manager owns the open cameras of a process, keyed by camera identifier. Each physical camera
// has at most one open Camera, and therefore one driver handle.
type Manager struct {
	mu      sync.Mutex
	cameras map[string]*Camera
	logger  logging.Logger
}

// NewManager returns an empty manager.
func NewManager(logger logging.Logger) *Manager {
	return &Manager{cameras: make(map[string]*Camera), logger: logger}
}

// Open creates a camera for id on top of driver. Opening an id that is already open is an error.
func (m *Manager) Open(id string, driver Driver, conf Config) (*Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cameras[id]; ok {
		return nil, errors.Errorf("camera %q is already open", id)
	}
	cam, err := NewCamera(id, driver, conf, m.logger.Sublogger("camera"))
	if err != nil {
		return nil, err
	}
	m.cameras[id] = cam
	m.logger.Debugw("camera opened", "camera_id", id)
	return cam, nil
}

// Get returns the open camera for id.
func (m *Manager) Get(id string) (*Camera, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cam, ok := m.cameras[id]
	return cam, ok
}

// IDs returns the identifiers of all open cameras in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := lo.Keys(m.cameras)
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// CloseCamera stops and closes the camera for id and forgets it.
func (m *Manager) CloseCamera(ctx context.Context, id string) error {
	m.mu.Lock()
	cam, ok := m.cameras[id]
	delete(m.cameras, id)
	m.mu.Unlock()

	if !ok {
		return errors.Errorf("camera %q is not open", id)
	}
	return cam.Close(ctx)
}

// Close closes every open camera and returns all errors encountered.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	cameras := m.cameras
	m.cameras = make(map[string]*Camera)
	m.mu.Unlock()

	var err error
	for _, id := range lo.Keys(cameras) {
		err = multierr.Combine(err, errors.Wrapf(cameras[id].Close(ctx), "closing camera %q", id))
	}
	return err
}
