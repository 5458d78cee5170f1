package session

import (
	"github.com/srg/blelog/internal/device"
)

// Snapshot is an immutable copy of the machine's observable state.
type Snapshot struct {
	State           State
	Peripheral      device.Peripheral
	Services        []device.Service
	SelectedService string
	// Subscriptions lists characteristics with active notifications, in discovery order.
	Subscriptions []string
	LiveValues    map[string]float32
	// Headers is the frozen log column list, empty until logging starts.
	Headers []string
	LogPath string
}

// Subscribed reports whether a characteristic has an active subscription.
func (s Snapshot) Subscribed(characteristicUUID string) bool {
	for _, c := range s.Subscriptions {
		if device.SameUUID(c, characteristicUUID) {
			return true
		}
	}
	return false
}

// Value returns the latest decoded value of a characteristic.
func (s Snapshot) Value(characteristicUUID string) (float32, bool) {
	if v, ok := s.LiveValues[characteristicUUID]; ok {
		return v, true
	}
	for k, v := range s.LiveValues {
		if device.SameUUID(k, characteristicUUID) {
			return v, true
		}
	}
	return 0, false
}

// Snapshot returns the current observable state. Safe for concurrent use.
func (m *Machine) Snapshot() Snapshot {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.view
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	return m.Snapshot().State
}

// Changes signals after the snapshot changed. Signals coalesce; read Snapshot after each one.
func (m *Machine) Changes() <-chan struct{} {
	return m.changes
}

// publish rebuilds the view from loop-owned state.
func (m *Machine) publish() {
	view := Snapshot{State: m.state, Peripheral: m.target}
	if s := m.sess; s != nil {
		view.Services = cloneServices(s.services)
		view.SelectedService = s.selected
		for _, c := range s.activeCharacteristics() {
			view.Subscriptions = append(view.Subscriptions, c.UUID)
		}
		view.LiveValues = make(map[string]float32, len(s.live))
		for k, v := range s.live {
			view.LiveValues[k] = v
		}
		if s.rows != nil {
			view.Headers = s.rows.Headers()
		}
		view.LogPath = s.logPath
	}

	m.viewMu.Lock()
	m.view = view
	m.viewMu.Unlock()

	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func cloneServices(in []device.Service) []device.Service {
	if in == nil {
		return nil
	}
	out := make([]device.Service, len(in))
	for i, svc := range in {
		out[i] = device.Service{
			UUID:            svc.UUID,
			Characteristics: append([]device.Characteristic(nil), svc.Characteristics...),
		}
	}
	return out
}
