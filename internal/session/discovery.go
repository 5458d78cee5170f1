package session

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blelog/internal/device"
)

// GroupServices builds the service list from a flat discovery result.
// Services keep first-seen order, characteristics keep discovery order within
// their service, and a characteristic repeated within one service is kept once.
func GroupServices(raw []device.DiscoveredCharacteristic) []device.Service {
	grouped := orderedmap.New[string, *device.Service]()
	seen := make(map[[2]string]struct{}, len(raw))

	for _, r := range raw {
		svcKey := device.NormalizeUUID(r.Service)
		svc, ok := grouped.Get(svcKey)
		if !ok {
			svc = &device.Service{UUID: r.Service}
			grouped.Set(svcKey, svc)
		}

		charKey := [2]string{svcKey, device.NormalizeUUID(r.Characteristic)}
		if _, dup := seen[charKey]; dup {
			continue
		}
		seen[charKey] = struct{}{}

		svc.Characteristics = append(svc.Characteristics, device.Characteristic{
			UUID:           r.Characteristic,
			ServiceUUID:    svc.UUID,
			SupportsNotify: r.Properties.CanNotify(),
			SupportsRead:   r.Properties.Has(device.PropRead),
			SupportsWrite:  r.Properties.Has(device.PropWrite) || r.Properties.Has(device.PropWriteWithoutResponse),
		})
	}

	services := make([]device.Service, 0, grouped.Len())
	for pair := grouped.Oldest(); pair != nil; pair = pair.Next() {
		services = append(services, *pair.Value)
	}
	return services
}
