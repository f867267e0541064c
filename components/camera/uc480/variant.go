package uc480

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Delivery is how a library announces finished frames.
type Delivery int

const (
	// DeliveryPolling means the library is asked for finished frames (Poller).
	DeliveryPolling Delivery = iota
	// DeliveryCallback means the library signals finished frames (Notifier).
	DeliveryCallback
)

func (d Delivery) String() string {
	if d == DeliveryCallback {
		return "callback"
	}
	return "polling"
}

// Variant is one vendor build of the driver family.
type Variant struct {
	// Name is the backend name used in config files.
	Name     string
	Vendor   string
	Delivery Delivery
}

var (
	// ThorlabsUC480 is the Thorlabs build, polled for finished sequence buffers.
	ThorlabsUC480 = Variant{Name: "uc480", Vendor: "Thorlabs", Delivery: DeliveryPolling}
	// IDSuEye is the IDS build, which signals a frame event per finished buffer.
	IDSuEye = Variant{Name: "ueye", Vendor: "IDS", Delivery: DeliveryCallback}
)

var variants = map[string]Variant{
	ThorlabsUC480.Name: ThorlabsUC480,
	IDSuEye.Name:       IDSuEye,
}

// VariantByName looks up a variant by its config name, case insensitively.
func VariantByName(name string) (Variant, error) {
	v, ok := variants[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Variant{}, errors.Errorf("unknown camera backend %q (expected one of %s)",
			name, strings.Join(VariantNames(), ", "))
	}
	return v, nil
}

// VariantNames returns the config names of all variants, sorted.
func VariantNames() []string {
	names := lo.Keys(variants)
	sort.Strings(names)
	return names
}
