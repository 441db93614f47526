package global

import (
	"github.com/solforge/netmon/internal/bus"
	"github.com/solforge/netmon/internal/instance"
)

type Instances struct {
	Events     *bus.Bus
	Monitoring instance.Monitoring
}
