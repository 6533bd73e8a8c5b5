package events

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/cham"
)

// DefaultPrefix is used when Topics.Prefix is empty.
const DefaultPrefix = "chameleon"

// Topics builds the topic names events are published on.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// Status carries the retained online/offline state of the tool.
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// FPGA carries the retained state of one controller.
func (t Topics) FPGA(addr bus.BusAddress) string {
	return fmt.Sprintf("%s/fpga/%s", t.prefix(), addr)
}

// Unit carries the retained claim state of one unit in one id space.
func (t Topics) Unit(addr bus.BusAddress, index int, s cham.Space) string {
	return fmt.Sprintf("%s/fpga/%s/unit/%02d/%s", t.prefix(), addr, index, s)
}

// Refused carries probe refusals. Not retained.
func (t Topics) Refused() string {
	return t.prefix() + "/event/refused"
}
