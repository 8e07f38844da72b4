package debug

import (
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/roost/internal/datagrams"
)

var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// Direction of a datagram relative to the process logging it.
const (
	Inbound  = "<-"
	Outbound = "->"
)

// DumpDatagram renders d with its type name for packet logs.
func DumpDatagram(d datagrams.Datagram) string {
	return d.Type().String() + " " + strings.TrimSpace(dumper.Sdump(d))
}

// PrintDatagrams logs every datagram at debug level.
func PrintDatagrams(logger *logrus.Logger, serverName, direction, peer string, ds []datagrams.Datagram) {
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	for _, d := range ds {
		logger.Debugf("[%s] %s %s %s", serverName, direction, peer, DumpDatagram(d))
	}
}
