// Command sniffer captures roost traffic off a network device and prints
// the datagrams exchanged between clients and a server.
package main

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	flag "github.com/spf13/pflag"
)

var (
	device     = flag.StringP("device", "d", "en0", "Device on which to listen for packets")
	serverPort = flag.Uint16P("port", "p", 11000, "Port the roost server listens on")
	maxMessage = flag.Int("max-message-size", 16*1024*1024, "Largest message accepted before a stream is abandoned")
)

func main() {
	flag.Parse()

	if getDeviceIP() == "" {
		exit("invalid device: %s", *device)
	}

	handle, err := pcap.OpenLive(*device, math.MaxInt32, false, pcap.BlockForever)
	if err != nil {
		exit("error opening handle: %v", err)
	}
	defer handle.Close()
	if err := handle.SetBPFFilter(fmt.Sprintf("tcp and port %d", *serverPort)); err != nil {
		exit("error setting filter: %v", err)
	}

	w := bufio.NewWriter(os.Stdout)
	s := &sniffer{Writer: w, ServerPort: *serverPort, MaxMessageSize: *maxMessage}

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range packetSource.Packets() {
		tcp, ok := packet.TransportLayer().(*layers.TCP)
		if !ok || packet.NetworkLayer() == nil {
			continue
		}
		s.handlePacket(packet.NetworkLayer().NetworkFlow(), tcp)
		w.Flush()
	}
}

func exit(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

func getDeviceIP() string {
	devs, _ := pcap.FindAllDevs()
	for _, dev := range devs {
		if dev.Name == *device {
			for _, address := range dev.Addresses {
				return address.IP.String()
			}
		}
	}
	return ""
}
