// Command pingecho is a minimal demo integrator for the stack: it opens a
// Linux TAP or AF_PACKET device, drives a netstack.Stack off it, answers
// ICMP echo automatically via the stack's built-in responder, and serves a
// one-byte-at-a-time TCP echo on a configurable port. It exists to exercise
// the driver/tick/application integration points end to end, nothing else.
package main

import (
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/tinynet/stack/netstack"
	"github.com/tinynet/stack/netstack/devicetap"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var (
		iface    = flag.String("iface", "tap0", "TAP interface name to create, or existing interface when -bridge is set")
		bridge   = flag.Bool("bridge", false, "bind an AF_PACKET socket to -iface instead of creating a TAP device")
		localIP  = flag.String("ip", "192.168.10.2", "local IPv4 address")
		netmask  = flag.String("netmask", "255.255.255.0", "local IPv4 netmask")
		gateway  = flag.String("gateway", "192.168.10.1", "default gateway")
		hwaddr   = flag.String("mac", "c0:ff:ee:00:de:ad", "local MAC address")
		port     = flag.Uint("port", 7, "TCP port to echo on")
		tickRate = flag.Duration("tick", 10*time.Millisecond, "stack tick cadence")
	)
	flag.Parse()

	mac, err := net.ParseMAC(*hwaddr)
	if err != nil || len(mac) != 6 {
		return errors.New("pingecho: -mac must be a 6-byte hardware address")
	}
	var localMAC [6]byte
	copy(localMAC[:], mac)

	ip, ok := parseIPv4(*localIP)
	if !ok {
		return errors.New("pingecho: -ip must be an IPv4 address")
	}
	mask, ok := parseIPv4(*netmask)
	if !ok {
		return errors.New("pingecho: -netmask must be an IPv4 address")
	}
	gw, ok := parseIPv4(*gateway)
	if !ok {
		return errors.New("pingecho: -gateway must be an IPv4 address")
	}

	var dev interface {
		netstack.Device
		ReadFrame([]byte) (int, error)
		Run(*netstack.Stack) error
		Close() error
	}
	if *bridge {
		dev, err = devicetap.OpenBridge(*iface, localMAC)
	} else {
		dev, err = devicetap.OpenTAP(*iface, localMAC)
	}
	if err != nil {
		return err
	}
	defer dev.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	s, err := netstack.New(netstack.Config{
		LocalIP:  ip,
		LocalMAC: localMAC,
		Netmask:  mask,
		Gateway:  gw,
		Device:   dev,
		Log:      logger,
	})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(*tickRate)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			s.Tick()
		}
	}()

	if err := s.Announce(); err != nil {
		logger.Error("pingecho: announce", slog.String("err", err.Error()))
	}

	go echoLoop(s, uint16(*port), logger)

	logger.Info("pingecho: listening", slog.String("ip", *localIP), slog.Uint64("port", uint64(*port)))
	return dev.Run(s)
}

// echoLoop serves a single TCP echo socket forever: it listens, blocks
// reading the connection byte by byte and writing each one straight back,
// and re-listens once the peer disconnects or the socket times out.
func echoLoop(s *netstack.Stack, port uint16, log *slog.Logger) {
	h := s.ReserveTCP(port, make([]byte, 512), make([]byte, 512), make([]byte, 512))
	for {
		if err := s.ListenTCP(h); err != nil {
			log.Error("pingecho: listen", slog.String("err", err.Error()))
			return
		}
		for {
			b, ok := s.ReadByteTCP(h)
			if !ok {
				break
			}
			if !s.WriteByteTCP(h, b) {
				break
			}
		}
	}
}

func parseIPv4(s string) (ip [4]byte, ok bool) {
	addr := net.ParseIP(s)
	if addr == nil {
		return ip, false
	}
	addr4 := addr.To4()
	if addr4 == nil {
		return ip, false
	}
	copy(ip[:], addr4)
	return ip, true
}
