// Package replay reads OSC trigger traffic back out of packet captures.
package replay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/bpf"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/internal/osc"
)

// ErrUnsupportedFormat is returned for inputs that are neither pcap nor pcapng.
var ErrUnsupportedFormat = errors.New("ttlbridge: unsupported capture format")

const pcapngMagic = 0x0A0D0D0A

// Filter selects which datagrams are decoded.
type Filter struct {
	Port    int    // UDP destination port, 0 accepts all
	Pattern string // trigger address, empty means core.DefaultPattern
}

// Record is one UDP datagram from the capture and what it decoded to.
type Record struct {
	core.Datagram
	Outcomes []osc.Outcome
	Err      error // payload was not valid OSC
}

// Triggers returns the valid trigger messages in the record.
func (r Record) Triggers() []core.TriggerMessage {
	var out []core.TriggerMessage
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o.Trigger)
		}
	}
	return out
}

// Summary counts what a scan saw.
type Summary struct {
	Packets   int `json:"packets"`
	Datagrams int `json:"datagrams"`
	Triggers  int `json:"triggers"`
	Invalid   int `json:"invalid"`
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Read decodes every matching datagram in r.
func Read(r io.Reader, f Filter) ([]Record, error) {
	var out []Record
	_, err := Scan(r, f, func(rec Record) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Scan streams matching datagrams in capture order to fn. A non-nil error
// from fn stops the scan and is returned.
func Scan(r io.Reader, f Filter, fn func(Record) error) (Summary, error) {
	var sum Summary
	if f.Pattern == "" {
		f.Pattern = core.DefaultPattern
	}

	src, err := openSource(r)
	if err != nil {
		return sum, err
	}

	var vm *bpf.VM
	if f.Port > 0 && src.LinkType() == layers.LinkTypeEthernet {
		if vm, err = newPortVM(f.Port); err != nil {
			return sum, err
		}
	}

	for {
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return sum, nil
		}
		if err != nil {
			return sum, fmt.Errorf("failed to read packet %d: %w", sum.Packets+1, err)
		}
		sum.Packets++

		if vm != nil {
			if n, err := vm.Run(data); err != nil || n == 0 {
				continue
			}
		}

		dg, ok := datagramOf(data, src.LinkType())
		if !ok || (f.Port > 0 && int(dg.Dst.Port()) != f.Port) {
			continue
		}
		dg.Timestamp = ci.Timestamp
		sum.Datagrams++

		rec := Record{Datagram: dg}
		rec.Outcomes, rec.Err = osc.Parse(dg.Data, f.Pattern)
		if rec.Err != nil {
			sum.Invalid++
		}
		for _, o := range rec.Outcomes {
			if o.Err == nil {
				sum.Triggers++
			} else {
				sum.Invalid++
			}
		}
		if err := fn(rec); err != nil {
			return sum, err
		}
	}
}

func openSource(r io.Reader) (packetSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return pr, nil
}

func datagramOf(data []byte, lt layers.LinkType) (core.Datagram, bool) {
	pkt := gopacket.NewPacket(data, lt, gopacket.DecodeOptions{Lazy: true})
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return core.Datagram{}, false
	}

	var srcIP, dstIP net.IP
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	case *layers.IPv6:
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	default:
		return core.Datagram{}, false
	}

	return core.Datagram{
		Data: bytes.Clone(udp.Payload),
		Src:  netip.AddrPortFrom(addrOf(srcIP), uint16(udp.SrcPort)),
		Dst:  netip.AddrPortFrom(addrOf(dstIP), uint16(udp.DstPort)),
	}, true
}

func addrOf(ip net.IP) netip.Addr {
	a, _ := netip.AddrFromSlice(ip)
	return a.Unmap()
}
