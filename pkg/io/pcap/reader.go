// Package pcap turns captured network traffic into feature vectors.
//
// Every packet becomes one vector of PacketFeatureNames, in capture order.
package pcap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/hed1ad/bdistml/internal/logging"
)

// PacketFeatureNames names the components of every extracted vector.
var PacketFeatureNames = []string{
	"packet_size",
	"inter_arrival_time",
	"protocol",
	"src_port",
	"dst_port",
	"tcp_flags",
	"ip_ttl",
	"payload_size",
}

// Reader reads packets from PCAP files or live interfaces.
type Reader struct {
	handle    *pcap.Handle
	extractor *Extractor
	filter    string
	limit     int
}

// Option configures a Reader.
type Option func(*Reader)

// WithFilter restricts the capture with a BPF expression.
func WithFilter(bpf string) Option {
	return func(r *Reader) {
		r.filter = bpf
	}
}

// WithLimit stops after n packets. Zero means no limit, which never ends
// for a live capture in Read.
func WithLimit(n int) Option {
	return func(r *Reader) {
		r.limit = n
	}
}

// NewFileReader creates a reader for PCAP files.
func NewFileReader(filename string, opts ...Option) (*Reader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	return newReader(handle, opts)
}

// NewLiveReader creates a reader for live packet capture.
func NewLiveReader(iface string, snaplen int32, promisc bool, timeout time.Duration, opts ...Option) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, timeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", iface, err)
	}
	return newReader(handle, opts)
}

func newReader(handle *pcap.Handle, opts []Option) (*Reader, error) {
	r := &Reader{
		handle:    handle,
		extractor: NewExtractor(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.filter != "" {
		if err := handle.SetBPFFilter(r.filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("set filter %q: %w", r.filter, err)
		}
	}
	return r, nil
}

// Read returns one feature vector per packet.
func (r *Reader) Read() ([][]float64, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	var data [][]float64
	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	for packet := range packetSource.Packets() {
		data = append(data, r.extractor.Extract(packet))
		if r.limit > 0 && len(data) >= r.limit {
			break
		}
	}

	return data, nil
}

// Stream returns a channel of feature vectors for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	out := make(chan []float64, 1000)
	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	logger := logging.FromContext(ctx)

	go func() {
		defer close(out)
		var sent int
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-packetSource.Packets():
				if !ok {
					logger.Debugf("capture ended after %d packets", sent)
					return
				}
				select {
				case out <- r.extractor.Extract(packet):
					sent++
				case <-ctx.Done():
					return
				}
				if r.limit > 0 && sent >= r.limit {
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.handle != nil {
		r.handle.Close()
	}
	return nil
}

// Extractor converts packets to feature vectors. It remembers the previous
// packet's timestamp, so one Extractor serves one ordered capture.
type Extractor struct {
	lastTimestamp time.Time
}

// NewExtractor creates a new packet feature extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract converts a packet to a feature vector laid out as
// PacketFeatureNames.
func (e *Extractor) Extract(packet gopacket.Packet) []float64 {
	features := make([]float64, len(PacketFeatureNames))

	features[0] = float64(len(packet.Data()))

	if md := packet.Metadata(); md != nil && !md.Timestamp.IsZero() {
		if !e.lastTimestamp.IsZero() {
			features[1] = md.Timestamp.Sub(e.lastTimestamp).Seconds()
		}
		e.lastTimestamp = md.Timestamp
	}

	switch {
	case packet.Layer(layers.LayerTypeTCP) != nil:
		tcp := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		features[2] = float64(layers.IPProtocolTCP)
		features[3] = float64(tcp.SrcPort)
		features[4] = float64(tcp.DstPort)
		features[5] = tcpFlags(tcp)
	case packet.Layer(layers.LayerTypeUDP) != nil:
		udp := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		features[2] = float64(layers.IPProtocolUDP)
		features[3] = float64(udp.SrcPort)
		features[4] = float64(udp.DstPort)
	case packet.Layer(layers.LayerTypeICMPv4) != nil:
		features[2] = float64(layers.IPProtocolICMPv4)
	}

	if ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		features[6] = float64(ip.TTL)
	} else if ip6, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		features[6] = float64(ip6.HopLimit)
	}

	if app := packet.ApplicationLayer(); app != nil {
		features[7] = float64(len(app.Payload()))
	}

	return features
}

// tcpFlags packs the TCP control bits into one number.
func tcpFlags(tcp *layers.TCP) float64 {
	var flags float64
	for i, set := range []bool{tcp.SYN, tcp.ACK, tcp.FIN, tcp.RST, tcp.PSH, tcp.URG} {
		if set {
			flags += float64(int(1) << i)
		}
	}
	return flags
}
