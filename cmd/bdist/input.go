package main

import (
	"fmt"
	"path/filepath"
	"strings"

	bdio "github.com/hed1ad/bdistml/pkg/io"
	"github.com/hed1ad/bdistml/pkg/io/csv"
	"github.com/hed1ad/bdistml/pkg/io/pcap"
)

const (
	formatAuto = "auto"
	formatCSV  = "csv"
	formatPcap = "pcap"
)

type inputFlags struct {
	path      string
	format    string
	noHeader  bool
	bpf       string
	maxPacket int
}

func openInput(f *inputFlags) (bdio.Reader, error) {
	if f.path == "" {
		return nil, fmt.Errorf("--input is required")
	}

	format := f.format
	if format == formatAuto {
		switch strings.ToLower(filepath.Ext(f.path)) {
		case ".pcap", ".pcapng", ".cap":
			format = formatPcap
		default:
			format = formatCSV
		}
	}

	switch format {
	case formatCSV:
		return csv.NewReader(f.path, csv.WithHeader(!f.noHeader))
	case formatPcap:
		return pcap.NewFileReader(f.path, pcap.WithFilter(f.bpf), pcap.WithLimit(f.maxPacket))
	default:
		return nil, fmt.Errorf("unknown input format %q", f.format)
	}
}
