// Command isomux-dump reads an ISO-BMFF file and prints its box structure,
// including fragment (moof/traf/trun) and Common Encryption
// (tenc/saiz/saio/senc) boxes that the original mp4dump did not cover.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	mp4 "github.com/gomuxer/isomux"
)

// Format specifies the output format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// BoxNode is a box in the printed tree, independent of mp4.Box's typed
// union so JSON output stays flat and stable.
type BoxNode struct {
	Type     string         `json:"type"`
	Size     uint64         `json:"size"`
	Version  *uint8         `json:"version,omitempty"`
	Flags    *uint32        `json:"flags,omitempty"`
	Info     map[string]any `json:"info,omitempty"`
	DataLen  *int           `json:"dataLength,omitempty"`
	Children []BoxNode      `json:"children,omitempty"`
}

func main() {
	formatFlag := flag.String("format", "text", "output format: text (default), json")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [--format=text|json] <file.mp4>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	format := FormatText
	switch strings.ToLower(*formatFlag) {
	case "json":
		format = FormatJSON
	case "text":
		format = FormatText
	default:
		fmt.Fprintf(os.Stderr, "unknown format: %s\n", *formatFlag)
		os.Exit(1)
	}

	buf, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
		os.Exit(1)
	}

	var root []BoxNode
	ptr := 0
	for ptr < len(buf) {
		box, err := mp4.Decode(buf, ptr, len(buf))
		if err != nil {
			fmt.Fprintf(os.Stderr, "decode error at offset %d: %v\n", ptr, err)
			os.Exit(1)
		}
		root = append(root, buildNode(box))
		ptr += int(box.Size)
	}

	printTree(root, format)
}

func buildNode(box *mp4.Box) BoxNode {
	node := BoxNode{Type: box.Type.String(), Size: box.Size}
	if mp4.IsFullBox(box.Type) {
		v, f := box.Version, box.Flags
		node.Version = &v
		node.Flags = &f
	}
	node.Info = collectBoxInfo(box)

	for _, child := range box.Children {
		node.Children = append(node.Children, buildNode(child))
	}
	if box.Mdat != nil {
		n := len(box.Mdat.Buffer)
		node.DataLen = &n
	} else if box.Raw != nil {
		n := len(box.Raw)
		node.DataLen = &n
	}
	return node
}

func collectBoxInfo(box *mp4.Box) map[string]any {
	info := make(map[string]any)

	switch {
	case box.Ftyp != nil:
		info["brand"] = string(box.Ftyp.Brand[:])
		info["version"] = box.Ftyp.BrandVersion
		if len(box.Ftyp.CompatibleBrands) > 0 {
			compat := make([]string, len(box.Ftyp.CompatibleBrands))
			for i, c := range box.Ftyp.CompatibleBrands {
				compat[i] = string(c[:])
			}
			info["compatible"] = compat
		}

	case box.Mvhd != nil:
		info["timescale"] = box.Mvhd.TimeScale
		info["duration"] = box.Mvhd.Duration
		info["nextTrackId"] = box.Mvhd.NextTrackId

	case box.Tkhd != nil:
		info["trackId"] = box.Tkhd.TrackId
		info["duration"] = box.Tkhd.Duration
		info["width"] = box.Tkhd.TrackWidth >> 16
		info["height"] = box.Tkhd.TrackHeight >> 16

	case box.Mdhd != nil:
		info["timescale"] = box.Mdhd.TimeScale
		info["duration"] = box.Mdhd.Duration
		info["language"] = box.Mdhd.Language

	case box.Hdlr != nil:
		info["handlerType"] = string(box.Hdlr.HandlerType[:])
		info["name"] = box.Hdlr.Name

	case box.Stsd != nil:
		info["entries"] = len(box.Stsd.Entries)

	case box.Stsz != nil:
		info["entries"] = len(box.Stsz.Entries)
		if box.Stsz.SampleSize != 0 {
			info["sampleSize"] = box.Stsz.SampleSize
		}

	case box.Stco != nil:
		info["entries"] = len(box.Stco.Entries)

	case box.Co64 != nil:
		info["entries"] = len(box.Co64.Entries)

	case box.Stts != nil:
		info["entries"] = len(box.Stts.Entries)

	case box.Ctts != nil:
		info["entries"] = len(box.Ctts.Entries)

	case box.Stsc != nil:
		info["entries"] = len(box.Stsc.Entries)

	case box.Elst != nil:
		info["entries"] = len(box.Elst.Entries)

	case box.Mehd != nil:
		info["fragmentDuration"] = box.Mehd.FragmentDuration

	case box.Trex != nil:
		info["trackId"] = box.Trex.TrackId

	case box.Mfhd != nil:
		info["sequence"] = box.Mfhd.SequenceNumber

	case box.Tfhd != nil:
		info["trackId"] = box.Tfhd.TrackId
		if box.Tfhd.BaseDataOffset != nil {
			info["baseDataOffset"] = *box.Tfhd.BaseDataOffset
		}

	case box.Tfdt != nil:
		info["baseMediaDecodeTime"] = box.Tfdt.BaseMediaDecodeTime

	case box.Trun != nil:
		info["entries"] = len(box.Trun.Entries)
		if box.Flags&mp4.TrunDataOffsetPresent != 0 {
			info["dataOffset"] = box.Trun.DataOffset
		}

	case box.Sidx != nil:
		info["referenceId"] = box.Sidx.ReferenceID
		info["timescale"] = box.Sidx.Timescale
		info["entries"] = len(box.Sidx.References)
		info["earliestPresentationTime"] = box.Sidx.EarliestPresentationTime

	case box.Tfra != nil:
		info["trackId"] = box.Tfra.TrackID
		info["entries"] = len(box.Tfra.Entries)

	case box.Mfro != nil:
		info["size"] = box.Mfro.Size

	case box.Tenc != nil:
		info["ivSize"] = box.Tenc.DefaultPerSampleIVSize
		info["kid"] = fmt.Sprintf("%x", box.Tenc.DefaultKID)

	case box.Senc != nil:
		info["entries"] = len(box.Senc.Entries)

	case box.Saiz != nil:
		info["defaultSampleInfoSize"] = box.Saiz.DefaultSampleInfoSize
		if box.Saiz.DefaultSampleInfoSize == 0 {
			info["entries"] = len(box.Saiz.SampleInfoSizes)
		}

	case box.Saio != nil:
		info["entries"] = len(box.Saio.Offsets)

	case box.Visual != nil:
		info["width"] = box.Visual.Width
		info["height"] = box.Visual.Height
		info["compressor"] = box.Visual.CompressorName

	case box.Audio != nil:
		info["channelCount"] = box.Audio.ChannelCount
		info["sampleSize"] = box.Audio.SampleSize
		info["sampleRate"] = box.Audio.SampleRate >> 16

	case box.Esds != nil:
		info["codec"] = box.Esds.MimeCodec

	case box.AvcC != nil:
		info["codec"] = box.AvcC.MimeCodec

	case box.HvcC != nil:
		info["codec"] = box.HvcC.MimeCodec

	case box.Dac3 != nil:
		info["acmod"] = box.Dac3.Acmod
		info["bsid"] = box.Dac3.Bsid

	case box.Dec3 != nil:
		info["numIndSub"] = box.Dec3.NumIndSub
		info["dataRate"] = box.Dec3.DataRate

	case box.Mdat != nil:
		info["dataLength"] = len(box.Mdat.Buffer)

	default:
		if box.Children == nil && len(box.Raw) > 0 {
			info["dataLength"] = len(box.Raw)
		}
	}

	return info
}

func printTree(nodes []BoxNode, format Format) {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(nodes); err != nil {
			fmt.Fprintf(os.Stderr, "error encoding JSON: %v\n", err)
		}
	case FormatText:
		for _, node := range nodes {
			printNodeText(node, 0)
		}
	}
}

func printNodeText(node BoxNode, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Printf("%s[%s] size=%d", indent, node.Type, node.Size)

	if node.Version != nil {
		fmt.Printf(" v=%d", *node.Version)
	}
	if node.Flags != nil {
		fmt.Printf(" flags=0x%06x", *node.Flags)
	}
	for _, k := range sortedKeys(node.Info) {
		fmt.Printf(" %s=%v", k, node.Info[k])
	}
	if node.DataLen != nil {
		fmt.Printf(" dataLen=%d", *node.DataLen)
	}
	fmt.Println()

	for _, child := range node.Children {
		printNodeText(child, depth+1)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
