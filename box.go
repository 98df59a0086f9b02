// Package mp4 implements encoding and decoding of ISO Base Media File Format
// (ISO/IEC 14496-12) boxes, including the fragmented-file and Common
// Encryption extensions.
package mp4

// BoxType is a 4-byte box type identifier.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// Known box types.
var (
	TypeFtyp = BoxType{'f', 't', 'y', 'p'} // File type and compatibility
	TypeStyp = BoxType{'s', 't', 'y', 'p'} // Segment type (fragmented MP4)
)

// Movie structure boxes (moov and children).
var (
	TypeMoov = BoxType{'m', 'o', 'o', 'v'} // Movie metadata container
	TypeMvhd = BoxType{'m', 'v', 'h', 'd'} // Movie header (timescale, duration)
	TypeIods = BoxType{'i', 'o', 'd', 's'} // MPEG-4 initial object descriptor
	TypeTrak = BoxType{'t', 'r', 'a', 'k'} // Track container
	TypeTkhd = BoxType{'t', 'k', 'h', 'd'} // Track header (ID, dimensions)
	TypeTref = BoxType{'t', 'r', 'e', 'f'} // Track reference container
	TypeTrgr = BoxType{'t', 'r', 'g', 'r'} // Track grouping indication
	TypeEdts = BoxType{'e', 'd', 't', 's'} // Edit list container
	TypeElst = BoxType{'e', 'l', 's', 't'} // Edit list entries
	TypeMdia = BoxType{'m', 'd', 'i', 'a'} // Media information container
	TypeMdhd = BoxType{'m', 'd', 'h', 'd'} // Media header (timescale, duration)
	TypeHdlr = BoxType{'h', 'd', 'l', 'r'} // Handler reference (vide/soun)
	TypeElng = BoxType{'e', 'l', 'n', 'g'} // Extended language tag
	TypeMinf = BoxType{'m', 'i', 'n', 'f'} // Media information container
	TypeVmhd = BoxType{'v', 'm', 'h', 'd'} // Video media header
	TypeSmhd = BoxType{'s', 'm', 'h', 'd'} // Sound media header
	TypeHmhd = BoxType{'h', 'm', 'h', 'd'} // Hint media header
	TypeSthd = BoxType{'s', 't', 'h', 'd'} // Subtitle media header
	TypeNmhd = BoxType{'n', 'm', 'h', 'd'} // Null media header
	TypeDinf = BoxType{'d', 'i', 'n', 'f'} // Data information container
	TypeDref = BoxType{'d', 'r', 'e', 'f'} // Data reference (URL/URN entries)
)

// Sample table boxes (stbl children).
var (
	TypeStbl = BoxType{'s', 't', 'b', 'l'} // Sample table container
	TypeStsd = BoxType{'s', 't', 's', 'd'} // Sample descriptions (codec config)
	TypeStts = BoxType{'s', 't', 't', 's'} // Decoding time-to-sample
	TypeCtts = BoxType{'c', 't', 't', 's'} // Composition time-to-sample
	TypeCslg = BoxType{'c', 's', 'l', 'g'} // Composition to decode timeline mapping
	TypeStsc = BoxType{'s', 't', 's', 'c'} // Sample-to-chunk mapping
	TypeStsz = BoxType{'s', 't', 's', 'z'} // Sample sizes
	TypeStz2 = BoxType{'s', 't', 'z', '2'} // Compact sample sizes
	TypeStco = BoxType{'s', 't', 'c', 'o'} // Chunk offsets (32-bit)
	TypeCo64 = BoxType{'c', 'o', '6', '4'} // Chunk offsets (64-bit)
	TypeStss = BoxType{'s', 't', 's', 's'} // Sync sample table (keyframes)
	TypeStsh = BoxType{'s', 't', 's', 'h'} // Shadow sync sample table
	TypePadb = BoxType{'p', 'a', 'd', 'b'} // Padding bits
	TypeStdp = BoxType{'s', 't', 'd', 'p'} // Sample degradation priority
	TypeSdtp = BoxType{'s', 'd', 't', 'p'} // Sample dependency type
	TypeSbgp = BoxType{'s', 'b', 'g', 'p'} // Sample-to-group
	TypeSgpd = BoxType{'s', 'g', 'p', 'd'} // Sample group description
	TypeSubs = BoxType{'s', 'u', 'b', 's'} // Sub-sample information
	TypeSaiz = BoxType{'s', 'a', 'i', 'z'} // Sample auxiliary information sizes
	TypeSaio = BoxType{'s', 'a', 'i', 'o'} // Sample auxiliary information offsets
	TypeTrik = BoxType{'t', 'r', 'i', 'k'} // Trick-play sample info
)

// Fragment boxes (moof and children, mvex).
var (
	TypeMvex = BoxType{'m', 'v', 'e', 'x'} // Movie extends (signals fragmented file)
	TypeMehd = BoxType{'m', 'e', 'h', 'd'} // Movie extends header (fragment duration)
	TypeTrex = BoxType{'t', 'r', 'e', 'x'} // Track extends defaults
	TypeLeva = BoxType{'l', 'e', 'v', 'a'} // Level assignment
	TypeMoof = BoxType{'m', 'o', 'o', 'f'} // Movie fragment container
	TypeMfhd = BoxType{'m', 'f', 'h', 'd'} // Movie fragment header (sequence number)
	TypeTraf = BoxType{'t', 'r', 'a', 'f'} // Track fragment container
	TypeTfhd = BoxType{'t', 'f', 'h', 'd'} // Track fragment header
	TypeTfdt = BoxType{'t', 'f', 'd', 't'} // Track fragment decode time
	TypeTrun = BoxType{'t', 'r', 'u', 'n'} // Track run (per-sample metadata)
	TypeSidx = BoxType{'s', 'i', 'd', 'x'} // Segment index
	TypeEmsg = BoxType{'e', 'm', 's', 'g'} // Event message
	TypeMfra = BoxType{'m', 'f', 'r', 'a'} // Movie fragment random access container
	TypeTfra = BoxType{'t', 'f', 'r', 'a'} // Track fragment random access
	TypeMfro = BoxType{'m', 'f', 'r', 'o'} // Movie fragment random access offset
)

// Metadata boxes.
var (
	TypeMeta = BoxType{'m', 'e', 't', 'a'} // Metadata container
	TypeUdta = BoxType{'u', 'd', 't', 'a'} // User data container
	TypeIloc = BoxType{'i', 'l', 'o', 'c'} // Item location
	TypeIdat = BoxType{'i', 'd', 'a', 't'} // Item data
)

// Data boxes.
var (
	TypeMdat = BoxType{'m', 'd', 'a', 't'} // Media data payload
	TypeFree = BoxType{'f', 'r', 'e', 'e'} // Free space (can be skipped)
	TypeSkip = BoxType{'s', 'k', 'i', 'p'} // Free space (can be skipped)
	TypePdin = BoxType{'p', 'd', 'i', 'n'} // Progressive download information
	TypeBloc = BoxType{'b', 'l', 'o', 'c'} // Base location (3GP)
)

// Sample entry boxes (children of stsd).
var (
	TypeAvc1 = BoxType{'a', 'v', 'c', '1'} // AVC/H.264 visual sample entry
	TypeAvcC = BoxType{'a', 'v', 'c', 'C'} // AVC decoder configuration record
	TypeHev1 = BoxType{'h', 'e', 'v', '1'} // HEVC/H.265 visual sample entry
	TypeHvc1 = BoxType{'h', 'v', 'c', '1'} // HEVC/H.265 visual sample entry (non-parameter-set-inband)
	TypeHvcC = BoxType{'h', 'v', 'c', 'C'} // HEVC decoder configuration record
	TypeDvcC = BoxType{'d', 'v', 'c', 'C'} // Dolby Vision configuration (AVC base)
	TypeDvvC = BoxType{'d', 'v', 'v', 'C'} // Dolby Vision configuration (HEVC base)
	TypeBtrt = BoxType{'b', 't', 'r', 't'} // MPEG-4 bit rate
	TypePasp = BoxType{'p', 'a', 's', 'p'} // Pixel aspect ratio
	TypeColr = BoxType{'c', 'o', 'l', 'r'} // Colour information
	TypeMp4a = BoxType{'m', 'p', '4', 'a'} // MPEG-4 audio sample entry
	TypeEsds = BoxType{'e', 's', 'd', 's'} // ES descriptor
	TypeAc3  = BoxType{'a', 'c', '-', '3'} // AC-3 audio sample entry
	TypeDac3 = BoxType{'d', 'a', 'c', '3'} // AC-3 specific box
	TypeEc3  = BoxType{'e', 'c', '-', '3'} // E-AC-3 audio sample entry
	TypeDec3 = BoxType{'d', 'e', 'c', '3'} // E-AC-3 specific box
	TypeTx3g = BoxType{'t', 'x', '3', 'g'} // 3GPP timed text sample entry
	TypeStpp = BoxType{'s', 't', 'p', 'p'} // TTML subtitle sample entry
)

// Common Encryption boxes.
var (
	TypeEnca = BoxType{'e', 'n', 'c', 'a'} // Encrypted audio sample entry
	TypeEncv = BoxType{'e', 'n', 'c', 'v'} // Encrypted video sample entry
	TypeSinf = BoxType{'s', 'i', 'n', 'f'} // Protection scheme information
	TypeFrma = BoxType{'f', 'r', 'm', 'a'} // Original format
	TypeSchm = BoxType{'s', 'c', 'h', 'm'} // Scheme type
	TypeSchi = BoxType{'s', 'c', 'h', 'i'} // Scheme information
	TypeTenc = BoxType{'t', 'e', 'n', 'c'} // Track encryption
	TypeSenc = BoxType{'s', 'e', 'n', 'c'} // Sample encryption (per-sample IVs)
	TypeUUID = BoxType{'u', 'u', 'i', 'd'} // Extended-type box (PIFF)
)

// IsFullBox returns true if the box type has version and flags fields.
func IsFullBox(t BoxType) bool {
	switch t {
	case TypeMvhd, TypeTkhd, TypeMdhd, TypeHdlr,
		TypeVmhd, TypeSmhd, TypeHmhd, TypeNmhd,
		TypeDref, TypeStsd,
		TypeStts, TypeCtts, TypeStsc, TypeStsz, TypeStz2,
		TypeStco, TypeCo64, TypeStss, TypeElst,
		TypeMeta, TypeEsds, TypeMehd, TypeTrex,
		TypeMfhd, TypeTfhd, TypeTfdt, TypeTrun,
		TypeSbgp, TypeSgpd, TypeSaiz, TypeSaio,
		TypeCslg, TypeSdtp, TypeSidx, TypeEmsg,
		TypeTfra, TypeMfro, TypeSenc, TypeTenc,
		TypeSchm, TypeSubs, TypeLeva, TypeElng,
		TypeIloc:
		return true
	}
	return false
}

// IsContainerBox returns true if the box type is a container that holds child boxes.
func IsContainerBox(t BoxType) bool {
	switch t {
	case TypeMoov, TypeTrak, TypeEdts, TypeMdia,
		TypeMinf, TypeDinf, TypeStbl, TypeUdta,
		TypeMeta, TypeMvex, TypeMoof, TypeTraf,
		TypeTref, TypeTrgr, TypeMfra, TypeSinf, TypeSchi:
		return true
	}
	return false
}
